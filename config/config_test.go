package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "FREE_TRIAL_GRANT", "STATS_INTERVAL_SEC", "WS_EVENTS_PER_SEC", "WS_EVENT_BURST", "WORKER_IN_PROCESS", "WEBRTC_ICE_URLS", "REQUIRE_IDENTITY_TOKEN"} {
		t.Setenv(key, "")
	}
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Matchmaker.FreeTrialGrant)
	assert.Equal(t, 5*time.Second, cfg.Matchmaker.StatsInterval)
	assert.Equal(t, 20.0, cfg.Matchmaker.EventsPerSec)
	assert.Equal(t, 40, cfg.Matchmaker.EventBurst)
	assert.True(t, cfg.Worker.InProcess)
	assert.False(t, cfg.Matchmaker.RequireIdentityToken)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.ICEUrls)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FREE_TRIAL_GRANT", "3")
	t.Setenv("STATS_INTERVAL_SEC", "10")
	t.Setenv("WS_EVENTS_PER_SEC", "2.5")
	t.Setenv("WORKER_IN_PROCESS", "false")
	t.Setenv("WEBRTC_ICE_URLS", "stun:a:3478, turn:b:3478 ,")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("REQUIRE_IDENTITY_TOKEN", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Matchmaker.FreeTrialGrant)
	assert.Equal(t, 10*time.Second, cfg.Matchmaker.StatsInterval)
	assert.Equal(t, 2.5, cfg.Matchmaker.EventsPerSec)
	assert.False(t, cfg.Worker.InProcess)
	assert.True(t, cfg.Matchmaker.RequireIdentityToken)
	assert.Equal(t, []string{"stun:a:3478", "turn:b:3478"}, cfg.WebRTC.ICEUrls)
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("FREE_TRIAL_GRANT", "-1")
	t.Setenv("STATS_INTERVAL_SEC", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FREE_TRIAL_GRANT")
	assert.Contains(t, err.Error(), "STATS_INTERVAL_SEC")
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DSN())

	c.URL = "postgres://elsewhere/db"
	assert.Equal(t, "postgres://elsewhere/db", c.DSN())
}

func TestLoadAcceptsZeroFreeTrialGrant(t *testing.T) {
	t.Setenv("FREE_TRIAL_GRANT", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Matchmaker.FreeTrialGrant)
}
