package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslink/matchmaker/internal/models"
)

func TestKey(t *testing.T) {
	key, err := Key(JobTypeCallStats)
	require.NoError(t, err)
	assert.Equal(t, QueueCallStats, key)

	key, err = Key(JobTypeTokenUsage)
	require.NoError(t, err)
	assert.Equal(t, QueueTokenUsage, key)

	_, err = Key("email")
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestNewJobAndDecode(t *testing.T) {
	usage := models.TokenUsage{StableID: "u1", Tier: models.TierGolden}
	job, err := NewJob(JobTypeTokenUsage, usage)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Zero(t, job.Attempt)

	raw, err := json.Marshal(job)
	require.NoError(t, err)

	decoded, err := Decode(string(raw))
	require.NoError(t, err)
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, JobTypeTokenUsage, decoded.Type)

	var got models.TokenUsage
	require.NoError(t, json.Unmarshal(decoded.Payload, &got))
	assert.Equal(t, usage, got)
}

func TestDecodeRejectsBadEntries(t *testing.T) {
	_, err := Decode("not json")
	assert.Error(t, err)

	_, err = Decode(`{"id":"1","type":"recording_upload","payload":{}}`)
	assert.ErrorIs(t, err, ErrUnknownJobType)
}
