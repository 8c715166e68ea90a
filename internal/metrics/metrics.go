// Package metrics exposes live matchmaking counts and match outcomes to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campuslink/matchmaker/internal/models"
)

// Collector implements presence.Metrics on Prometheus collectors.
type Collector struct {
	users           *prometheus.GaugeVec
	matches         *prometheus.CounterVec
	refunds         *prometheus.CounterVec
	insufficient    *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec
	sessionDuration prometheus.Histogram
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		users: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "matchmaker_users",
			Help: "Live user counts by state (total, online, idle, on_call, queued).",
		}, []string{"state"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_matches_total",
			Help: "Sessions started, by tier.",
		}, []string{"tier"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_refunds_total",
			Help: "Debits refunded after a failed pairing, by tier.",
		}, []string{"tier"}),
		insufficient: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_insufficient_tokens_total",
			Help: "Pairings rejected because a side had no token, by requested tier.",
		}, []string{"tier"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaker_sessions_ended_total",
			Help: "Sessions torn down, by reason.",
		}, []string{"reason"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchmaker_session_duration_seconds",
			Help:    "Duration of finished sessions.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
	}

	reg.MustRegister(
		c.users,
		c.matches,
		c.refunds,
		c.insufficient,
		c.sessionsEnded,
		c.sessionDuration,
	)
	return c
}

// ObserveStats mirrors the aggregate snapshot into the users gauge.
func (c *Collector) ObserveStats(s models.AggregateStats) {
	c.users.WithLabelValues("total").Set(float64(s.TotalUsers))
	c.users.WithLabelValues("online").Set(float64(s.Online))
	c.users.WithLabelValues("idle").Set(float64(s.Idle))
	c.users.WithLabelValues("on_call").Set(float64(s.OnCall))
	c.users.WithLabelValues("queued").Set(float64(s.Queued))
}

// RecordMatch counts a started session.
func (c *Collector) RecordMatch(tier models.Tier) {
	c.matches.WithLabelValues(string(tier)).Inc()
}

// RecordRefund counts a refunded debit.
func (c *Collector) RecordRefund(tier models.Tier) {
	c.refunds.WithLabelValues(string(tier)).Inc()
}

// RecordInsufficientTokens counts a pairing rejected for lack of tokens.
func (c *Collector) RecordInsufficientTokens(tier models.Tier) {
	c.insufficient.WithLabelValues(string(tier)).Inc()
}

// RecordSessionEnded counts a teardown and observes its duration.
func (c *Collector) RecordSessionEnded(reason models.LeaveReason, seconds int64) {
	c.sessionsEnded.WithLabelValues(string(reason)).Inc()
	c.sessionDuration.Observe(float64(seconds))
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
