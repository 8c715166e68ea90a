package presence

import (
	"context"
	"encoding/json"

	"github.com/campuslink/matchmaker/internal/models"
	"github.com/campuslink/matchmaker/internal/rooms"
)

// Notifier is the output channel of one connection.
type Notifier interface {
	rooms.Notifier
	TokenBalanceUpdate(balance models.TokenBalance)
	InsufficientTokens(message string, balance models.TokenBalance)
	MatchError(message string)
	PurchaseSuccess(tier models.Tier, amount int)
	Relay(event, roomID string, payload json.RawMessage)
}

// ProfileStore reads the authoritative identity store.
type ProfileStore interface {
	// GetTokenBalance returns nil without error when the identity has no stored balance.
	GetTokenBalance(ctx context.Context, stableID string) (*models.TokenBalance, error)
	CountProfiles(ctx context.Context) (int, error)
}

// BalanceWatcher subscribes to out-of-band balance changes of one identity.
type BalanceWatcher interface {
	WatchBalance(stableID string, handler func(models.BalanceChange)) (cancel func(), err error)
}

// StatsRecorder persists call outcomes and token usage. Calls are made off the event loop.
type StatsRecorder interface {
	RecordCall(ctx context.Context, rec models.CallRecord) error
	RecordTokenUsage(ctx context.Context, usage models.TokenUsage) error
}

// StatsPublisher fans the periodic snapshot out to clients and operators.
type StatsPublisher interface {
	PublishStats(stats models.AggregateStats)
}

// Metrics counts match outcomes and mirrors the live snapshot.
type Metrics interface {
	ObserveStats(stats models.AggregateStats)
	RecordMatch(tier models.Tier)
	RecordRefund(tier models.Tier)
	RecordInsufficientTokens(tier models.Tier)
	RecordSessionEnded(reason models.LeaveReason, seconds int64)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStats(models.AggregateStats) {}
func (nopMetrics) RecordMatch(models.Tier) {}
func (nopMetrics) RecordRefund(models.Tier) {}
func (nopMetrics) RecordInsufficientTokens(models.Tier) {}
func (nopMetrics) RecordSessionEnded(models.LeaveReason, int64) {}
