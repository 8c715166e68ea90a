// Package tokens keeps the per-connection token balances used to gate matches.
package tokens

import (
	"errors"

	"github.com/campuslink/matchmaker/internal/models"
)

// DefaultFreeTrials is the trial grant of a connection seen for the first time.
const DefaultFreeTrials = 5

var (
	ErrUnknownTier   = errors.New("unknown token type")
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Debit records which unit a successful debit consumed so Refund can restore it.
type Debit struct {
	Tier      models.Tier
	FreeTrial bool
}

// Ledger is the in-memory balance cache keyed by connection id.
// Not safe for concurrent use; the presence coordinator owns it.
type Ledger struct {
	balances   map[string]*models.TokenBalance
	freeTrials int
}

// NewLedger creates a ledger that grants freeTrials to new connections.
// Zero is a real grant; a negative grant falls back to DefaultFreeTrials.
func NewLedger(freeTrials int) *Ledger {
	if freeTrials < 0 {
		freeTrials = DefaultFreeTrials
	}
	return &Ledger{
		balances:   make(map[string]*models.TokenBalance),
		freeTrials: freeTrials,
	}
}

// Initialize seeds connID with the trial grant if it has no balance yet.
func (l *Ledger) Initialize(connID string) {
	l.get(connID)
}

// Balance returns a copy of connID's balance, initializing it if needed.
func (l *Ledger) Balance(connID string) models.TokenBalance {
	return *l.get(connID)
}

// HasAvailable reports whether connID can pay for one match in tier.
func (l *Ledger) HasAvailable(connID string, tier models.Tier) bool {
	b := l.get(connID)
	switch tier {
	case models.TierRegular:
		return b.FreeTrials > 0 || b.RegularTokens > 0
	case models.TierGolden:
		return b.GoldenTokens > 0
	default:
		return false
	}
}

// Debit consumes one unit for tier, free trials before paid regular tokens.
// Returns false and leaves the balance untouched when nothing is available.
func (l *Ledger) Debit(connID string, tier models.Tier) (Debit, bool) {
	if !l.HasAvailable(connID, tier) {
		return Debit{}, false
	}
	b := l.get(connID)
	d := Debit{Tier: tier}
	switch {
	case tier == models.TierGolden:
		b.GoldenTokens--
	case b.FreeTrials > 0:
		b.FreeTrials--
		d.FreeTrial = true
	default:
		b.RegularTokens--
	}
	b.TotalChatsUsed++
	return d, true
}

// Refund reverses a Debit exactly: the same unit type comes back and the usage counter drops.
func (l *Ledger) Refund(connID string, tier models.Tier, wasFreeTrial bool) {
	b := l.get(connID)
	switch {
	case tier == models.TierGolden:
		b.GoldenTokens++
	case wasFreeTrial:
		b.FreeTrials++
	default:
		b.RegularTokens++
	}
	if b.TotalChatsUsed > 0 {
		b.TotalChatsUsed--
	}
}

// SetBalance overwrites connID's balance with an authoritative snapshot.
func (l *Ledger) SetBalance(connID string, snapshot models.TokenBalance) {
	snapshot.FreeTrials = max(snapshot.FreeTrials, 0)
	snapshot.RegularTokens = max(snapshot.RegularTokens, 0)
	snapshot.GoldenTokens = max(snapshot.GoldenTokens, 0)
	snapshot.TotalChatsUsed = max(snapshot.TotalChatsUsed, 0)
	l.balances[connID] = &snapshot
}

// Credit adds amount paid tokens of tier to connID.
func (l *Ledger) Credit(connID string, tier models.Tier, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	b := l.get(connID)
	switch tier {
	case models.TierRegular:
		b.RegularTokens += amount
	case models.TierGolden:
		b.GoldenTokens += amount
	default:
		return ErrUnknownTier
	}
	return nil
}

// Forget drops connID's balance when its connection ends.
func (l *Ledger) Forget(connID string) {
	delete(l.balances, connID)
}

func (l *Ledger) get(connID string) *models.TokenBalance {
	b, ok := l.balances[connID]
	if !ok {
		b = &models.TokenBalance{FreeTrials: l.freeTrials}
		l.balances[connID] = b
	}
	return b
}
