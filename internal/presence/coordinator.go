// Package presence owns connected participants and drives matching, sessions and token accounting.
//
// All state lives on a single goroutine (Coordinator.Run). Public methods post events into its
// inbox, so a match, both debits and the room creation happen without interleaving other events.
// Store I/O runs on background goroutines that post their results back into the inbox.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/campuslink/matchmaker/internal/matchmaking"
	"github.com/campuslink/matchmaker/internal/models"
	"github.com/campuslink/matchmaker/internal/rooms"
	"github.com/campuslink/matchmaker/internal/tokens"
)

const (
	// DefaultStatsInterval is how often server_stats is pushed.
	DefaultStatsInterval = 5 * time.Second
	// storeTimeout bounds every background call to the profile store or recorder.
	storeTimeout = 5 * time.Second

	inboxSize = 1024

	msgInsufficientTokens = "Not enough tokens to start a chat"
	msgPartnerFailed      = "Partner failed to connect, searching again"
)

// ErrStopped is returned by request/response calls once the coordinator has stopped.
var ErrStopped = errors.New("presence coordinator stopped")

// Config tunes the coordinator.
type Config struct {
	// FreeTrials is granted to every new connection. Negative means
	// tokens.DefaultFreeTrials.
	FreeTrials    int
	StatsInterval time.Duration
}

// Dependencies are the external collaborators. Every field is optional.
type Dependencies struct {
	Store     ProfileStore
	Watcher   BalanceWatcher
	Recorder  StatsRecorder
	Publisher StatsPublisher
	Metrics   Metrics
	Logger    *zap.Logger
}

// JoinRequest carries the profile fields and preferences sent with join_queue.
type JoinRequest struct {
	Name    string         `json:"name"`
	Branch  string         `json:"branch"`
	Gender  string         `json:"gender"`
	Mode    models.Mode    `json:"mode"`
	Tier    models.Tier    `json:"tier"`
	Mood    string         `json:"mood,omitempty"`
	Hobbies []string       `json:"hobbies,omitempty"`
	Filters models.Filters `json:"filters"`
}

type connection struct {
	p         *models.Participant
	notify    Notifier
	watchedID string
	unwatch   func()
}

// Coordinator is the top-level orchestrator for connected participants.
type Coordinator struct {
	cfg  Config
	deps Dependencies
	log  *zap.Logger

	participants map[string]*connection
	queue        *matchmaking.Queue
	rooms        *rooms.Registry
	ledger       *tokens.Ledger
	totalUsers   int

	inbox   chan func()
	stopped chan struct{}
	bg      sync.WaitGroup
}

// NewCoordinator wires a queue, registry and ledger behind one event loop.
func NewCoordinator(cfg Config, deps Dependencies) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	c := &Coordinator{
		cfg:          cfg,
		deps:         deps,
		log:          deps.Logger,
		participants: make(map[string]*connection),
		queue:        matchmaking.NewQueue(),
		ledger:       tokens.NewLedger(cfg.FreeTrials),
		inbox:        make(chan func(), inboxSize),
		stopped:      make(chan struct{}),
	}
	c.rooms = rooms.NewRegistry(c.roomNotifier, deps.Logger)
	return c
}

// Run processes events until ctx is done. It must be called exactly once.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StatsInterval)
	defer func() {
		ticker.Stop()
		close(c.stopped)
		c.bg.Wait()
	}()

	c.refreshTotalUsers()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("presence coordinator stopping")
			return
		case fn := <-c.inbox:
			fn()
		case <-ticker.C:
			c.pushStats()
		}
	}
}

func (c *Coordinator) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.stopped:
	}
}

// background runs fn off the loop with a bounded context. The context is not
// tied to Run's, so writes already in flight at shutdown still complete.
func (c *Coordinator) background(fn func(ctx context.Context)) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Connect registers a new connection and primes its balance.
func (c *Coordinator) Connect(connID string, notify Notifier) {
	c.post(func() { c.handleConnect(connID, notify) })
}

// Login attaches a stable identity to the connection.
func (c *Coordinator) Login(connID, stableID string) {
	c.post(func() { c.handleLogin(connID, stableID) })
}

// JoinQueue updates the participant from req and tries to pair it.
func (c *Coordinator) JoinQueue(connID string, req JoinRequest) {
	c.post(func() { c.handleJoin(connID, req) })
}

// LeaveQueue removes the participant from matching; it stays connected.
func (c *Coordinator) LeaveQueue(connID string) {
	c.post(func() { c.queue.Remove(connID) })
}

// StopCall ends the participant's session.
func (c *Coordinator) StopCall(connID string) {
	c.post(func() { c.endSession(connID, models.ReasonStop) })
}

// Skip ends the participant's session. The token spent on it is not refunded.
func (c *Coordinator) Skip(connID string) {
	c.post(func() { c.endSession(connID, models.ReasonSkip) })
}

// GetTokenBalance pushes the current balance to the participant.
func (c *Coordinator) GetTokenBalance(connID string) {
	c.post(func() { c.handleGetBalance(connID) })
}

// AddTokens credits paid tokens locally.
func (c *Coordinator) AddTokens(connID string, tier models.Tier, amount int) {
	c.post(func() { c.handleAddTokens(connID, tier, amount) })
}

// Relay forwards a signaling or chat payload to the other side of roomID.
func (c *Coordinator) Relay(connID, event, roomID string, payload json.RawMessage) {
	c.post(func() { c.handleRelay(connID, event, roomID, payload) })
}

// Disconnect tears down everything the connection owns.
func (c *Coordinator) Disconnect(connID string) {
	c.post(func() { c.handleDisconnect(connID) })
}

func (c *Coordinator) handleConnect(connID string, notify Notifier) {
	c.participants[connID] = &connection{
		p:      &models.Participant{ConnID: connID, Mode: models.ModeVideo},
		notify: notify,
	}
	c.ledger.Initialize(connID)
	notify.TokenBalanceUpdate(c.ledger.Balance(connID))
	c.log.Debug("participant connected", zap.String("conn_id", connID))
}

func (c *Coordinator) handleLogin(connID, stableID string) {
	conn := c.participants[connID]
	if conn == nil || stableID == "" {
		return
	}
	conn.p.StableID = stableID
	c.log.Info("participant logged in", zap.String("conn_id", connID), zap.String("stable_id", stableID))

	if conn.watchedID != stableID {
		c.unwatch(conn)
		conn.watchedID = stableID
		c.watchBalance(connID, stableID)
	}
	c.primeBalance(connID, stableID)
}

func (c *Coordinator) primeBalance(connID, stableID string) {
	store := c.deps.Store
	if store == nil {
		return
	}
	c.background(func(ctx context.Context) {
		snapshot, err := store.GetTokenBalance(ctx, stableID)
		if err != nil {
			c.log.Warn("load token balance", zap.String("stable_id", stableID), zap.Error(err))
			return
		}
		if snapshot == nil {
			return
		}
		c.post(func() {
			conn := c.participants[connID]
			if conn == nil || conn.p.StableID != stableID {
				return
			}
			c.ledger.SetBalance(connID, *snapshot)
			conn.notify.TokenBalanceUpdate(c.ledger.Balance(connID))
		})
	})
}

func (c *Coordinator) watchBalance(connID, stableID string) {
	watcher := c.deps.Watcher
	if watcher == nil {
		return
	}
	handler := func(change models.BalanceChange) {
		c.post(func() { c.applyBalanceChange(connID, stableID, change) })
	}
	c.background(func(context.Context) {
		cancel, err := watcher.WatchBalance(stableID, handler)
		if err != nil {
			c.log.Warn("watch token balance", zap.String("stable_id", stableID), zap.Error(err))
			return
		}
		c.post(func() {
			conn := c.participants[connID]
			if conn == nil || conn.watchedID != stableID || conn.unwatch != nil {
				cancel()
				return
			}
			conn.unwatch = cancel
		})
	})
}

func (c *Coordinator) unwatch(conn *connection) {
	if conn.unwatch != nil {
		conn.unwatch()
	}
	conn.unwatch = nil
	conn.watchedID = ""
}

func (c *Coordinator) applyBalanceChange(connID, stableID string, change models.BalanceChange) {
	conn := c.participants[connID]
	if conn == nil || conn.p.StableID != stableID {
		return
	}
	c.ledger.SetBalance(connID, change.Balance)
	if change.Amount > 0 {
		conn.notify.PurchaseSuccess(change.Tier, change.Amount)
	}
	conn.notify.TokenBalanceUpdate(c.ledger.Balance(connID))
}

func (c *Coordinator) handleJoin(connID string, req JoinRequest) {
	conn := c.participants[connID]
	if conn == nil {
		return
	}
	if c.rooms.FindByParticipant(connID) != nil {
		c.endSession(connID, models.ReasonSkip)
	}

	p := conn.p
	p.Name = req.Name
	p.Branch = req.Branch
	p.Gender = req.Gender
	p.Mode = req.Mode
	if p.Mode != models.ModeText {
		p.Mode = models.ModeVideo
	}
	p.Tier = models.ParseTier(string(req.Tier))
	p.Mood = req.Mood
	p.Hobbies = append([]string(nil), req.Hobbies...)
	p.Filters = req.Filters

	c.match(p)
}

// match enqueues p or pairs it. Both sides are debited before the room exists; when either
// side cannot pay, the side that could is refunded and searches again from the queue position
// it held, so a waiting partner keeps its place.
func (c *Coordinator) match(p *models.Participant) {
	type searcher struct {
		p        *models.Participant
		position int // -1 appends
	}
	pending := []searcher{{p: p, position: -1}}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		curTier := cur.p.EffectiveTier()
		partner, idx := c.queue.MatchOrInsert(cur.p, curTier, cur.position)
		if partner == nil {
			c.log.Debug("participant queued", zap.String("conn_id", cur.p.ConnID), zap.String("tier", string(curTier)))
			continue
		}
		partnerTier := partner.EffectiveTier()

		curDebit, curOK := c.ledger.Debit(cur.p.ConnID, curTier)
		partnerDebit, partnerOK := c.ledger.Debit(partner.ConnID, partnerTier)
		if curOK && partnerOK {
			c.startSession(cur.p, partner, curDebit, partnerDebit)
			continue
		}

		if curOK {
			c.ledger.Refund(cur.p.ConnID, curDebit.Tier, curDebit.FreeTrial)
			c.deps.Metrics.RecordRefund(curDebit.Tier)
		}
		if partnerOK {
			c.ledger.Refund(partner.ConnID, partnerDebit.Tier, partnerDebit.FreeTrial)
			c.deps.Metrics.RecordRefund(partnerDebit.Tier)
		}

		// The failed partner left the queue at idx, shifting later entries forward by one.
		curPos := cur.position
		if curPos > idx {
			curPos--
		}
		for _, side := range []struct {
			s    searcher
			tier models.Tier
			ok   bool
		}{{searcher{cur.p, curPos}, curTier, curOK}, {searcher{partner, idx}, partnerTier, partnerOK}} {
			conn := c.participants[side.s.p.ConnID]
			if !side.ok {
				c.deps.Metrics.RecordInsufficientTokens(side.tier)
				if conn != nil {
					conn.notify.InsufficientTokens(msgInsufficientTokens, c.ledger.Balance(side.s.p.ConnID))
				}
				continue
			}
			if conn != nil {
				conn.notify.MatchError(msgPartnerFailed)
				pending = append(pending, side.s)
			}
		}
	}
}

func (c *Coordinator) startSession(a, b *models.Participant, debitA, debitB tokens.Debit) {
	c.rooms.Create(a, b)
	c.deps.Metrics.RecordMatch(debitA.Tier)

	for _, side := range []struct {
		p *models.Participant
		d tokens.Debit
	}{{a, debitA}, {b, debitB}} {
		if conn := c.participants[side.p.ConnID]; conn != nil {
			conn.notify.TokenBalanceUpdate(c.ledger.Balance(side.p.ConnID))
		}
		if side.p.IsGuest() {
			continue
		}
		c.recordTokenUsage(models.TokenUsage{
			StableID:  side.p.StableID,
			Tier:      side.d.Tier,
			FreeTrial: side.d.FreeTrial,
		})
	}
}

// endSession tears down connID's room, if any, and persists call stats for identified sides.
func (c *Coordinator) endSession(connID string, reason models.LeaveReason) {
	ended, ok := c.rooms.Teardown(connID, reason)
	if !ok {
		return
	}
	seconds := ended.Seconds()
	c.deps.Metrics.RecordSessionEnded(reason, seconds)
	if seconds <= 0 {
		return
	}
	now := time.Now()
	for _, pair := range [][2]*models.Participant{{ended.A, ended.B}, {ended.B, ended.A}} {
		self, partner := pair[0], pair[1]
		if self.IsGuest() {
			continue
		}
		c.recordCall(models.CallRecord{
			StableID:        self.StableID,
			DurationSeconds: seconds,
			Partner: models.PartnerTraits{
				Branch:  partner.Branch,
				Gender:  partner.Gender,
				Mood:    partner.Mood,
				Hobbies: append([]string(nil), partner.Hobbies...),
			},
			EndedAt: now,
		})
	}
}

func (c *Coordinator) recordCall(rec models.CallRecord) {
	recorder := c.deps.Recorder
	if recorder == nil {
		return
	}
	c.background(func(ctx context.Context) {
		if err := recorder.RecordCall(ctx, rec); err != nil {
			c.log.Error("record call stats", zap.String("stable_id", rec.StableID), zap.Error(err))
		}
	})
}

func (c *Coordinator) recordTokenUsage(usage models.TokenUsage) {
	recorder := c.deps.Recorder
	if recorder == nil {
		return
	}
	c.background(func(ctx context.Context) {
		if err := recorder.RecordTokenUsage(ctx, usage); err != nil {
			c.log.Error("record token usage", zap.String("stable_id", usage.StableID), zap.Error(err))
		}
	})
}

func (c *Coordinator) handleGetBalance(connID string) {
	if conn := c.participants[connID]; conn != nil {
		conn.notify.TokenBalanceUpdate(c.ledger.Balance(connID))
	}
}

func (c *Coordinator) handleAddTokens(connID string, tier models.Tier, amount int) {
	conn := c.participants[connID]
	if conn == nil {
		return
	}
	if err := c.ledger.Credit(connID, tier, amount); err != nil {
		c.log.Warn("add tokens rejected",
			zap.String("conn_id", connID),
			zap.String("tier", string(tier)),
			zap.Int("amount", amount),
			zap.Error(err),
		)
		return
	}
	conn.notify.PurchaseSuccess(tier, amount)
	conn.notify.TokenBalanceUpdate(c.ledger.Balance(connID))
}

func (c *Coordinator) handleRelay(connID, event, roomID string, payload json.RawMessage) {
	room, ok := c.rooms.Get(roomID)
	if !ok || !room.Has(connID) {
		c.log.Debug("relay dropped", zap.String("conn_id", connID), zap.String("room_id", roomID), zap.String("event", event))
		return
	}
	if conn := c.participants[room.Other(connID).ConnID]; conn != nil {
		conn.notify.Relay(event, roomID, payload)
	}
}

func (c *Coordinator) handleDisconnect(connID string) {
	conn := c.participants[connID]
	c.endSession(connID, models.ReasonDisconnect)
	c.queue.Remove(connID)
	if conn != nil {
		c.unwatch(conn)
	}
	c.ledger.Forget(connID)
	delete(c.participants, connID)
	c.log.Debug("participant disconnected", zap.String("conn_id", connID))
}

func (c *Coordinator) roomNotifier(connID string) rooms.Notifier {
	if conn := c.participants[connID]; conn != nil && conn.notify != nil {
		return conn.notify
	}
	return nil
}
