// Package rooms tracks active two-party sessions.
package rooms

import (
	"time"

	"go.uber.org/zap"

	"github.com/campuslink/matchmaker/internal/models"
)

// Notifier receives session lifecycle events for one participant.
type Notifier interface {
	MatchFound(partner models.PartnerInfo, roomID string, isInitiator bool)
	PartnerDisconnected(reason models.LeaveReason)
}

// Resolver returns the notifier of a connection, or nil when it has none.
type Resolver func(connID string) Notifier

// Room is an active pairing. A is the side that completed the match and initiates signaling.
type Room struct {
	ID        string
	A         *models.Participant
	B         *models.Participant
	StartedAt time.Time
}

// Has reports whether connID is one of the two sides.
func (r *Room) Has(connID string) bool {
	return r.A.ConnID == connID || r.B.ConnID == connID
}

// Other returns the side that is not connID.
func (r *Room) Other(connID string) *models.Participant {
	if r.A.ConnID == connID {
		return r.B
	}
	return r.A
}

// Ended describes a torn-down room.
type Ended struct {
	RoomID   string
	Duration time.Duration
	A        *models.Participant
	B        *models.Participant
	Reason   models.LeaveReason
	LeftBy   string
}

// Seconds returns the duration in whole seconds.
func (e *Ended) Seconds() int64 {
	return int64(e.Duration / time.Second)
}

// Registry owns the active rooms. Not safe for concurrent use; the presence coordinator owns it.
type Registry struct {
	rooms   map[string]*Room
	resolve Resolver
	now     func() time.Time
	logger  *zap.Logger
}

// NewRegistry creates an empty registry. resolve may be nil when nobody needs notifying.
func NewRegistry(resolve Resolver, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:   make(map[string]*Room),
		resolve: resolve,
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock replaces the time source used for start times and durations.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// RoomID derives the room identifier from both connection ids.
func RoomID(a, b string) string {
	return a + ":" + b
}

// Create stores a room for a and b and notifies both. a is the initiator.
func (r *Registry) Create(a, b *models.Participant) *Room {
	room := &Room{
		ID:        RoomID(a.ConnID, b.ConnID),
		A:         a,
		B:         b,
		StartedAt: r.now(),
	}
	r.rooms[room.ID] = room

	if n := r.notifier(a.ConnID); n != nil {
		n.MatchFound(b.Public(), room.ID, true)
	}
	if n := r.notifier(b.ConnID); n != nil {
		n.MatchFound(a.Public(), room.ID, false)
	}
	r.logger.Info("room created", zap.String("room_id", room.ID))
	return room
}

// Teardown ends the room containing connID and tells the other side why.
// Returns false when connID is in no room.
func (r *Registry) Teardown(connID string, reason models.LeaveReason) (*Ended, bool) {
	room := r.FindByParticipant(connID)
	if room == nil {
		return nil, false
	}
	delete(r.rooms, room.ID)

	ended := &Ended{
		RoomID:   room.ID,
		Duration: r.now().Sub(room.StartedAt),
		A:        room.A,
		B:        room.B,
		Reason:   reason,
		LeftBy:   connID,
	}
	if ended.Duration < 0 {
		ended.Duration = 0
	}
	if n := r.notifier(room.Other(connID).ConnID); n != nil {
		n.PartnerDisconnected(reason)
	}
	r.logger.Info("room closed",
		zap.String("room_id", room.ID),
		zap.String("reason", string(reason)),
		zap.Duration("duration", ended.Duration),
	)
	return ended, true
}

// Get returns the room with the given id.
func (r *Registry) Get(roomID string) (*Room, bool) {
	room, ok := r.rooms[roomID]
	return room, ok
}

// FindByParticipant scans for the room containing connID.
func (r *Registry) FindByParticipant(connID string) *Room {
	for _, room := range r.rooms {
		if room.Has(connID) {
			return room
		}
	}
	return nil
}

// ActiveCount returns the number of rooms.
func (r *Registry) ActiveCount() int {
	return len(r.rooms)
}

func (r *Registry) notifier(connID string) Notifier {
	if r.resolve == nil {
		return nil
	}
	return r.resolve(connID)
}
