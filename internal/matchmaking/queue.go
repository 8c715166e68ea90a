// Package matchmaking holds waiting participants and pairs compatible ones.
package matchmaking

import (
	"github.com/campuslink/matchmaker/internal/models"
)

// Lengths reports the number of waiting participants per queue and in total.
type Lengths struct {
	ByQueue map[string]int `json:"by_queue"`
	Total   int            `json:"total"`
}

// Queue holds waiting participants partitioned by tier and mode.
// Not safe for concurrent use; the presence coordinator owns it.
type Queue struct {
	queues map[models.Tier]map[models.Mode][]*models.Participant
}

// NewQueue creates empty regular and golden queues with text and video sub-queues.
func NewQueue() *Queue {
	q := &Queue{queues: make(map[models.Tier]map[models.Mode][]*models.Participant)}
	for _, tier := range []models.Tier{models.TierRegular, models.TierGolden} {
		q.queues[tier] = map[models.Mode][]*models.Participant{
			models.ModeText:  nil,
			models.ModeVideo: nil,
		}
	}
	return q
}

// EnqueueOrMatch scans the tier's queue in insertion order for the first participant compatible
// with p. A match is removed from the queue and returned; otherwise p is appended and nil returned.
//
// Every tier inserts into the video sub-queue regardless of p.Mode, so text and video
// participants share one pool per tier.
func (q *Queue) EnqueueOrMatch(p *models.Participant, tier models.Tier) *models.Participant {
	match, _ := q.MatchOrInsert(p, tier, -1)
	return match
}

// MatchOrInsert is EnqueueOrMatch with an insert position. A match is removed and returned with
// the index it held. Without a match p is inserted at position, or appended when position is
// negative or past the end, and the returned index is where p now waits.
func (q *Queue) MatchOrInsert(p *models.Participant, tier models.Tier, position int) (*models.Participant, int) {
	tier = models.ParseTier(string(tier))
	q.Remove(p.ConnID)

	waiting := q.queues[tier][models.ModeVideo]
	for i, candidate := range waiting {
		if IsMatch(p, candidate, tier) {
			q.queues[tier][models.ModeVideo] = append(waiting[:i:i], waiting[i+1:]...)
			return candidate, i
		}
	}
	if position < 0 || position > len(waiting) {
		position = len(waiting)
	}
	waiting = append(waiting, nil)
	copy(waiting[position+1:], waiting[position:])
	waiting[position] = p
	q.queues[tier][models.ModeVideo] = waiting
	return nil, position
}

// IsMatch reports whether a and b may be paired in the given tier.
// Golden tier pairs only Male with Female. Regular tier honors each side's branch and gender filter.
func IsMatch(a, b *models.Participant, tier models.Tier) bool {
	if a.ConnID == b.ConnID {
		return false
	}
	if tier == models.TierGolden {
		if a.Gender == b.Gender {
			return false
		}
		return (a.Gender == models.GenderMale && b.Gender == models.GenderFemale) ||
			(a.Gender == models.GenderFemale && b.Gender == models.GenderMale)
	}
	if a.Filters.Branch != "" && a.Filters.Branch != b.Branch {
		return false
	}
	if b.Filters.Branch != "" && b.Filters.Branch != a.Branch {
		return false
	}
	if a.Filters.Gender != "" && a.Filters.Gender != b.Gender {
		return false
	}
	if b.Filters.Gender != "" && b.Filters.Gender != a.Gender {
		return false
	}
	return true
}

// Remove drops connID from every queue. Absent ids are ignored.
func (q *Queue) Remove(connID string) {
	for _, modes := range q.queues {
		for mode, waiting := range modes {
			for i, p := range waiting {
				if p.ConnID == connID {
					modes[mode] = append(waiting[:i:i], waiting[i+1:]...)
					break
				}
			}
		}
	}
}

// Contains reports whether connID is waiting in any queue.
func (q *Queue) Contains(connID string) bool {
	for _, modes := range q.queues {
		for _, waiting := range modes {
			for _, p := range waiting {
				if p.ConnID == connID {
					return true
				}
			}
		}
	}
	return false
}

// Lengths returns per-queue counts keyed "<tier>_<mode>" and their sum.
func (q *Queue) Lengths() Lengths {
	l := Lengths{ByQueue: make(map[string]int)}
	for tier, modes := range q.queues {
		for mode, waiting := range modes {
			l.ByQueue[string(tier)+"_"+string(mode)] = len(waiting)
			l.Total += len(waiting)
		}
	}
	return l
}
