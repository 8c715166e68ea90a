package models

import "time"

// AggregateStats is the live snapshot pushed to clients and operators.
type AggregateStats struct {
	TotalUsers int `json:"total_users"`
	Online     int `json:"online"`
	Idle       int `json:"idle"`
	OnCall     int `json:"on_call"`
	Queued     int `json:"queued"`
}

// NewAggregateStats derives idle from the other counts, floored at zero.
func NewAggregateStats(totalUsers, online, queued, onCall int) AggregateStats {
	idle := online - queued - onCall
	if idle < 0 {
		idle = 0
	}
	return AggregateStats{
		TotalUsers: totalUsers,
		Online:     online,
		Idle:       idle,
		OnCall:     onCall,
		Queued:     queued,
	}
}

// PartnerTraits are the partner attributes counted into "most matched" insights.
type PartnerTraits struct {
	Branch  string   `json:"branch,omitempty"`
	Gender  string   `json:"gender,omitempty"`
	Mood    string   `json:"mood,omitempty"`
	Hobbies []string `json:"hobbies,omitempty"`
}

// CallRecord is one side of a finished call, persisted against the side's stable id.
type CallRecord struct {
	StableID        string        `json:"stable_id"`
	DurationSeconds int64         `json:"duration_seconds"`
	Partner         PartnerTraits `json:"partner"`
	EndedAt         time.Time     `json:"ended_at"`
}
