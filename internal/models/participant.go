package models

// Tier is the matching class; it selects the queue, the compatibility rule and the token spent.
type Tier string

const (
	TierRegular Tier = "regular"
	TierGolden  Tier = "golden"
)

// ParseTier maps a client-supplied tier to a Tier. Anything other than golden is regular.
func ParseTier(s string) Tier {
	if Tier(s) == TierGolden {
		return TierGolden
	}
	return TierRegular
}

// Mode is the chat medium a participant asked for.
type Mode string

const (
	ModeText  Mode = "text"
	ModeVideo Mode = "video"
)

// Gender values that take part in golden tier matching. Other values are carried as-is.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
)

// Filters are the partner preferences of a participant. Empty means "any".
type Filters struct {
	Branch string `json:"branch,omitempty"`
	Gender string `json:"gender,omitempty"`
}

// Participant is one connected user, keyed by its connection id.
type Participant struct {
	ConnID   string   `json:"conn_id"`
	StableID string   `json:"stable_id,omitempty"` // set after login
	Name     string   `json:"name"`
	Branch   string   `json:"branch"`
	Gender   string   `json:"gender"`
	Mode     Mode     `json:"mode"`
	Tier     Tier     `json:"tier,omitempty"`
	Mood     string   `json:"mood,omitempty"`
	Hobbies  []string `json:"hobbies,omitempty"`
	Filters  Filters  `json:"filters"`
}

// PartnerInfo is the public view of a participant sent to its partner on match.
type PartnerInfo struct {
	Name   string `json:"name"`
	Branch string `json:"branch"`
	Gender string `json:"gender"`
}

// Public returns the fields a partner may see.
func (p *Participant) Public() PartnerInfo {
	return PartnerInfo{Name: p.Name, Branch: p.Branch, Gender: p.Gender}
}

// EffectiveTier returns the stored tier, regular when unset.
func (p *Participant) EffectiveTier() Tier {
	if p.Tier == "" {
		return TierRegular
	}
	return p.Tier
}

// IsGuest reports whether the participant never completed the login handshake.
func (p *Participant) IsGuest() bool {
	return p.StableID == ""
}

// LeaveReason tells the remaining participant why its session ended.
type LeaveReason string

const (
	ReasonSkip       LeaveReason = "skip"
	ReasonStop       LeaveReason = "stop"
	ReasonDisconnect LeaveReason = "disconnect"
	ReasonUnknown    LeaveReason = "unknown"
)
