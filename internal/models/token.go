package models

// TokenBalance is the per-connection token cache, mirrored from the profile store.
type TokenBalance struct {
	FreeTrials     int `json:"free_trials"`
	RegularTokens  int `json:"regular_tokens"`
	GoldenTokens   int `json:"golden_tokens"`
	TotalChatsUsed int `json:"total_chats_used"`
}

// TokenUsage mirrors one local debit to the profile store.
type TokenUsage struct {
	StableID  string `json:"stable_id"`
	Tier      Tier   `json:"tier"`
	FreeTrial bool   `json:"free_trial"`
}

// BalanceChange is published by the payment ledger when a stored balance changes out of band.
// Tier and Amount describe the credit that caused it; Amount is zero for plain corrections.
type BalanceChange struct {
	StableID string       `json:"stable_id"`
	Balance  TokenBalance `json:"balance"`
	Tier     Tier         `json:"tier,omitempty"`
	Amount   int          `json:"amount,omitempty"`
}
