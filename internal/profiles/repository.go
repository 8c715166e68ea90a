package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuslink/matchmaker/internal/models"
)

// ErrNotFound is returned when no profile exists for a stable id.
var ErrNotFound = errors.New("profile not found")

// Match category names counted per partner trait.
const (
	CategoryBranch = "branch"
	CategoryGender = "gender"
	CategoryMood   = "mood"
	CategoryHobby  = "hobby"
)

// Stats are the persisted call counters of a profile.
type Stats struct {
	TotalCalls         int   `json:"total_calls"`
	SeasonCalls        int   `json:"season_calls"`
	TotalTalkSeconds   int64 `json:"total_talk_seconds"`
	LongestCallSeconds int64 `json:"longest_call_seconds"`
}

// Profile is the stored view of one identity.
type Profile struct {
	StableID    string              `json:"stable_id"`
	Name        string              `json:"name"`
	Branch      string              `json:"branch"`
	Gender      string              `json:"gender"`
	Balance     models.TokenBalance `json:"balance"`
	Stats       Stats               `json:"stats"`
	MostMatched map[string]string   `json:"most_matched"`
}

// Repository handles profile persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a profile repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetTokenBalance returns the stored balance, or nil when the profile does not exist.
func (r *Repository) GetTokenBalance(ctx context.Context, stableID string) (*models.TokenBalance, error) {
	const q = `SELECT free_trials, regular_tokens, golden_tokens, total_chats_used
		FROM profiles WHERE stable_id = $1`
	var b models.TokenBalance
	err := r.pool.QueryRow(ctx, q, stableID).Scan(&b.FreeTrials, &b.RegularTokens, &b.GoldenTokens, &b.TotalChatsUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token balance: %w", err)
	}
	return &b, nil
}

// CountProfiles returns the number of stored identities.
func (r *Repository) CountProfiles(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count profiles: %w", err)
	}
	return n, nil
}

// Get returns the full profile with its most matched category values.
func (r *Repository) Get(ctx context.Context, stableID string) (*Profile, error) {
	const q = `SELECT stable_id, name, branch, gender,
		free_trials, regular_tokens, golden_tokens, total_chats_used,
		total_calls, season_calls, total_talk_seconds, longest_call_seconds
		FROM profiles WHERE stable_id = $1`
	var p Profile
	err := r.pool.QueryRow(ctx, q, stableID).Scan(&p.StableID, &p.Name, &p.Branch, &p.Gender,
		&p.Balance.FreeTrials, &p.Balance.RegularTokens, &p.Balance.GoldenTokens, &p.Balance.TotalChatsUsed,
		&p.Stats.TotalCalls, &p.Stats.SeasonCalls, &p.Stats.TotalTalkSeconds, &p.Stats.LongestCallSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (category) category, value
		FROM profile_match_categories WHERE stable_id = $1
		ORDER BY category, count DESC, updated_at DESC`, stableID)
	if err != nil {
		return nil, fmt.Errorf("most matched: %w", err)
	}
	defer rows.Close()
	p.MostMatched = make(map[string]string)
	for rows.Next() {
		var category, value string
		if err := rows.Scan(&category, &value); err != nil {
			return nil, err
		}
		p.MostMatched[category] = value
	}
	return &p, rows.Err()
}

// CreditTokens records a payment ledger credit and returns the new balance.
func (r *Repository) CreditTokens(ctx context.Context, stableID string, tier models.Tier, amount int, grantedBy string) (*models.TokenBalance, error) {
	column, err := tokenColumn(tier)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	q := `UPDATE profiles SET ` + column + ` = ` + column + ` + $2, updated_at = NOW()
		WHERE stable_id = $1
		RETURNING free_trials, regular_tokens, golden_tokens, total_chats_used`
	var b models.TokenBalance
	err = tx.QueryRow(ctx, q, stableID, amount).Scan(&b.FreeTrials, &b.RegularTokens, &b.GoldenTokens, &b.TotalChatsUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credit tokens: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO token_credits (id, stable_id, tier, amount, granted_by) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), stableID, string(tier), amount, grantedBy)
	if err != nil {
		return nil, fmt.Errorf("insert token credit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &b, nil
}

// ApplyTokenUsage mirrors one local debit. Counters never go below zero.
func (r *Repository) ApplyTokenUsage(ctx context.Context, usage models.TokenUsage) error {
	column := "free_trials"
	if !usage.FreeTrial {
		var err error
		if column, err = tokenColumn(usage.Tier); err != nil {
			return err
		}
	}
	q := `UPDATE profiles SET ` + column + ` = GREATEST(` + column + ` - 1, 0),
		total_chats_used = total_chats_used + 1, updated_at = NOW()
		WHERE stable_id = $1`
	tag, err := r.pool.Exec(ctx, q, usage.StableID)
	if err != nil {
		return fmt.Errorf("apply token usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyCallRecord adds one finished call to the profile counters and match categories.
func (r *Repository) ApplyCallRecord(ctx context.Context, rec models.CallRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE profiles SET
		total_calls = total_calls + 1,
		season_calls = season_calls + 1,
		total_talk_seconds = total_talk_seconds + $2,
		longest_call_seconds = GREATEST(longest_call_seconds, $2),
		updated_at = NOW()
		WHERE stable_id = $1`, rec.StableID, rec.DurationSeconds)
	if err != nil {
		return fmt.Errorf("update call stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	const upsert = `INSERT INTO profile_match_categories (stable_id, category, value, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (stable_id, category, value)
		DO UPDATE SET count = profile_match_categories.count + 1, updated_at = NOW()`
	for _, cv := range CategoryValues(rec.Partner) {
		if _, err := tx.Exec(ctx, upsert, rec.StableID, cv.Category, cv.Value); err != nil {
			return fmt.Errorf("count %s: %w", cv.Category, err)
		}
	}
	return tx.Commit(ctx)
}

// ResetSeason zeroes the per-season call counter of every profile.
func (r *Repository) ResetSeason(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE profiles SET season_calls = 0, updated_at = NOW() WHERE season_calls <> 0`)
	if err != nil {
		return 0, fmt.Errorf("reset season: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CategoryValue is one counted partner trait.
type CategoryValue struct {
	Category string
	Value    string
}

// CategoryValues lists the partner traits counted for a call. Empty values are skipped and
// hobbies are counted once each, case-insensitively.
func CategoryValues(partner models.PartnerTraits) []CategoryValue {
	var out []CategoryValue
	add := func(category, value string) {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, CategoryValue{Category: category, Value: value})
		}
	}
	add(CategoryBranch, partner.Branch)
	add(CategoryGender, partner.Gender)
	add(CategoryMood, partner.Mood)
	seen := make(map[string]struct{}, len(partner.Hobbies))
	for _, h := range partner.Hobbies {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		add(CategoryHobby, key)
	}
	return out
}

func tokenColumn(tier models.Tier) (string, error) {
	switch tier {
	case models.TierRegular:
		return "regular_tokens", nil
	case models.TierGolden:
		return "golden_tokens", nil
	}
	return "", fmt.Errorf("unknown token tier %q", tier)
}
