package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslink/matchmaker/internal/middleware"
	"github.com/campuslink/matchmaker/internal/models"
	"github.com/campuslink/matchmaker/internal/profiles"
)

type creditCall struct {
	stableID  string
	tier      models.Tier
	amount    int
	grantedBy string
}

type fakeLedger struct {
	calls []creditCall
	err   error
}

func (f *fakeLedger) CreditTokens(_ context.Context, stableID string, tier models.Tier, amount int, grantedBy string) (*models.TokenBalance, error) {
	f.calls = append(f.calls, creditCall{stableID, tier, amount, grantedBy})
	if f.err != nil {
		return nil, f.err
	}
	return &models.TokenBalance{FreeTrials: 5, GoldenTokens: amount}, nil
}

type fakePublisher struct {
	changes []models.BalanceChange
	err     error
}

func (f *fakePublisher) PublishBalanceChange(change models.BalanceChange) error {
	f.changes = append(f.changes, change)
	return f.err
}

func serve(h *Handler, body string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/admin/profiles/:stable_id/tokens", func(c *gin.Context) {
		c.Set(middleware.ContextSubject, "ops-1")
		c.Next()
	}, h.Credit)
	req := httptest.NewRequest(http.MethodPost, "/admin/profiles/u1/tokens", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreditPublishesChange(t *testing.T) {
	ledger := &fakeLedger{}
	pub := &fakePublisher{}
	w := serve(NewHandler(ledger, pub, nil), `{"type":"golden","amount":3}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []creditCall{{"u1", models.TierGolden, 3, "ops-1"}}, ledger.calls)
	require.Len(t, pub.changes, 1)
	assert.Equal(t, models.BalanceChange{
		StableID: "u1",
		Balance:  models.TokenBalance{FreeTrials: 5, GoldenTokens: 3},
		Tier:     models.TierGolden,
		Amount:   3,
	}, pub.changes[0])
	assert.Contains(t, w.Body.String(), `"golden_tokens":3`)
}

func TestCreditValidation(t *testing.T) {
	for _, body := range []string{
		`{"type":"platinum","amount":3}`,
		`{"type":"regular","amount":0}`,
		`{"type":"regular","amount":-2}`,
		`{"amount":1}`,
		`nope`,
	} {
		ledger := &fakeLedger{}
		w := serve(NewHandler(ledger, &fakePublisher{}, nil), body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Empty(t, ledger.calls, body)
	}
}

func TestCreditUnknownProfile(t *testing.T) {
	pub := &fakePublisher{}
	w := serve(NewHandler(&fakeLedger{err: profiles.ErrNotFound}, pub, nil), `{"type":"regular","amount":1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, pub.changes)
}

func TestCreditStoreFailure(t *testing.T) {
	w := serve(NewHandler(&fakeLedger{err: errors.New("db down")}, &fakePublisher{}, nil), `{"type":"regular","amount":1}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestCreditSurvivesPublishFailure(t *testing.T) {
	w := serve(NewHandler(&fakeLedger{}, &fakePublisher{err: errors.New("redis down")}, nil), `{"type":"regular","amount":2}`)
	assert.Equal(t, http.StatusOK, w.Code)
}
