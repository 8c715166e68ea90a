package payments

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campuslink/matchmaker/internal/middleware"
	"github.com/campuslink/matchmaker/internal/models"
	"github.com/campuslink/matchmaker/internal/profiles"
	"github.com/campuslink/matchmaker/pkg/response"
)

// Ledger persists token credits.
type Ledger interface {
	CreditTokens(ctx context.Context, stableID string, tier models.Tier, amount int, grantedBy string) (*models.TokenBalance, error)
}

// BalancePublisher announces stored balance changes to connected instances.
type BalancePublisher interface {
	PublishBalanceChange(change models.BalanceChange) error
}

// CreditRequest is the body for POST /admin/profiles/:stable_id/tokens.
type CreditRequest struct {
	Type   models.Tier `json:"type" binding:"required,oneof=regular golden"`
	Amount int         `json:"amount" binding:"required,min=1,max=1000"`
}

// Handler handles payment ledger endpoints.
type Handler struct {
	ledger Ledger
	pub    BalancePublisher
	logger *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(ledger Ledger, pub BalancePublisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ledger: ledger, pub: pub, logger: logger}
}

// Credit handles POST /admin/profiles/:stable_id/tokens (admin).
// The stored balance is authoritative; live connections pick it up from the published change.
func (h *Handler) Credit(c *gin.Context) {
	stableID := c.Param("stable_id")
	if stableID == "" {
		response.BadRequest(c, "missing stable id")
		return
	}
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	balance, err := h.ledger.CreditTokens(c.Request.Context(), stableID, req.Type, req.Amount, c.GetString(middleware.ContextSubject))
	if errors.Is(err, profiles.ErrNotFound) {
		response.NotFound(c, "profile not found")
		return
	}
	if err != nil {
		h.logger.Error("credit tokens", zap.String("stable_id", stableID), zap.Error(err))
		response.Internal(c, "failed to credit tokens")
		return
	}

	change := models.BalanceChange{StableID: stableID, Balance: *balance, Tier: req.Type, Amount: req.Amount}
	if err := h.pub.PublishBalanceChange(change); err != nil {
		// Credit is stored; the next login primes the new balance.
		h.logger.Warn("publish balance change", zap.String("stable_id", stableID), zap.Error(err))
	}
	h.logger.Info("tokens credited",
		zap.String("stable_id", stableID),
		zap.String("tier", string(req.Type)),
		zap.Int("amount", req.Amount),
	)
	response.OK(c, change)
}
