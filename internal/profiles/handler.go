package profiles

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campuslink/matchmaker/pkg/response"
)

// Reader is the read side of the profile store used by the admin endpoints.
type Reader interface {
	Get(ctx context.Context, stableID string) (*Profile, error)
	ResetSeason(ctx context.Context) (int64, error)
}

// Handler handles profile admin endpoints.
type Handler struct {
	repo   Reader
	logger *zap.Logger
}

// NewHandler creates a profiles handler.
func NewHandler(repo Reader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Get handles GET /admin/profiles/:stable_id.
func (h *Handler) Get(c *gin.Context) {
	p, err := h.repo.Get(c.Request.Context(), c.Param("stable_id"))
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "profile not found")
		return
	}
	if err != nil {
		h.logger.Error("get profile", zap.Error(err))
		response.Internal(c, "failed to load profile")
		return
	}
	response.OK(c, p)
}

// ResetSeason handles POST /admin/seasons/reset.
func (h *Handler) ResetSeason(c *gin.Context) {
	n, err := h.repo.ResetSeason(c.Request.Context())
	if err != nil {
		h.logger.Error("reset season", zap.Error(err))
		response.Internal(c, "failed to reset season")
		return
	}
	h.logger.Info("season reset", zap.Int64("profiles", n))
	response.OK(c, gin.H{"profiles_reset": n})
}
