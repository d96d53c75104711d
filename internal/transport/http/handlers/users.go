package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

// ActivityToucher records genuine user interaction.
type ActivityToucher interface {
	TouchActivity(ctx context.Context, userID string, at time.Time) (domain.TransitionResult, error)
}

// LifecycleReader exposes a user's lifecycle snapshot and audit trail.
type LifecycleReader interface {
	Snapshot(ctx context.Context, userID string) (*domain.User, error)
	History(ctx context.Context, userID string, limit int) ([]domain.StateTransition, error)
}

const defaultHistoryLimit = 20

type UserHandler struct {
	activity  ActivityToucher
	lifecycle LifecycleReader
	now       func() time.Time
}

func NewUserHandler(activity ActivityToucher, lifecycle LifecycleReader) *UserHandler {
	return &UserHandler{activity: activity, lifecycle: lifecycle, now: time.Now}
}

// WithNow overrides the clock used when an activity request carries no timestamp.
func (h *UserHandler) WithNow(now func() time.Time) *UserHandler {
	if now != nil {
		h.now = now
	}
	return h
}

// RegisterRoutes mounts the user endpoints. activityMiddlewares only guard the activity endpoint.
func (h *UserHandler) RegisterRoutes(r gin.IRoutes, activityMiddlewares ...gin.HandlerFunc) {
	chain := append([]gin.HandlerFunc{}, activityMiddlewares...)
	r.POST("/users/:userId/activity", append(chain, h.TouchActivity)...)
	r.GET("/users/:userId/lifecycle", h.Lifecycle)
}

// TouchActivity resets the decay clock of a user. CHURNED users are reactivated.
func (h *UserHandler) TouchActivity(c *gin.Context) {
	if h.activity == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "activity handler not fully configured"))
		return
	}

	var req ActivityRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid activity payload"))
			return
		}
	}

	at := h.now().UTC()
	if req.OccurredAt != nil && !req.OccurredAt.IsZero() {
		at = req.OccurredAt.UTC()
	}

	result, err := h.activity.TouchActivity(c.Request.Context(), c.Param("userId"), at)
	if err != nil {
		respondGrowthError(c, err)
		return
	}

	c.JSON(http.StatusOK, toTransitionResponse(result))
}

// Lifecycle returns the lifecycle snapshot and the newest transitions of a user.
func (h *UserHandler) Lifecycle(c *gin.Context) {
	if h.lifecycle == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "lifecycle handler not fully configured"))
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("history"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "history must be a positive integer"))
			return
		}
		limit = parsed
	}

	ctx := c.Request.Context()
	userID := c.Param("userId")

	user, err := h.lifecycle.Snapshot(ctx, userID)
	if err != nil {
		respondGrowthError(c, err)
		return
	}
	history, err := h.lifecycle.History(ctx, userID, limit)
	if err != nil {
		respondGrowthError(c, err)
		return
	}

	next := domain.NextStates(user.State)
	nextStates := make([]string, 0, len(next))
	for _, s := range next {
		nextStates = append(nextStates, string(s))
	}

	c.JSON(http.StatusOK, LifecycleResponse{
		UserID:            user.ID,
		DisplayName:       user.DisplayName,
		State:             string(user.State),
		VerifiedReferrals: user.VerifiedReferrals,
		TierUnlockedAt:    user.TierUnlockedAt,
		LastActivityAt:    user.LastActivityAt,
		DecayWarned:       user.DecayWarned,
		NextStates:        nextStates,
		History:           toStateTransitions(history),
	})
}
