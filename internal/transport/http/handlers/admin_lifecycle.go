package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/transport/http/middleware"
	"github.com/arklim/social-platform-growth/internal/usecase"
)

// LifecycleAdmin applies manual transitions and promotion checks.
type LifecycleAdmin interface {
	Transition(ctx context.Context, userID string, target domain.LifecycleState, reason, actor string) (domain.TransitionResult, error)
	CheckPromotionByReferralCount(ctx context.Context, userID string) (domain.TransitionResult, error)
}

// DecaySweeper runs one decay pass over the tiered population.
type DecaySweeper interface {
	RunSweep(ctx context.Context) (domain.SweepReport, error)
}

type AdminLifecycleHandler struct {
	lifecycle LifecycleAdmin
	decay     DecaySweeper
}

func NewAdminLifecycleHandler(lifecycle LifecycleAdmin, decay DecaySweeper) *AdminLifecycleHandler {
	return &AdminLifecycleHandler{lifecycle: lifecycle, decay: decay}
}

func (h *AdminLifecycleHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/users/:userId/transition", h.Transition)
	r.POST("/users/:userId/promotion-check", h.CheckPromotion)
	r.POST("/decay/sweep", h.Sweep)
}

// Transition applies one manual lifecycle edge on behalf of the authenticated reviewer.
func (h *AdminLifecycleHandler) Transition(c *gin.Context) {
	if h.lifecycle == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "lifecycle handler not fully configured"))
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid transition payload"))
		return
	}

	target, ok := domain.ParseLifecycleState(req.Target)
	if !ok {
		respondGrowthError(c, usecase.ErrUnknownState)
		return
	}

	actor := usecase.ActorSystem
	if subject, ok := middleware.GetAdminSubject(c); ok && subject != "" {
		actor = "admin:" + subject
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}

	result, err := h.lifecycle.Transition(c.Request.Context(), c.Param("userId"), target, reason, actor)
	if err != nil {
		respondGrowthError(c, err)
		return
	}

	c.JSON(http.StatusOK, toTransitionResponse(result))
}

// CheckPromotion promotes a user through every tier its verified counter has unlocked.
func (h *AdminLifecycleHandler) CheckPromotion(c *gin.Context) {
	if h.lifecycle == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "lifecycle handler not fully configured"))
		return
	}

	result, err := h.lifecycle.CheckPromotionByReferralCount(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondGrowthError(c, err)
		return
	}

	c.JSON(http.StatusOK, toTransitionResponse(result))
}

// Sweep runs a decay pass synchronously and returns the actions it took.
func (h *AdminLifecycleHandler) Sweep(c *gin.Context) {
	if h.decay == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "decay handler not fully configured"))
		return
	}

	report, err := h.decay.RunSweep(c.Request.Context())
	if err != nil {
		respondGrowthError(c, err)
		return
	}

	actions := make([]DecayActionResponse, 0, len(report.Actions))
	for _, a := range report.Actions {
		actions = append(actions, DecayActionResponse{
			UserID:       a.UserID,
			Kind:         string(a.Kind),
			From:         string(a.From),
			To:           string(a.To),
			DaysInactive: a.DaysInactive,
			At:           a.At,
		})
	}

	c.JSON(http.StatusOK, SweepResponse{
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Scanned:    report.Scanned,
		Failures:   report.Failures,
		Actions:    actions,
	})
}
