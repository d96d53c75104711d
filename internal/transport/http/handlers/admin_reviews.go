package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/transport/http/middleware"
)

// ReviewQueue is the admin side of the review workflow.
type ReviewQueue interface {
	ListPending(ctx context.Context, limit int) ([]domain.ReviewQueueEntry, error)
	Approve(ctx context.Context, decision domain.ReviewDecision) (domain.ReviewOutcome, error)
	Reject(ctx context.Context, decision domain.ReviewDecision) (domain.ReviewOutcome, error)
}

type AdminReviewHandler struct {
	reviews ReviewQueue
}

func NewAdminReviewHandler(reviews ReviewQueue) *AdminReviewHandler {
	return &AdminReviewHandler{reviews: reviews}
}

func (h *AdminReviewHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/reviews", h.List)
	r.POST("/reviews/:referralId/approve", h.Approve)
	r.POST("/reviews/:referralId/reject", h.Reject)
}

// List returns the PENDING referrals awaiting adjudication, oldest first.
func (h *AdminReviewHandler) List(c *gin.Context) {
	if h.reviews == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "review handler not fully configured"))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	entries, err := h.reviews.ListPending(c.Request.Context(), limit)
	if err != nil {
		respondGrowthError(c, err)
		return
	}

	items := make([]ReviewQueueEntryResponse, 0, len(entries))
	for _, e := range entries {
		flags := e.Flags
		if flags == nil {
			flags = []string{}
		}
		items = append(items, ReviewQueueEntryResponse{
			ReferralID:   e.ReferralID,
			ReferrerID:   e.ReferrerID,
			ReferrerName: e.ReferrerName,
			ReferredID:   e.ReferredID,
			ReferredName: e.ReferredName,
			RiskScore:    e.RiskScore,
			Flags:        flags,
			ReviewStatus: string(e.ReviewStatus),
			CreatedAt:    e.CreatedAt,
			AgeSeconds:   int64(e.Age.Seconds()),
		})
	}

	c.JSON(http.StatusOK, ReviewQueueResponse{Items: items, Count: len(items)})
}

// Approve verifies a queued referral and credits the referrer.
func (h *AdminReviewHandler) Approve(c *gin.Context) {
	if h.reviews == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "review handler not fully configured"))
		return
	}
	h.decide(c, h.reviews.Approve)
}

// Reject finalizes a queued referral without crediting anyone.
func (h *AdminReviewHandler) Reject(c *gin.Context) {
	if h.reviews == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "review handler not fully configured"))
		return
	}
	h.decide(c, h.reviews.Reject)
}

func (h *AdminReviewHandler) decide(c *gin.Context, apply func(context.Context, domain.ReviewDecision) (domain.ReviewOutcome, error)) {
	reviewerID, ok := middleware.GetAdminSubject(c)
	if !ok || reviewerID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid authentication"))
		return
	}

	var req ReviewDecisionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid review payload"))
			return
		}
	}

	outcome, err := apply(c.Request.Context(), domain.ReviewDecision{
		ReferralID: c.Param("referralId"),
		ReviewerID: reviewerID,
		Reason:     req.Reason,
	})
	if err != nil {
		respondGrowthError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOutcomeResponse(outcome))
}
