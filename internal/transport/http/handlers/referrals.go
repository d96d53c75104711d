package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

// ReferralRecorder records and scores referral attempts.
type ReferralRecorder interface {
	RecordAttempt(ctx context.Context, attempt domain.ReferralAttempt) (domain.ReviewOutcome, domain.ScoreResult, error)
}

type ReferralHandler struct {
	referrals ReferralRecorder
}

func NewReferralHandler(referrals ReferralRecorder) *ReferralHandler {
	return &ReferralHandler{referrals: referrals}
}

// RegisterRoutes mounts the public referral endpoint behind the supplied middlewares.
func (h *ReferralHandler) RegisterRoutes(r gin.IRoutes, middlewares ...gin.HandlerFunc) {
	chain := append([]gin.HandlerFunc{}, middlewares...)
	r.POST("/referrals", append(chain, h.RecordAttempt)...)
}

// RecordAttempt stores a referral, scores it and classifies it in one request.
// The origin signal falls back to the client IP and the client signature to the User-Agent.
func (h *ReferralHandler) RecordAttempt(c *gin.Context) {
	if h.referrals == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "referral handler not fully configured"))
		return
	}

	var req ReferralAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid referral payload"))
		return
	}

	origin := strings.TrimSpace(req.OriginSignal)
	if origin == "" {
		origin = c.ClientIP()
	}
	signature := strings.TrimSpace(req.ClientSignature)
	if signature == "" {
		signature = c.Request.UserAgent()
	}

	outcome, score, err := h.referrals.RecordAttempt(c.Request.Context(), domain.ReferralAttempt{
		ReferrerID:      req.ReferrerID,
		ReferredID:      req.ReferredID,
		Code:            req.Code,
		OriginSignal:    origin,
		ClientSignature: signature,
		DeviceSignal:    req.DeviceSignal,
	})
	if err != nil {
		respondGrowthError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ReferralAttemptResponse{
		Referral:  toReferralResponse(outcome.Referral),
		Degraded:  score.Degraded,
		Promotion: toPromotionResponse(outcome.Promotion),
	})
}
