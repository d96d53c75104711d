package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// HealthResponse describes the payload returned by the liveness endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse lists the state of every dependency probed by the readiness endpoint.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ReferralAttemptRequest is submitted by the front-end once a referred user finishes registration.
type ReferralAttemptRequest struct {
	ReferrerID      string `json:"referrer_id" binding:"required"`
	ReferredID      string `json:"referred_id" binding:"required"`
	Code            string `json:"code"`
	OriginSignal    string `json:"origin_signal"`
	ClientSignature string `json:"client_signature"`
	DeviceSignal    string `json:"device_signal"`
}

// ReferralResponse is the public view of a referral record.
type ReferralResponse struct {
	ID           string     `json:"id"`
	ReferrerID   string     `json:"referrer_id"`
	ReferredID   string     `json:"referred_id"`
	Code         string     `json:"code,omitempty"`
	Status       string     `json:"status"`
	ReviewStatus string     `json:"review_status"`
	RiskScore    int        `json:"risk_score"`
	Flags        []string   `json:"flags"`
	CreatedAt    time.Time  `json:"created_at"`
	ReviewedBy   *string    `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	ReviewReason *string    `json:"review_reason,omitempty"`
}

// ReferralAttemptResponse bundles the stored referral, its score and any promotion it triggered.
type ReferralAttemptResponse struct {
	Referral  ReferralResponse    `json:"referral"`
	Degraded  bool                `json:"degraded"`
	Promotion *TransitionResponse `json:"promotion,omitempty"`
}

// ActivityRequest optionally carries the time the interaction happened. Missing means now.
type ActivityRequest struct {
	OccurredAt *time.Time `json:"occurred_at"`
}

// TransitionRequest asks for a manual lifecycle transition.
type TransitionRequest struct {
	Target string `json:"target" binding:"required"`
	Reason string `json:"reason"`
}

// StateTransitionResponse is one audit record.
type StateTransitionResponse struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	Actor     string    `json:"actor"`
	AppliedAt time.Time `json:"applied_at"`
}

// TransitionResponse reports the outcome of a transition or promotion check.
type TransitionResponse struct {
	UserID      string                    `json:"user_id"`
	From        string                    `json:"from"`
	To          string                    `json:"to"`
	Changed     bool                      `json:"changed"`
	Transitions []StateTransitionResponse `json:"transitions"`
}

// LifecycleResponse is the lifecycle snapshot of a user plus their most recent transitions.
type LifecycleResponse struct {
	UserID            string                    `json:"user_id"`
	DisplayName       string                    `json:"display_name,omitempty"`
	State             string                    `json:"state"`
	VerifiedReferrals int                       `json:"verified_referrals"`
	TierUnlockedAt    *time.Time                `json:"tier_unlocked_at,omitempty"`
	LastActivityAt    *time.Time                `json:"last_activity_at,omitempty"`
	DecayWarned       bool                      `json:"decay_warned"`
	NextStates        []string                  `json:"next_states"`
	History           []StateTransitionResponse `json:"history"`
}

// ReviewDecisionRequest carries the optional justification for an approve or reject.
type ReviewDecisionRequest struct {
	Reason string `json:"reason"`
}

// ReviewQueueEntryResponse is one row of the admin review queue.
type ReviewQueueEntryResponse struct {
	ReferralID   string    `json:"referral_id"`
	ReferrerID   string    `json:"referrer_id"`
	ReferrerName string    `json:"referrer_name"`
	ReferredID   string    `json:"referred_id"`
	ReferredName string    `json:"referred_name"`
	RiskScore    int       `json:"risk_score"`
	Flags        []string  `json:"flags"`
	ReviewStatus string    `json:"review_status"`
	CreatedAt    time.Time `json:"created_at"`
	AgeSeconds   int64     `json:"age_seconds"`
}

// ReviewQueueResponse wraps the pending queue.
type ReviewQueueResponse struct {
	Items []ReviewQueueEntryResponse `json:"items"`
	Count int                        `json:"count"`
}

// ReviewOutcomeResponse is returned after approve or reject.
type ReviewOutcomeResponse struct {
	Referral  ReferralResponse    `json:"referral"`
	Promotion *TransitionResponse `json:"promotion,omitempty"`
}

// DecayActionResponse is one action emitted by a sweep.
type DecayActionResponse struct {
	UserID       string    `json:"user_id"`
	Kind         string    `json:"kind"`
	From         string    `json:"from"`
	To           string    `json:"to,omitempty"`
	DaysInactive int       `json:"days_inactive"`
	At           time.Time `json:"at"`
}

// SweepResponse summarizes a decay sweep.
type SweepResponse struct {
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Scanned    int                   `json:"scanned"`
	Failures   int                   `json:"failures"`
	Actions    []DecayActionResponse `json:"actions"`
}

func toReferralResponse(r domain.Referral) ReferralResponse {
	flags := r.Flags
	if flags == nil {
		flags = []string{}
	}
	return ReferralResponse{
		ID:           r.ID,
		ReferrerID:   r.ReferrerID,
		ReferredID:   r.ReferredID,
		Code:         r.Code,
		Status:       string(r.Status),
		ReviewStatus: string(r.ReviewStatus),
		RiskScore:    r.RiskScore,
		Flags:        flags,
		CreatedAt:    r.CreatedAt,
		ReviewedBy:   r.ReviewedBy,
		ReviewedAt:   r.ReviewedAt,
		ReviewReason: r.ReviewReason,
	}
}

func toStateTransitions(items []domain.StateTransition) []StateTransitionResponse {
	out := make([]StateTransitionResponse, 0, len(items))
	for _, t := range items {
		out = append(out, StateTransitionResponse{
			ID:        t.ID,
			From:      string(t.From),
			To:        string(t.To),
			Reason:    t.Reason,
			Actor:     t.Actor,
			AppliedAt: t.AppliedAt,
		})
	}
	return out
}

func toTransitionResponse(r domain.TransitionResult) TransitionResponse {
	return TransitionResponse{
		UserID:      r.UserID,
		From:        string(r.From),
		To:          string(r.To),
		Changed:     r.Changed,
		Transitions: toStateTransitions(r.Transitions),
	}
}

func toPromotionResponse(r *domain.TransitionResult) *TransitionResponse {
	if r == nil || !r.Changed {
		return nil
	}
	resp := toTransitionResponse(*r)
	return &resp
}

func toOutcomeResponse(o domain.ReviewOutcome) ReviewOutcomeResponse {
	return ReviewOutcomeResponse{
		Referral:  toReferralResponse(o.Referral),
		Promotion: toPromotionResponse(o.Promotion),
	}
}
