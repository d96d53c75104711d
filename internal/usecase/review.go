package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
)

const (
	defaultQueueLimit = 50
	maxQueueLimit     = 500
)

// ReviewWorkflow owns the PENDING -> {VERIFIED, REJECTED} lifecycle of a referral.
type ReviewWorkflow struct {
	tx        port.Transactor
	referrals port.ReferralRepository
	directory port.UserDirectory
	lifecycle *LifecycleStateMachine
	events    port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
	metrics   GrowthMetrics
	tracer    trace.Tracer
	attempts  int
}

// NewReviewWorkflow constructs the review workflow. directory may be nil.
func NewReviewWorkflow(tx port.Transactor, referrals port.ReferralRepository, directory port.UserDirectory, lifecycle *LifecycleStateMachine, events port.EventPublisher) *ReviewWorkflow {
	return &ReviewWorkflow{
		tx:        tx,
		referrals: referrals,
		directory: directory,
		lifecycle: lifecycle,
		events:    events,
		logger:    zap.NewNop(),
		now:       time.Now,
		metrics:   nopMetrics{},
		tracer:    otel.Tracer("growth/usecase/review"),
		attempts:  defaultConflictAttempts,
	}
}

// WithLogger attaches a structured logger.
func (w *ReviewWorkflow) WithLogger(logger *zap.Logger) *ReviewWorkflow {
	if logger != nil {
		w.logger = logger
	}
	return w
}

// WithNow overrides the clock, primarily for deterministic testing.
func (w *ReviewWorkflow) WithNow(now func() time.Time) *ReviewWorkflow {
	if now != nil {
		w.now = now
	}
	return w
}

// WithMetrics wires telemetry observers.
func (w *ReviewWorkflow) WithMetrics(metrics GrowthMetrics) *ReviewWorkflow {
	if metrics != nil {
		w.metrics = metrics
	}
	return w
}

// WithConflictAttempts bounds how many times a serialization conflict is retried.
func (w *ReviewWorkflow) WithConflictAttempts(attempts int) *ReviewWorkflow {
	if attempts > 0 {
		w.attempts = attempts
	}
	return w
}

// ListPending returns referrals awaiting adjudication, oldest first, enriched with display names.
func (w *ReviewWorkflow) ListPending(ctx context.Context, limit int) ([]domain.ReviewQueueEntry, error) {
	switch {
	case limit <= 0:
		limit = defaultQueueLimit
	case limit > maxQueueLimit:
		limit = maxQueueLimit
	}

	referrals, err := w.referrals.ListPendingReview(ctx, limit)
	if err != nil {
		return nil, translateStoreError(err, "list pending review")
	}

	now := w.now().UTC()
	names := make(map[string]string)
	entries := make([]domain.ReviewQueueEntry, 0, len(referrals))
	for _, r := range referrals {
		age := now.Sub(r.CreatedAt)
		if age < 0 {
			age = 0
		}
		entries = append(entries, domain.ReviewQueueEntry{
			ReferralID:   r.ID,
			ReferrerID:   r.ReferrerID,
			ReferrerName: w.displayName(ctx, names, r.ReferrerID),
			ReferredID:   r.ReferredID,
			ReferredName: w.displayName(ctx, names, r.ReferredID),
			RiskScore:    r.RiskScore,
			Flags:        r.Flags,
			ReviewStatus: r.ReviewStatus,
			CreatedAt:    r.CreatedAt,
			Age:          age,
		})
	}
	return entries, nil
}

func (w *ReviewWorkflow) displayName(ctx context.Context, cache map[string]string, userID string) string {
	if name, ok := cache[userID]; ok {
		return name
	}
	name := userID
	if w.directory != nil {
		info, err := w.directory.GetUserDisplayInfo(ctx, userID)
		switch {
		case err != nil:
			w.logger.Debug("display name lookup failed", zap.String("user_id", userID), zap.Error(err))
		case info.Name != "":
			name = info.Name
		case info.Handle != "":
			name = info.Handle
		}
	}
	cache[userID] = name
	return name
}

// Approve verifies a PENDING referral, increments the referrer's counter and runs the promotion check
// inside the same per-user serialized unit.
func (w *ReviewWorkflow) Approve(ctx context.Context, decision domain.ReviewDecision) (domain.ReviewOutcome, error) {
	if err := validateDecision(decision); err != nil {
		return domain.ReviewOutcome{}, err
	}
	return w.decide(ctx, decision, domain.ReferralStatusVerified)
}

// Reject finalizes a PENDING referral as REJECTED without touching any counter.
func (w *ReviewWorkflow) Reject(ctx context.Context, decision domain.ReviewDecision) (domain.ReviewOutcome, error) {
	if err := validateDecision(decision); err != nil {
		return domain.ReviewOutcome{}, err
	}
	return w.decide(ctx, decision, domain.ReferralStatusRejected)
}

func validateDecision(decision domain.ReviewDecision) error {
	if strings.TrimSpace(decision.ReferralID) == "" {
		return ErrReferralIDRequired
	}
	if strings.TrimSpace(decision.ReviewerID) == "" {
		return ErrReviewerIDRequired
	}
	return nil
}

func (w *ReviewWorkflow) decide(ctx context.Context, decision domain.ReviewDecision, outcome domain.ReferralStatus) (domain.ReviewOutcome, error) {
	referralID := strings.TrimSpace(decision.ReferralID)
	reviewer := strings.TrimSpace(decision.ReviewerID)
	reason := strings.TrimSpace(decision.Reason)

	ctx, span := w.tracer.Start(ctx, "ReviewWorkflow.Decide", trace.WithAttributes(
		attribute.String("referral.id", referralID),
		attribute.String("review.outcome", string(outcome)),
	))
	defer span.End()

	var result domain.ReviewOutcome
	err := retryOnConflict(ctx, w.attempts, func() error {
		return w.tx.WithinTx(ctx, func(ctx context.Context, repos port.TxRepositories) error {
			referral, err := repos.Referrals.GetForUpdate(ctx, referralID)
			if err != nil {
				return translateStoreError(err, "lock referral")
			}
			if !referral.IsPending() {
				return ErrAlreadyFinalized
			}

			now := w.now().UTC()
			if outcome == domain.ReferralStatusRejected {
				updated, err := w.finalize(ctx, repos, *referral, domain.ReferralStatusRejected, domain.ReviewStatusRejected, stringPtr(reviewer), stringPtr(reason), now)
				if err != nil {
					return err
				}
				result = domain.ReviewOutcome{Referral: updated}
				return nil
			}

			updated, promotion, err := w.verifyLocked(ctx, repos, *referral, stringPtr(reviewer), stringPtr(reason), now)
			if err != nil {
				return err
			}
			result = domain.ReviewOutcome{Referral: updated, Promotion: promotion}
			return nil
		})
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrAlreadyFinalized) && !errors.Is(err, ErrNotFound) {
			w.logger.Warn("review decision failed",
				zap.String("referral_id", referralID),
				zap.String("outcome", string(outcome)),
				zap.Error(err),
			)
		}
		return domain.ReviewOutcome{}, err
	}

	w.afterFinalize(ctx, result, false)
	return result, nil
}

// Classify stores the scorer's result on a PENDING referral and, for AUTO_APPROVED results,
// verifies it through the same path used by Approve.
func (w *ReviewWorkflow) Classify(ctx context.Context, referralID string, score domain.ScoreResult) (domain.ReviewOutcome, error) {
	var result domain.ReviewOutcome
	err := retryOnConflict(ctx, w.attempts, func() error {
		return w.tx.WithinTx(ctx, func(ctx context.Context, repos port.TxRepositories) error {
			referral, err := repos.Referrals.GetForUpdate(ctx, referralID)
			if err != nil {
				return translateStoreError(err, "lock referral")
			}
			if !referral.IsPending() {
				return ErrAlreadyFinalized
			}
			if err := repos.Referrals.UpdateRisk(ctx, referral.ID, score.Score, score.Flags, score.ReviewStatus); err != nil {
				return translateStoreError(err, "update risk")
			}
			referral.RiskScore = score.Score
			referral.Flags = score.Flags
			referral.ReviewStatus = score.ReviewStatus

			if score.ReviewStatus != domain.ReviewStatusAutoApproved {
				result = domain.ReviewOutcome{Referral: *referral}
				return nil
			}

			updated, promotion, err := w.verifyLocked(ctx, repos, *referral, nil, nil, w.now().UTC())
			if err != nil {
				return err
			}
			result = domain.ReviewOutcome{Referral: updated, Promotion: promotion}
			return nil
		})
	})
	if err != nil {
		return domain.ReviewOutcome{}, err
	}

	if result.Referral.Status != domain.ReferralStatusPending {
		w.afterFinalize(ctx, result, true)
	}
	return result, nil
}

// verifyLocked is the only path that increments a verified-referral counter.
// Lock order is referral then user, matching every other writer.
func (w *ReviewWorkflow) verifyLocked(ctx context.Context, repos port.TxRepositories, referral domain.Referral, reviewer, reason *string, now time.Time) (domain.Referral, *domain.TransitionResult, error) {
	user, err := repos.Users.GetForUpdate(ctx, referral.ReferrerID)
	if err != nil {
		return domain.Referral{}, nil, translateStoreError(err, "lock referrer")
	}

	updated, err := w.finalize(ctx, repos, referral, domain.ReferralStatusVerified, domain.ReviewStatusAutoApproved, reviewer, reason, now)
	if err != nil {
		return domain.Referral{}, nil, err
	}

	count, err := repos.Users.IncrementVerifiedReferrals(ctx, user.ID)
	if err != nil {
		return domain.Referral{}, nil, translateStoreError(err, "increment verified referrals")
	}
	user.VerifiedReferrals = count

	promotion, err := w.lifecycle.promoteLocked(ctx, repos, user, now)
	if err != nil {
		return domain.Referral{}, nil, err
	}
	return updated, &promotion, nil
}

func (w *ReviewWorkflow) finalize(ctx context.Context, repos port.TxRepositories, referral domain.Referral, status domain.ReferralStatus, reviewStatus domain.ReviewStatus, reviewer, reason *string, now time.Time) (domain.Referral, error) {
	err := repos.Referrals.Finalize(ctx, domain.ReferralFinalization{
		ReferralID:   referral.ID,
		Status:       status,
		ReviewStatus: reviewStatus,
		ReviewerID:   reviewer,
		Reason:       reason,
		DecidedAt:    now,
	})
	if err != nil {
		return domain.Referral{}, translateStoreError(err, "finalize referral")
	}
	referral.Status = status
	referral.ReviewStatus = reviewStatus
	referral.ReviewedBy = reviewer
	referral.ReviewReason = reason
	referral.ReviewedAt = timePtr(now)
	return referral, nil
}

func (w *ReviewWorkflow) afterFinalize(ctx context.Context, outcome domain.ReviewOutcome, automatic bool) {
	r := outcome.Referral
	w.metrics.IncReviewDecision(r.Status, automatic)
	w.logger.Info("referral finalized",
		zap.String("referral_id", r.ID),
		zap.String("referrer_id", r.ReferrerID),
		zap.String("status", string(r.Status)),
		zap.Bool("automatic", automatic),
	)

	if outcome.Promotion != nil {
		w.lifecycle.publish(ctx, outcome.Promotion.Transitions)
	}
	if w.events == nil {
		return
	}

	event := domain.ReviewOutcomeEvent{
		EventID:      r.ID + ":" + string(r.Status),
		ReferralID:   r.ID,
		ReferrerID:   r.ReferrerID,
		ReferredID:   r.ReferredID,
		Outcome:      r.Status,
		ReviewStatus: r.ReviewStatus,
		ReviewerID:   deref(r.ReviewedBy),
		Reason:       deref(r.ReviewReason),
	}
	if r.ReviewedAt != nil {
		event.DecidedAt = *r.ReviewedAt
	}
	if err := w.events.PublishReviewOutcome(ctx, event); err != nil {
		w.logger.Warn("failed to publish review outcome", zap.String("referral_id", r.ID), zap.Error(err))
	}
}
