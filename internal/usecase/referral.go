package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
)

// ReferralService records referral attempts, scores them and hands them to the review workflow.
type ReferralService struct {
	referrals port.ReferralRepository
	indexer   port.SignalIndexer
	scorer    *FraudScorer
	review    *ReviewWorkflow
	lifecycle *LifecycleStateMachine
	events    port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewReferralService constructs the intake service. indexer may be nil when signals are read from the referral table.
// lifecycle provisions the referred user on its first referral.
func NewReferralService(referrals port.ReferralRepository, indexer port.SignalIndexer, scorer *FraudScorer, review *ReviewWorkflow, lifecycle *LifecycleStateMachine, events port.EventPublisher) *ReferralService {
	return &ReferralService{
		referrals: referrals,
		indexer:   indexer,
		scorer:    scorer,
		review:    review,
		lifecycle: lifecycle,
		events:    events,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
}

// WithLogger attaches a structured logger.
func (s *ReferralService) WithLogger(logger *zap.Logger) *ReferralService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithNow overrides the clock, primarily for deterministic testing.
func (s *ReferralService) WithNow(now func() time.Time) *ReferralService {
	if now != nil {
		s.now = now
	}
	return s
}

// Get returns a single referral.
func (s *ReferralService) Get(ctx context.Context, referralID string) (*domain.Referral, error) {
	referralID = strings.TrimSpace(referralID)
	if referralID == "" {
		return nil, ErrReferralIDRequired
	}
	referral, err := s.referrals.GetByID(ctx, referralID)
	if err != nil {
		return nil, translateStoreError(err, "load referral")
	}
	return referral, nil
}

// RecordAttempt registers the referred user, persists a PENDING referral, scores it and classifies it.
// AUTO_APPROVED referrals are verified immediately; everything else lands in the review queue.
func (s *ReferralService) RecordAttempt(ctx context.Context, attempt domain.ReferralAttempt) (domain.ReviewOutcome, domain.ScoreResult, error) {
	referrerID := strings.TrimSpace(attempt.ReferrerID)
	if referrerID == "" {
		return domain.ReviewOutcome{}, domain.ScoreResult{}, ErrReferrerIDRequired
	}
	referredID := strings.TrimSpace(attempt.ReferredID)
	if referredID == "" {
		return domain.ReviewOutcome{}, domain.ScoreResult{}, ErrReferredIDRequired
	}

	referral := domain.Referral{
		ID:              uuid.NewString(),
		ReferrerID:      referrerID,
		ReferredID:      referredID,
		Code:            strings.TrimSpace(attempt.Code),
		Status:          domain.ReferralStatusPending,
		ReviewStatus:    domain.ReviewStatusPendingReview,
		Flags:           []string{},
		OriginSignal:    stringPtr(strings.TrimSpace(attempt.OriginSignal)),
		ClientSignature: stringPtr(strings.TrimSpace(attempt.ClientSignature)),
		DeviceHash:      stringPtr(domain.HashDeviceSignal(attempt.DeviceSignal)),
		CreatedAt:       s.now().UTC(),
	}

	if s.lifecycle != nil {
		if _, err := s.lifecycle.Register(ctx, referredID); err != nil {
			return domain.ReviewOutcome{}, domain.ScoreResult{}, err
		}
	}

	if err := s.referrals.Create(ctx, referral); err != nil {
		return domain.ReviewOutcome{}, domain.ScoreResult{}, translateStoreError(err, "create referral")
	}

	indexed := true
	if s.indexer != nil {
		if err := s.indexer.Index(ctx, referral); err != nil {
			indexed = false
			s.logger.Warn("failed to index referral signals", zap.String("referral_id", referral.ID), zap.Error(err))
		}
	}

	var score domain.ScoreResult
	if indexed {
		score = s.scorer.Score(ctx, referral)
	} else {
		score = s.scorer.ScoreUnindexed(ctx, referral)
	}

	outcome, err := s.review.Classify(ctx, referral.ID, score)
	if err != nil {
		s.logger.Error("failed to classify referral", zap.String("referral_id", referral.ID), zap.Error(err))
		s.keepScore(ctx, referral.ID, score)
		return domain.ReviewOutcome{}, score, err
	}

	s.logger.Info("referral scored",
		zap.String("referral_id", referral.ID),
		zap.String("referrer_id", referrerID),
		zap.Int("risk_score", score.Score),
		zap.Strings("flags", score.Flags),
		zap.String("review_status", string(score.ReviewStatus)),
	)

	if s.events != nil {
		event := domain.ReferralScoredEvent{
			EventID:      uuid.NewString(),
			ReferralID:   referral.ID,
			ReferrerID:   referrerID,
			RiskScore:    score.Score,
			Flags:        score.Flags,
			ReviewStatus: score.ReviewStatus,
			Degraded:     score.Degraded,
			ScoredAt:     referral.CreatedAt,
		}
		if err := s.events.PublishReferralScored(ctx, event); err != nil {
			s.logger.Warn("failed to publish referral scored event", zap.String("referral_id", referral.ID), zap.Error(err))
		}
	}

	return outcome, score, nil
}

// keepScore stores the score on a referral whose classification failed so the queue still
// shows why it is there. Verification is left to a reviewer.
func (s *ReferralService) keepScore(ctx context.Context, referralID string, score domain.ScoreResult) {
	status := score.ReviewStatus
	if status == domain.ReviewStatusAutoApproved {
		status = domain.ReviewStatusPendingReview
	}
	err := s.referrals.UpdateRisk(context.WithoutCancel(ctx), referralID, score.Score, score.Flags, status)
	if err != nil {
		s.logger.Error("failed to keep referral score", zap.String("referral_id", referralID), zap.Error(err))
	}
}
