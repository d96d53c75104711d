package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, eventID, aggregateID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("event_id", eventID),
		zap.String("aggregate_id", aggregateID),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

func (p *StubPublisher) PublishStateChanged(_ context.Context, event domain.StateChangedEvent) error {
	p.logEvent(EventStateChanged, event.EventID, event.UserID, event.ChangedAt,
		zap.String("from", event.From.String()),
		zap.String("to", event.To.String()),
		zap.String("reason", event.Reason),
		zap.String("actor", event.Actor),
	)
	return nil
}

func (p *StubPublisher) PublishReviewOutcome(_ context.Context, event domain.ReviewOutcomeEvent) error {
	p.logEvent(EventReviewOutcome, event.EventID, event.ReferrerID, event.DecidedAt,
		zap.String("referral_id", event.ReferralID),
		zap.String("outcome", string(event.Outcome)),
		zap.String("review_status", string(event.ReviewStatus)),
		zap.String("reviewer_id", event.ReviewerID),
	)
	return nil
}

func (p *StubPublisher) PublishReferralScored(_ context.Context, event domain.ReferralScoredEvent) error {
	p.logEvent(EventReferralScored, event.EventID, event.ReferrerID, event.ScoredAt,
		zap.String("referral_id", event.ReferralID),
		zap.Int("risk_score", event.RiskScore),
		zap.Strings("flags", event.Flags),
		zap.Bool("degraded", event.Degraded),
	)
	return nil
}

func (p *StubPublisher) PublishDecayWarning(_ context.Context, event domain.DecayWarningEvent) error {
	p.logEvent(EventDecayWarning, event.EventID, event.UserID, event.WarnedAt,
		zap.Int("days_inactive", event.DaysInactive),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
