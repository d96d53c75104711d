package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
	"github.com/arklim/social-platform-growth/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types published by the growth service.
const (
	EventStateChanged   = "growth.user.state.changed"
	EventReviewOutcome  = "growth.referral.reviewed"
	EventReferralScored = "growth.referral.scored"
	EventDecayWarning   = "growth.user.decay.warned"
)

// Event types consumed by the growth service.
const (
	EventReferralAttempted = "growth.referral.attempted"
	EventUserActivity      = "growth.user.activity"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID     string           `json:"event_id"`
	EventType   string           `json:"event_type"`
	AggregateID string           `json:"aggregate_id"`
	Timestamp   time.Time        `json:"timestamp"`
	Version     string           `json:"version"`
	Payload     any              `json:"payload"`
	Metadata    envelopeMetadata `json:"metadata,omitempty"`
}

// publish wraps payload in the shared envelope. aggregateID doubles as the partition key.
func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, aggregateID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:     id,
		EventType:   eventType,
		AggregateID: aggregateID,
		Timestamp:   ts.UTC(),
		Version:     schemaVersion,
		Payload:     payload,
		Metadata:    metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	if err := p.producer.Send(ctx, eventType, aggregateID, bytes); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// PublishStateChanged publishes growth.user.state.changed events.
func (p *EventPublisher) PublishStateChanged(ctx context.Context, event domain.StateChangedEvent) error {
	payload := struct {
		UserID    string    `json:"user_id"`
		From      string    `json:"from"`
		To        string    `json:"to"`
		Reason    string    `json:"reason"`
		Actor     string    `json:"actor"`
		ChangedAt time.Time `json:"changed_at"`
	}{
		UserID:    event.UserID,
		From:      event.From.String(),
		To:        event.To.String(),
		Reason:    event.Reason,
		Actor:     event.Actor,
		ChangedAt: event.ChangedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventStateChanged, event.UserID, event.ChangedAt, payload)
}

// PublishReviewOutcome publishes growth.referral.reviewed events.
func (p *EventPublisher) PublishReviewOutcome(ctx context.Context, event domain.ReviewOutcomeEvent) error {
	payload := struct {
		ReferralID   string    `json:"referral_id"`
		ReferrerID   string    `json:"referrer_id"`
		ReferredID   string    `json:"referred_id"`
		Outcome      string    `json:"outcome"`
		ReviewStatus string    `json:"review_status"`
		ReviewerID   string    `json:"reviewer_id,omitempty"`
		Reason       string    `json:"reason,omitempty"`
		DecidedAt    time.Time `json:"decided_at"`
	}{
		ReferralID:   event.ReferralID,
		ReferrerID:   event.ReferrerID,
		ReferredID:   event.ReferredID,
		Outcome:      string(event.Outcome),
		ReviewStatus: string(event.ReviewStatus),
		ReviewerID:   event.ReviewerID,
		Reason:       event.Reason,
		DecidedAt:    event.DecidedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventReviewOutcome, event.ReferrerID, event.DecidedAt, payload)
}

// PublishReferralScored publishes growth.referral.scored events.
func (p *EventPublisher) PublishReferralScored(ctx context.Context, event domain.ReferralScoredEvent) error {
	flags := event.Flags
	if flags == nil {
		flags = []string{}
	}
	payload := struct {
		ReferralID   string    `json:"referral_id"`
		ReferrerID   string    `json:"referrer_id"`
		RiskScore    int       `json:"risk_score"`
		Flags        []string  `json:"flags"`
		ReviewStatus string    `json:"review_status"`
		Degraded     bool      `json:"degraded"`
		ScoredAt     time.Time `json:"scored_at"`
	}{
		ReferralID:   event.ReferralID,
		ReferrerID:   event.ReferrerID,
		RiskScore:    event.RiskScore,
		Flags:        flags,
		ReviewStatus: string(event.ReviewStatus),
		Degraded:     event.Degraded,
		ScoredAt:     event.ScoredAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventReferralScored, event.ReferrerID, event.ScoredAt, payload)
}

// PublishDecayWarning publishes growth.user.decay.warned events.
func (p *EventPublisher) PublishDecayWarning(ctx context.Context, event domain.DecayWarningEvent) error {
	payload := struct {
		UserID       string    `json:"user_id"`
		DaysInactive int       `json:"days_inactive"`
		WarnedAt     time.Time `json:"warned_at"`
	}{
		UserID:       event.UserID,
		DaysInactive: event.DaysInactive,
		WarnedAt:     event.WarnedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventDecayWarning, event.UserID, event.WarnedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
