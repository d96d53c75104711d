package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/usecase"
)

// ReferralRecorder is the subset of the referral service used by the consumer.
type ReferralRecorder interface {
	RecordAttempt(ctx context.Context, attempt domain.ReferralAttempt) (domain.ReviewOutcome, domain.ScoreResult, error)
}

// ReferralAttemptConsumer records referral attempts published by the front-end.
type ReferralAttemptConsumer struct {
	recorder ReferralRecorder
	logger   *zap.Logger
}

// NewReferralAttemptConsumer constructs a consumer for growth.referral.attempted.
func NewReferralAttemptConsumer(recorder ReferralRecorder, logger *zap.Logger) *ReferralAttemptConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReferralAttemptConsumer{recorder: recorder, logger: logger}
}

// HandleMessage decodes a Kafka message prior to processing.
func (c *ReferralAttemptConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return backoff.Permanent(errors.New("message is nil"))
	}

	var event domain.ReferralAttemptedEvent
	if err := decodePayload(msg.Value, &event); err != nil {
		return backoff.Permanent(fmt.Errorf("decode referral attempted event: %w", err))
	}

	return c.HandleEvent(ctx, event)
}

// HandleEvent records the attempt. Redelivered attempts are acknowledged without side effects.
func (c *ReferralAttemptConsumer) HandleEvent(ctx context.Context, event domain.ReferralAttemptedEvent) error {
	_, score, err := c.recorder.RecordAttempt(ctx, domain.ReferralAttempt{
		ReferrerID:      event.ReferrerID,
		ReferredID:      event.ReferredID,
		Code:            event.Code,
		OriginSignal:    event.OriginSignal,
		ClientSignature: event.ClientSignature,
		DeviceSignal:    event.DeviceSignal,
	})
	switch {
	case err == nil:
		c.logger.Debug("referral attempt consumed",
			zap.String("referred_id", event.ReferredID),
			zap.String("review_status", string(score.ReviewStatus)),
		)
		return nil
	case errors.Is(err, usecase.ErrReferralExists):
		c.logger.Debug("referral attempt already recorded", zap.String("referred_id", event.ReferredID))
		return nil
	case errors.Is(err, usecase.ErrTransientConflict), errors.Is(err, usecase.ErrSignalUnavailable):
		return err
	default:
		return backoff.Permanent(err)
	}
}

// decodePayload accepts either a bare payload or the shared event envelope.
func decodePayload(raw []byte, out any) error {
	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	if len(envelope.Payload) > 0 && string(envelope.Payload) != "null" {
		raw = envelope.Payload
	}
	return json.Unmarshal(raw, out)
}
