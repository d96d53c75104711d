package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/usecase"
)

// ActivityRecorder is the subset of the decay monitor used by the consumer.
type ActivityRecorder interface {
	TouchActivity(ctx context.Context, userID string, at time.Time) (domain.TransitionResult, error)
}

// ActivityConsumer refreshes the decay clock from growth.user.activity events.
type ActivityConsumer struct {
	recorder ActivityRecorder
	logger   *zap.Logger
}

func NewActivityConsumer(recorder ActivityRecorder, logger *zap.Logger) *ActivityConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityConsumer{recorder: recorder, logger: logger}
}

func (c *ActivityConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return backoff.Permanent(errors.New("message is nil"))
	}

	var event domain.UserActivityEvent
	if err := decodePayload(msg.Value, &event); err != nil {
		return backoff.Permanent(fmt.Errorf("decode user activity event: %w", err))
	}

	return c.HandleEvent(ctx, event)
}

// HandleEvent touches the user's activity clock. Unknown users are dropped.
func (c *ActivityConsumer) HandleEvent(ctx context.Context, event domain.UserActivityEvent) error {
	result, err := c.recorder.TouchActivity(ctx, event.UserID, event.OccurredAt)
	switch {
	case err == nil:
		if result.Changed {
			c.logger.Info("user reactivated", zap.String("user_id", event.UserID), zap.String("to", result.To.String()))
		}
		return nil
	case errors.Is(err, usecase.ErrTransientConflict), errors.Is(err, usecase.ErrSignalUnavailable):
		return err
	default:
		return backoff.Permanent(err)
	}
}
