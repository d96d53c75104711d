package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/infra/config"
)

// MessageHandler processes one consumed message. Returning an error wrapped with backoff.Permanent
// drops the message; any other error is retried before the offset moves on.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// ConsumerGroup routes messages from the subscribed topics to their handlers.
type ConsumerGroup struct {
	group      sarama.ConsumerGroup
	handlers   map[string]MessageHandler
	logger     *zap.Logger
	maxElapsed time.Duration
}

// NewConsumerGroup joins cfg.ConsumerGroup. handlers is keyed by unprefixed event type.
func NewConsumerGroup(cfg config.KafkaSettings, handlers map[string]MessageHandler, logger *zap.Logger) (*ConsumerGroup, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return newConsumerGroup(group, cfg.TopicPrefix, handlers, logger), nil
}

func newConsumerGroup(group sarama.ConsumerGroup, prefix string, handlers map[string]MessageHandler, logger *zap.Logger) *ConsumerGroup {
	if logger == nil {
		logger = zap.NewNop()
	}
	routed := make(map[string]MessageHandler, len(handlers))
	for eventType, handler := range handlers {
		routed[topicName(prefix, eventType)] = handler
	}
	return &ConsumerGroup{group: group, handlers: routed, logger: logger, maxElapsed: 30 * time.Second}
}

// Topics returns the fully qualified topic names the group subscribes to.
func (c *ConsumerGroup) Topics() []string {
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	return topics
}

// Run consumes until ctx is cancelled or the group is closed.
func (c *ConsumerGroup) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	topics := c.Topics()
	c.logger.Info("Kafka consumer group started", zap.Strings("topics", topics))
	for {
		if err := c.group.Consume(ctx, topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the group.
func (c *ConsumerGroup) Close() error {
	return c.group.Close()
}

func (c *ConsumerGroup) Setup(sarama.ConsumerGroupSession) error { return nil }

func (c *ConsumerGroup) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes messages in partition order and marks each one once it is handled or dropped.
func (c *ConsumerGroup) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !c.dispatch(ctx, msg) {
				return nil
			}
			session.MarkMessage(msg, "")
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatch reports false when the session ended before the message was settled.
func (c *ConsumerGroup) dispatch(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	handler, ok := c.handlers[msg.Topic]
	if !ok {
		c.logger.Warn("no handler for topic", zap.String("topic", msg.Topic))
		return true
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = c.maxElapsed

	err := backoff.Retry(func() error {
		return handler.HandleMessage(ctx, msg)
	}, backoff.WithContext(policy, ctx))
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		c.logger.Error("dropping kafka message",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
	return true
}
