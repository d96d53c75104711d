package kafka

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/infra/config"
)

// Producer publishes growth events without blocking the caller on broker acknowledgement.
// Delivery failures are logged; they never surface to the state change that emitted the event.
type Producer struct {
	async  sarama.AsyncProducer
	prefix string
	logger *zap.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewProducer dials the brokers. With cfg.Async the producer batches and waits for the
// leader only; otherwise every message is flushed alone and acknowledged by all replicas.
func NewProducer(cfg config.KafkaSettings, logger *zap.Logger) (*Producer, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V3_5_0_0
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Retry.Max = 3
	sc.Producer.Return.Errors = true
	sc.Metadata.Retry.Max = 3
	sc.Metadata.Retry.Backoff = 250 * time.Millisecond

	if cfg.Async {
		sc.Producer.RequiredAcks = sarama.WaitForLocal
		sc.Producer.Flush.Frequency = 100 * time.Millisecond
		sc.Producer.Flush.Messages = 100
	} else {
		sc.Producer.RequiredAcks = sarama.WaitForAll
		sc.Producer.Idempotent = true
		sc.Producer.Retry.Max = 5
		sc.Net.MaxOpenRequests = 1
	}

	async, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("dial kafka brokers: %w", err)
	}

	p := newProducer(async, cfg, logger)
	p.logger.Info("kafka producer ready",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix),
		zap.Bool("async", cfg.Async),
	)
	return p, nil
}

func newProducer(async sarama.AsyncProducer, cfg config.KafkaSettings, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Producer{
		async:  async,
		prefix: cfg.TopicPrefix,
		logger: logger,
		stop:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.drainFailures()
	return p
}

// drainFailures keeps the Errors channel empty so Input never stalls on undelivered messages.
func (p *Producer) drainFailures() {
	defer p.wg.Done()
	for {
		select {
		case perr, ok := <-p.async.Errors():
			if !ok {
				return
			}
			if perr == nil {
				continue
			}
			fields := []zap.Field{zap.Error(perr.Err)}
			if perr.Msg != nil {
				fields = append(fields, zap.String("topic", perr.Msg.Topic), zap.Int32("partition", perr.Msg.Partition))
			}
			p.logger.Error("kafka delivery failed", fields...)
		case <-p.stop:
			return
		}
	}
}

// Send enqueues value on the prefixed topic, keyed by aggregate id so one user's events stay ordered.
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topicName(p.prefix, topic),
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	select {
	case p.async.Input() <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", msg.Topic, ctx.Err())
	}
}

// Close flushes buffered messages and stops the failure drain.
func (p *Producer) Close() error {
	close(p.stop)
	p.wg.Wait()
	if err := p.async.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

func topicName(prefix, eventType string) string {
	if prefix == "" || strings.HasPrefix(eventType, prefix+".") {
		return eventType
	}
	return prefix + "." + eventType
}
