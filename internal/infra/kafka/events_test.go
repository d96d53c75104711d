package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T, prefix string) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()

	asyncProducer := newFakeAsyncProducer()
	producer := newProducer(asyncProducer, config.KafkaSettings{TopicPrefix: prefix}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = producer.Close() })

	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "growth-service",
		Env:  "test",
	}, zaptest.NewLogger(t))
	return publisher, asyncProducer
}

func receiveEnvelope(t *testing.T, producer *fakeAsyncProducer) (*sarama.ProducerMessage, map[string]any) {
	t.Helper()

	select {
	case msg := <-producer.input:
		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}
		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return msg, envelope
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on async producer input channel")
	}
	return nil, nil
}

func TestPublishStateChanged(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t, "growth")

	changedAt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	event := domain.StateChangedEvent{
		EventID:   "transition-1",
		UserID:    "alice",
		From:      domain.StateRegistered,
		To:        domain.StateEntryTier,
		Reason:    "verified referrals reached 2",
		Actor:     "system",
		ChangedAt: changedAt,
	}

	if err := publisher.PublishStateChanged(context.Background(), event); err != nil {
		t.Fatalf("PublishStateChanged returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != EventStateChanged {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	key, err := msg.Key.Encode()
	if err != nil || string(key) != "alice" {
		t.Fatalf("expected message keyed by user id, got %q (%v)", key, err)
	}
	if got := envelope["event_id"]; got != "transition-1" {
		t.Fatalf("unexpected event_id: %v", got)
	}
	if got := envelope["aggregate_id"]; got != "alice" {
		t.Fatalf("unexpected aggregate_id: %v", got)
	}
	if got := envelope["timestamp"]; got != changedAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %v", got)
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if payload["from"] != "REGISTERED" || payload["to"] != "ENTRY_TIER" {
		t.Fatalf("unexpected edge in payload: %v", payload)
	}
	if payload["actor"] != "system" {
		t.Fatalf("unexpected actor: %v", payload["actor"])
	}

	metadata, ok := envelope["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("envelope metadata not a map: %T", envelope["metadata"])
	}
	if metadata["service"] != "growth-service" || metadata["environment"] != "test" {
		t.Fatalf("unexpected metadata: %v", metadata)
	}
}

func TestPublishReferralScored_PrefixesTopicAndKeepsEmptyFlags(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t, "staging")

	event := domain.ReferralScoredEvent{
		ReferralID:   "ref-1",
		ReferrerID:   "alice",
		RiskScore:    0,
		ReviewStatus: domain.ReviewStatusAutoApproved,
		ScoredAt:     time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishReferralScored(context.Background(), event); err != nil {
		t.Fatalf("PublishReferralScored returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != "staging."+EventReferralScored {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	if id, _ := envelope["event_id"].(string); id == "" {
		t.Fatal("expected generated event id")
	}
	payload := envelope["payload"].(map[string]any)
	flags, ok := payload["flags"].([]any)
	if !ok || len(flags) != 0 {
		t.Fatalf("expected empty flags array, got %v", payload["flags"])
	}
	if payload["review_status"] != "AUTO_APPROVED" {
		t.Fatalf("unexpected review_status: %v", payload["review_status"])
	}
}

func TestPublishReviewOutcome(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t, "")

	event := domain.ReviewOutcomeEvent{
		EventID:      "ref-1:REJECTED",
		ReferralID:   "ref-1",
		ReferrerID:   "alice",
		ReferredID:   "bob",
		Outcome:      domain.ReferralStatusRejected,
		ReviewStatus: domain.ReviewStatusRejected,
		ReviewerID:   "admin-1",
		Reason:       "shared device",
		DecidedAt:    time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishReviewOutcome(context.Background(), event); err != nil {
		t.Fatalf("PublishReviewOutcome returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, asyncProducer)
	if msg.Topic != EventReviewOutcome {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	payload := envelope["payload"].(map[string]any)
	if payload["outcome"] != "REJECTED" || payload["reviewer_id"] != "admin-1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestPublishRespectsCancelledContext(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t, "")
	asyncProducer.input <- &sarama.ProducerMessage{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishDecayWarning(ctx, domain.DecayWarningEvent{UserID: "alice", DaysInactive: 8})
	if err == nil {
		t.Fatal("expected error when producer input is full and context is cancelled")
	}
}

func TestTopicName(t *testing.T) {
	cases := map[string]struct{ prefix, in, want string }{
		"no prefix":       {"", "growth.user.activity", "growth.user.activity"},
		"prefix applied":  {"dev", "growth.user.activity", "dev.growth.user.activity"},
		"already present": {"growth", "growth.user.activity", "growth.user.activity"},
	}
	for name, tc := range cases {
		if got := topicName(tc.prefix, tc.in); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", name, tc.want, got)
		}
	}
}
