package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/usecase"
)

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

type scriptedHandler struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (h *scriptedHandler) HandleMessage(context.Context, *sarama.ConsumerMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if len(h.errs) == 0 {
		return nil
	}
	err := h.errs[0]
	h.errs = h.errs[1:]
	return err
}

func runClaim(t *testing.T, group *ConsumerGroup, msgs ...*sarama.ConsumerMessage) *fakeSession {
	t.Helper()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(msgs))}
	for _, msg := range msgs {
		claim.messages <- msg
	}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	if err := group.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim returned error: %v", err)
	}
	return session
}

func TestConsumeClaim_RoutesByPrefixedTopicAndMarks(t *testing.T) {
	referrals := &scriptedHandler{}
	activity := &scriptedHandler{}
	group := newConsumerGroup(nil, "growth", map[string]MessageHandler{
		EventReferralAttempted: referrals,
		EventUserActivity:      activity,
	}, zaptest.NewLogger(t))

	session := runClaim(t, group,
		&sarama.ConsumerMessage{Topic: EventReferralAttempted, Offset: 1},
		&sarama.ConsumerMessage{Topic: EventUserActivity, Offset: 2},
		&sarama.ConsumerMessage{Topic: "growth.unknown", Offset: 3},
	)

	if referrals.calls != 1 || activity.calls != 1 {
		t.Fatalf("unexpected routing: referrals=%d activity=%d", referrals.calls, activity.calls)
	}
	if len(session.marked) != 3 {
		t.Fatalf("expected every message to be marked, got %v", session.marked)
	}
}

func TestConsumeClaim_RetriesTransientFailures(t *testing.T) {
	handler := &scriptedHandler{errs: []error{usecase.ErrTransientConflict, usecase.ErrTransientConflict}}
	group := newConsumerGroup(nil, "", map[string]MessageHandler{EventUserActivity: handler}, zaptest.NewLogger(t))

	session := runClaim(t, group, &sarama.ConsumerMessage{Topic: EventUserActivity, Offset: 7})

	if handler.calls != 3 {
		t.Fatalf("expected two retries before success, got %d calls", handler.calls)
	}
	if len(session.marked) != 1 || session.marked[0] != 7 {
		t.Fatalf("expected offset 7 marked, got %v", session.marked)
	}
}

func TestConsumeClaim_DropsPermanentFailures(t *testing.T) {
	handler := &scriptedHandler{errs: []error{backoff.Permanent(errors.New("bad payload"))}}
	group := newConsumerGroup(nil, "", map[string]MessageHandler{EventUserActivity: handler}, zaptest.NewLogger(t))

	session := runClaim(t, group, &sarama.ConsumerMessage{Topic: EventUserActivity, Offset: 9})

	if handler.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", handler.calls)
	}
	if len(session.marked) != 1 {
		t.Fatalf("expected dropped message to be marked, got %v", session.marked)
	}
}

func TestConsumeClaim_LeavesMessageUnmarkedOnShutdown(t *testing.T) {
	handler := &scriptedHandler{errs: []error{usecase.ErrSignalUnavailable}}
	group := newConsumerGroup(nil, "", map[string]MessageHandler{EventUserActivity: handler}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: EventUserActivity, Offset: 4}
	session := &fakeSession{ctx: ctx}

	if err := group.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim returned error: %v", err)
	}
	if len(session.marked) != 0 {
		t.Fatalf("expected no offsets marked after shutdown, got %v", session.marked)
	}
}

type stubRecorder struct {
	attempts []domain.ReferralAttempt
	err      error
}

func (s *stubRecorder) RecordAttempt(_ context.Context, attempt domain.ReferralAttempt) (domain.ReviewOutcome, domain.ScoreResult, error) {
	s.attempts = append(s.attempts, attempt)
	return domain.ReviewOutcome{}, domain.ScoreResult{ReviewStatus: domain.ReviewStatusAutoApproved}, s.err
}

func TestReferralAttemptConsumer_DecodesEnvelopeAndBarePayload(t *testing.T) {
	recorder := &stubRecorder{}
	consumer := NewReferralAttemptConsumer(recorder, zaptest.NewLogger(t))

	bare, _ := json.Marshal(domain.ReferralAttemptedEvent{ReferrerID: "alice", ReferredID: "bob", OriginSignal: "203.0.113.7"})
	wrapped, _ := json.Marshal(map[string]any{
		"event_type": EventReferralAttempted,
		"payload":    domain.ReferralAttemptedEvent{ReferrerID: "alice", ReferredID: "carol", DeviceSignal: "dev"},
	})

	for _, value := range [][]byte{bare, wrapped} {
		if err := consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: value}); err != nil {
			t.Fatalf("HandleMessage returned error: %v", err)
		}
	}

	if len(recorder.attempts) != 2 {
		t.Fatalf("expected two attempts, got %d", len(recorder.attempts))
	}
	if recorder.attempts[0].ReferredID != "bob" || recorder.attempts[0].OriginSignal != "203.0.113.7" {
		t.Fatalf("unexpected first attempt: %+v", recorder.attempts[0])
	}
	if recorder.attempts[1].ReferredID != "carol" || recorder.attempts[1].DeviceSignal != "dev" {
		t.Fatalf("unexpected second attempt: %+v", recorder.attempts[1])
	}
}

func TestReferralAttemptConsumer_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantNil   bool
		permanent bool
	}{
		{"redelivery", usecase.ErrReferralExists, true, false},
		{"transient", usecase.ErrTransientConflict, false, false},
		{"store down", usecase.ErrSignalUnavailable, false, false},
		{"invalid", usecase.ErrReferrerIDRequired, false, true},
	}
	for _, tc := range cases {
		consumer := NewReferralAttemptConsumer(&stubRecorder{err: tc.err}, nil)
		err := consumer.HandleEvent(context.Background(), domain.ReferralAttemptedEvent{ReferrerID: "alice", ReferredID: "bob"})
		if tc.wantNil {
			if err != nil {
				t.Fatalf("%s: expected nil, got %v", tc.name, err)
			}
			continue
		}
		var permanent *backoff.PermanentError
		if got := errors.As(err, &permanent); got != tc.permanent {
			t.Fatalf("%s: permanent=%v, want %v (err=%v)", tc.name, got, tc.permanent, err)
		}
	}
}

func TestReferralAttemptConsumer_RejectsMalformedJSON(t *testing.T) {
	consumer := NewReferralAttemptConsumer(&stubRecorder{}, nil)
	err := consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("{not json")})

	var permanent *backoff.PermanentError
	if !errors.As(err, &permanent) {
		t.Fatalf("expected permanent decode error, got %v", err)
	}
}

type stubToucher struct {
	userID string
	at     time.Time
	result domain.TransitionResult
	err    error
}

func (s *stubToucher) TouchActivity(_ context.Context, userID string, at time.Time) (domain.TransitionResult, error) {
	s.userID = userID
	s.at = at
	return s.result, s.err
}

func TestActivityConsumer_TouchesUser(t *testing.T) {
	occurred := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	toucher := &stubToucher{result: domain.TransitionResult{UserID: "alice", Changed: true, To: domain.StateRegistered}}
	consumer := NewActivityConsumer(toucher, zaptest.NewLogger(t))

	value, _ := json.Marshal(domain.UserActivityEvent{UserID: "alice", OccurredAt: occurred})
	if err := consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: value}); err != nil {
		t.Fatalf("HandleMessage returned error: %v", err)
	}
	if toucher.userID != "alice" || !toucher.at.Equal(occurred) {
		t.Fatalf("unexpected touch: %s at %s", toucher.userID, toucher.at)
	}
}

func TestActivityConsumer_UnknownUserIsDropped(t *testing.T) {
	consumer := NewActivityConsumer(&stubToucher{err: usecase.ErrNotFound}, nil)

	err := consumer.HandleEvent(context.Background(), domain.UserActivityEvent{UserID: "ghost"})
	var permanent *backoff.PermanentError
	if !errors.As(err, &permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
