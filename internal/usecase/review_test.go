package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

func TestApproveCrossingEntryThresholdPromotes(t *testing.T) {
	h := newHarness()
	h.store.addUser(domain.User{ID: "alice", State: domain.StateRegistered, VerifiedReferrals: 1})
	h.seedPending("ref-1", "alice", "bob", baseTime.Add(-time.Hour))

	outcome, err := h.review.Approve(context.Background(), domain.ReviewDecision{ReferralID: "ref-1", ReviewerID: "admin-1", Reason: "looks legitimate"})
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if outcome.Referral.Status != domain.ReferralStatusVerified {
		t.Fatalf("expected VERIFIED, got %s", outcome.Referral.Status)
	}
	if outcome.Promotion == nil || !outcome.Promotion.Changed || outcome.Promotion.To != domain.StateEntryTier {
		t.Fatalf("expected promotion to ENTRY_TIER, got %+v", outcome.Promotion)
	}

	user := h.store.user("alice")
	if user.State != domain.StateEntryTier || user.VerifiedReferrals != 2 {
		t.Fatalf("unexpected user after approve: %+v", user)
	}
	if user.TierUnlockedAt == nil || !user.TierUnlockedAt.Equal(baseTime) {
		t.Fatalf("expected tier unlock stamped at %v, got %v", baseTime, user.TierUnlockedAt)
	}

	again, err := h.lifecycle.CheckPromotionByReferralCount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CheckPromotionByReferralCount returned error: %v", err)
	}
	if again.Changed {
		t.Fatalf("expected no-op promotion check, got %+v", again)
	}

	stored := h.store.referral("ref-1")
	if stored.ReviewedBy == nil || *stored.ReviewedBy != "admin-1" {
		t.Fatalf("expected reviewer recorded, got %v", stored.ReviewedBy)
	}
	if len(h.events.outcomes) != 1 || h.events.outcomes[0].Outcome != domain.ReferralStatusVerified {
		t.Fatalf("expected one VERIFIED outcome event, got %+v", h.events.outcomes)
	}
	if len(h.events.changed) != 1 || h.events.changed[0].To != domain.StateEntryTier {
		t.Fatalf("expected one state changed event, got %+v", h.events.changed)
	}
}

func TestApproveTwiceFailsWithoutDoubleCounting(t *testing.T) {
	h := newHarness()
	h.store.addUser(domain.User{ID: "alice"})
	h.seedPending("ref-1", "alice", "bob", baseTime)

	decision := domain.ReviewDecision{ReferralID: "ref-1", ReviewerID: "admin-1"}
	if _, err := h.review.Approve(context.Background(), decision); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err := h.review.Approve(context.Background(), decision)
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if got := h.store.user("alice").VerifiedReferrals; got != 1 {
		t.Fatalf("expected counter 1, got %d", got)
	}
}

func TestRejectIsTerminal(t *testing.T) {
	h := newHarness()
	h.store.addUser(domain.User{ID: "alice"})
	h.seedPending("ref-1", "alice", "bob", baseTime)

	outcome, err := h.review.Reject(context.Background(), domain.ReviewDecision{ReferralID: "ref-1", ReviewerID: "admin-1", Reason: "device farm"})
	if err != nil {
		t.Fatalf("Reject returned error: %v", err)
	}
	if outcome.Referral.Status != domain.ReferralStatusRejected || outcome.Referral.ReviewStatus != domain.ReviewStatusRejected {
		t.Fatalf("unexpected referral after reject: %+v", outcome.Referral)
	}
	if got := h.store.user("alice").VerifiedReferrals; got != 0 {
		t.Fatalf("reject must not touch the counter, got %d", got)
	}
	if _, err := h.review.Approve(context.Background(), domain.ReviewDecision{ReferralID: "ref-1", ReviewerID: "admin-2"}); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized after reject, got %v", err)
	}
	if got := h.store.referral("ref-1").Status; got != domain.ReferralStatusRejected {
		t.Fatalf("expected status to stay REJECTED, got %s", got)
	}
}

func TestApproveUnknownReferral(t *testing.T) {
	h := newHarness()
	_, err := h.review.Approve(context.Background(), domain.ReviewDecision{ReferralID: "missing", ReviewerID: "admin-1"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecisionValidation(t *testing.T) {
	h := newHarness()
	if _, err := h.review.Approve(context.Background(), domain.ReviewDecision{ReviewerID: "admin"}); !errors.Is(err, ErrReferralIDRequired) {
		t.Fatalf("expected ErrReferralIDRequired, got %v", err)
	}
	if _, err := h.review.Reject(context.Background(), domain.ReviewDecision{ReferralID: "ref"}); !errors.Is(err, ErrReviewerIDRequired) {
		t.Fatalf("expected ErrReviewerIDRequired, got %v", err)
	}
}

func TestListPendingOrdersOldestFirstWithNames(t *testing.T) {
	h := newHarness()
	h.store.addUser(domain.User{ID: "alice", DisplayName: "Alice Example"})
	h.store.addUser(domain.User{ID: "bob", Handle: "bobby"})
	h.seedPending("ref-new", "alice", "bob", baseTime.Add(-time.Hour))
	h.seedPending("ref-old", "alice", "zed", baseTime.Add(-3*time.Hour))
	seedReferral(h, domain.Referral{ID: "ref-done", ReferrerID: "alice", ReferredID: "carl", Status: domain.ReferralStatusVerified, ReviewStatus: domain.ReviewStatusAutoApproved, CreatedAt: baseTime.Add(-5 * time.Hour)})

	queue, err := h.review.ListPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListPending returned error: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(queue))
	}
	if queue[0].ReferralID != "ref-old" || queue[1].ReferralID != "ref-new" {
		t.Fatalf("expected oldest first, got %s then %s", queue[0].ReferralID, queue[1].ReferralID)
	}
	if queue[0].ReferrerName != "Alice Example" {
		t.Fatalf("expected referrer display name, got %q", queue[0].ReferrerName)
	}
	if queue[1].ReferredName != "bobby" {
		t.Fatalf("expected handle fallback, got %q", queue[1].ReferredName)
	}
	if queue[0].ReferredName != "zed" {
		t.Fatalf("expected id fallback for unknown user, got %q", queue[0].ReferredName)
	}
	if queue[0].Age != 3*time.Hour {
		t.Fatalf("expected age 3h, got %v", queue[0].Age)
	}
}

func TestConcurrentApprovalsSerializePromotion(t *testing.T) {
	h := newHarness()
	h.store.addUser(domain.User{ID: "alice", State: domain.StateRegistered})
	const total = 12
	for i := 0; i < total; i++ {
		h.seedPending(fmt.Sprintf("ref-%02d", i), "alice", fmt.Sprintf("friend-%02d", i), baseTime.Add(-time.Duration(i)*time.Minute))
	}

	var wg sync.WaitGroup
	errs := make(chan error, total)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.review.Approve(context.Background(), domain.ReviewDecision{ReferralID: fmt.Sprintf("ref-%02d", i), ReviewerID: "admin"})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("approve failed: %v", err)
		}
	}

	user := h.store.user("alice")
	if user.VerifiedReferrals != total {
		t.Fatalf("expected counter %d, got %d", total, user.VerifiedReferrals)
	}
	if user.State != domain.StateMidTier {
		t.Fatalf("expected MID_TIER, got %s", user.State)
	}
	transitions := h.store.transitionsFor("alice")
	if len(transitions) != 2 {
		t.Fatalf("expected exactly two transitions, got %d", len(transitions))
	}
	if transitions[0].To != domain.StateEntryTier || transitions[1].To != domain.StateMidTier {
		t.Fatalf("expected ENTRY then MID, got %s then %s", transitions[0].To, transitions[1].To)
	}
}

func TestApproveRetriesConflicts(t *testing.T) {
	h := newHarness()
	h.store.addUser(domain.User{ID: "alice"})
	h.seedPending("ref-1", "alice", "bob", baseTime)
	h.store.conflicts = 2

	if _, err := h.review.Approve(context.Background(), domain.ReviewDecision{ReferralID: "ref-1", ReviewerID: "admin"}); err != nil {
		t.Fatalf("expected approve to succeed after retries, got %v", err)
	}
	if h.store.txCount != 3 {
		t.Fatalf("expected 3 transaction attempts, got %d", h.store.txCount)
	}
}

func TestApproveSurfacesPersistentConflict(t *testing.T) {
	h := newHarness()
	h.store.addUser(domain.User{ID: "alice"})
	h.seedPending("ref-1", "alice", "bob", baseTime)
	h.store.conflicts = 10

	_, err := h.review.Approve(context.Background(), domain.ReviewDecision{ReferralID: "ref-1", ReviewerID: "admin"})
	if !errors.Is(err, ErrTransientConflict) {
		t.Fatalf("expected ErrTransientConflict, got %v", err)
	}
	if got := h.store.referral("ref-1").Status; got != domain.ReferralStatusPending {
		t.Fatalf("expected referral to stay PENDING, got %s", got)
	}
}

func TestPublishFailureDoesNotUndoApproval(t *testing.T) {
	h := newHarness()
	h.events.err = errors.New("broker down")
	h.store.addUser(domain.User{ID: "alice", VerifiedReferrals: 1})
	h.seedPending("ref-1", "alice", "bob", baseTime)

	if _, err := h.review.Approve(context.Background(), domain.ReviewDecision{ReferralID: "ref-1", ReviewerID: "admin"}); err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if got := h.store.user("alice").State; got != domain.StateEntryTier {
		t.Fatalf("expected promotion to persist, got %s", got)
	}
}
