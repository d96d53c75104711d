package domain

import (
	"errors"
	"testing"
)

func TestTransitionGraphEdges(t *testing.T) {
	allowed := map[[2]LifecycleState]bool{
		{StateVisitor, StateRegistered}:   true,
		{StateRegistered, StateEntryTier}: true,
		{StateEntryTier, StateMidTier}:    true,
		{StateMidTier, StateTopTier}:      true,
		{StateTopTier, StateMidTier}:      true,
		{StateTopTier, StateAdvocate}:     true,
		{StateTopTier, StateChurned}:      true,
		{StateMidTier, StateChurned}:      true,
		{StateEntryTier, StateChurned}:    true,
		{StateChurned, StateRegistered}:   true,
	}

	for _, from := range AllStates {
		for _, to := range AllStates {
			want := allowed[[2]LifecycleState{from.Normalize(), to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestNoImplicitReverseEdges(t *testing.T) {
	if CanTransition(StateEntryTier, StateRegistered) {
		t.Fatalf("ENTRY_TIER -> REGISTERED must not be allowed")
	}
	if CanTransition(StateAdvocate, StateTopTier) {
		t.Fatalf("ADVOCATE -> TOP_TIER must not be allowed")
	}
}

func TestParseLifecycleState(t *testing.T) {
	if s, ok := ParseLifecycleState(""); !ok || s != StateLegacy {
		t.Fatalf("expected empty value to parse as LEGACY, got %q %v", s, ok)
	}
	if s, ok := ParseLifecycleState(" top_tier "); !ok || s != StateTopTier {
		t.Fatalf("expected case-insensitive parse, got %q %v", s, ok)
	}
	if _, ok := ParseLifecycleState("GOLD"); ok {
		t.Fatalf("expected unknown state to fail parsing")
	}
}

func TestNextStatesFollowsProgressionOrder(t *testing.T) {
	next := NextStates(StateTopTier)
	want := []LifecycleState{StateMidTier, StateAdvocate, StateChurned}
	if len(next) != len(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
	for i := range want {
		if next[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, next)
		}
	}
	if len(NextStates(StateAdvocate)) != 0 {
		t.Fatalf("ADVOCATE has no outgoing edges")
	}
}

func TestDefaultPolicyIsValid(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy should validate: %v", err)
	}
}

func TestPolicyValidateRejectsInvertedBands(t *testing.T) {
	p := DefaultPolicy()
	p.Scoring.ReviewThreshold = 80
	if err := p.Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestPolicyValidateRejectsShortDowngrade(t *testing.T) {
	p := DefaultPolicy()
	p.Decay.DowngradeAfterDays = p.Decay.WarnAfterDays
	if err := p.Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestPromotionTarget(t *testing.T) {
	p := DefaultPolicy().Lifecycle
	to, threshold, ok := p.PromotionTarget(StateMidTier)
	if !ok || to != StateTopTier || threshold != 50 {
		t.Fatalf("unexpected MID_TIER promotion target: %s %d %v", to, threshold, ok)
	}
	if _, _, ok := p.PromotionTarget(StateChurned); ok {
		t.Fatalf("CHURNED must not have a referral promotion target")
	}
}

func TestHashDeviceSignal(t *testing.T) {
	if HashDeviceSignal("  ") != "" {
		t.Fatalf("expected empty hash for blank signal")
	}
	a, b := HashDeviceSignal("device-1"), HashDeviceSignal(" device-1 ")
	if a != b || len(a) != 64 {
		t.Fatalf("expected stable 64 char hex digest, got %q and %q", a, b)
	}
}
