package domain

import "strings"

// LifecycleState enumerates the stages of a user's progression through the reward tiers.
type LifecycleState string

const (
	StateVisitor    LifecycleState = "VISITOR"
	StateRegistered LifecycleState = "REGISTERED"
	StateEntryTier  LifecycleState = "ENTRY_TIER"
	StateMidTier    LifecycleState = "MID_TIER"
	StateTopTier    LifecycleState = "TOP_TIER"
	StateAdvocate   LifecycleState = "ADVOCATE"
	StateChurned    LifecycleState = "CHURNED"
	// StateLegacy marks pre-migration records with no assigned state. It behaves as StateVisitor.
	StateLegacy LifecycleState = "LEGACY"
)

// AllStates lists every known lifecycle state in progression order.
var AllStates = []LifecycleState{
	StateVisitor,
	StateRegistered,
	StateEntryTier,
	StateMidTier,
	StateTopTier,
	StateAdvocate,
	StateChurned,
	StateLegacy,
}

// transitionGraph is the process-wide adjacency map. It is built once and never mutated.
var transitionGraph = buildTransitionGraph()

func buildTransitionGraph() map[LifecycleState]map[LifecycleState]struct{} {
	edges := []struct{ from, to LifecycleState }{
		{StateVisitor, StateRegistered},
		{StateRegistered, StateEntryTier},
		{StateEntryTier, StateMidTier},
		{StateMidTier, StateTopTier},
		{StateTopTier, StateMidTier},
		{StateTopTier, StateAdvocate},
		{StateTopTier, StateChurned},
		{StateMidTier, StateChurned},
		{StateEntryTier, StateChurned},
		{StateChurned, StateRegistered},
	}

	graph := make(map[LifecycleState]map[LifecycleState]struct{}, len(AllStates))
	for _, e := range edges {
		if graph[e.from] == nil {
			graph[e.from] = make(map[LifecycleState]struct{})
		}
		graph[e.from][e.to] = struct{}{}
	}
	return graph
}

// ParseLifecycleState converts persisted or user supplied values into a LifecycleState.
// Empty values map to StateLegacy.
func ParseLifecycleState(raw string) (LifecycleState, bool) {
	value := LifecycleState(strings.ToUpper(strings.TrimSpace(raw)))
	if value == "" {
		return StateLegacy, true
	}
	for _, s := range AllStates {
		if s == value {
			return s, true
		}
	}
	return "", false
}

// Valid reports whether s is a known state.
func (s LifecycleState) Valid() bool {
	_, ok := ParseLifecycleState(string(s))
	return ok && s != ""
}

// Normalize folds LEGACY (and the empty value) onto VISITOR for graph lookups.
func (s LifecycleState) Normalize() LifecycleState {
	if s == StateLegacy || s == "" {
		return StateVisitor
	}
	return s
}

func (s LifecycleState) String() string { return string(s) }

// CanTransition reports whether from -> to is an edge of the transition graph.
func CanTransition(from, to LifecycleState) bool {
	targets, ok := transitionGraph[from.Normalize()]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// NextStates returns the states reachable from s in one step.
func NextStates(s LifecycleState) []LifecycleState {
	targets := transitionGraph[s.Normalize()]
	out := make([]LifecycleState, 0, len(targets))
	for _, candidate := range AllStates {
		if _, ok := targets[candidate]; ok {
			out = append(out, candidate)
		}
	}
	return out
}

// IsTier reports whether s is one of the referral-unlocked tiers.
func (s LifecycleState) IsTier() bool {
	switch s {
	case StateEntryTier, StateMidTier, StateTopTier, StateAdvocate:
		return true
	default:
		return false
	}
}
