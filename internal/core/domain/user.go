package domain

import "time"

// User mirrors the persisted representation in the users table.
type User struct {
	ID                string
	DisplayName       string
	Handle            string
	State             LifecycleState
	VerifiedReferrals int
	TierUnlockedAt    *time.Time
	LastActivityAt    *time.Time
	DecayWarned       bool
	DecayWarnedAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ActivityReference returns the timestamp the decay clock is measured from.
// Users that never recorded activity fall back to their tier unlock time, then creation time.
func (u User) ActivityReference() time.Time {
	if u.LastActivityAt != nil {
		return *u.LastActivityAt
	}
	if u.TierUnlockedAt != nil {
		return *u.TierUnlockedAt
	}
	return u.CreatedAt
}

// StateTransition is an audit record of a single applied lifecycle edge.
type StateTransition struct {
	ID        string
	UserID    string
	From      LifecycleState
	To        LifecycleState
	Reason    string
	Actor     string
	AppliedAt time.Time
}

// TransitionResult reports the outcome of a transition or promotion check.
type TransitionResult struct {
	UserID      string
	From        LifecycleState
	To          LifecycleState
	Changed     bool
	Transitions []StateTransition
}

// UserDisplayInfo holds the human readable identity used in review queue entries.
type UserDisplayInfo struct {
	Name   string
	Handle string
}
