package domain

import "time"

// DecayActionKind enumerates the outcomes of evaluating one user during a decay sweep.
type DecayActionKind string

const (
	DecayActionNone      DecayActionKind = "none"
	DecayActionWarn      DecayActionKind = "warn"
	DecayActionDowngrade DecayActionKind = "downgrade"
	DecayActionChurn     DecayActionKind = "churn"
)

// DecayAction is returned to the sweep caller to drive notification delivery.
type DecayAction struct {
	UserID       string
	Kind         DecayActionKind
	From         LifecycleState
	To           LifecycleState
	DaysInactive int
	At           time.Time
}

// SweepReport summarizes one batch decay run.
type SweepReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Scanned    int
	Actions    []DecayAction
	Failures   int
}

// StateChangedEvent represents the payload for growth.user.state.changed messages.
type StateChangedEvent struct {
	EventID   string
	UserID    string
	From      LifecycleState
	To        LifecycleState
	Reason    string
	Actor     string
	ChangedAt time.Time
}

// ReviewOutcomeEvent represents the payload for growth.referral.reviewed messages.
type ReviewOutcomeEvent struct {
	EventID      string
	ReferralID   string
	ReferrerID   string
	ReferredID   string
	Outcome      ReferralStatus
	ReviewStatus ReviewStatus
	ReviewerID   string
	Reason       string
	DecidedAt    time.Time
}

// ReferralScoredEvent represents the payload for growth.referral.scored messages.
type ReferralScoredEvent struct {
	EventID      string
	ReferralID   string
	ReferrerID   string
	RiskScore    int
	Flags        []string
	ReviewStatus ReviewStatus
	Degraded     bool
	ScoredAt     time.Time
}

// DecayWarningEvent represents the payload for growth.user.decay.warned messages.
type DecayWarningEvent struct {
	EventID      string
	UserID       string
	DaysInactive int
	WarnedAt     time.Time
}

// ReferralAttemptedEvent is consumed from the front-end when a referred user finishes registration.
type ReferralAttemptedEvent struct {
	ReferrerID      string `json:"referrer_id"`
	ReferredID      string `json:"referred_id"`
	Code            string `json:"code"`
	OriginSignal    string `json:"origin_signal,omitempty"`
	ClientSignature string `json:"client_signature,omitempty"`
	DeviceSignal    string `json:"device_signal,omitempty"`
}

// UserActivityEvent is consumed whenever a collaborator observes genuine user interaction.
type UserActivityEvent struct {
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
