package domain

import (
	"errors"
	"fmt"
	"time"
)

// VelocityRule caps how many referral attempts one referrer may make in a trailing window.
type VelocityRule struct {
	Flag   string        `yaml:"flag"`
	Window time.Duration `yaml:"window"`
	Limit  int           `yaml:"limit"`
	Weight int           `yaml:"weight"`
}

// ClusterRule flags a shared signal once more than Limit referrals carry it inside Window.
type ClusterRule struct {
	Window time.Duration `yaml:"window"`
	Limit  int           `yaml:"limit"`
	Weight int           `yaml:"weight"`
}

// ScoringPolicy holds every tunable used by the fraud scorer.
type ScoringPolicy struct {
	Velocity           []VelocityRule `yaml:"velocity"`
	OriginCluster      ClusterRule    `yaml:"origin_cluster"`
	DeviceCluster      ClusterRule    `yaml:"device_cluster"`
	ClientDuplicate    ClusterRule    `yaml:"client_duplicate"`
	SelfReferralWeight int            `yaml:"self_referral_weight"`
	ReviewThreshold    int            `yaml:"review_threshold"`
	HighRiskThreshold  int            `yaml:"high_risk_threshold"`
	QueryTimeout       time.Duration  `yaml:"query_timeout"`
}

// Band maps a clamped score onto a review status.
func (p ScoringPolicy) Band(score int) ReviewStatus {
	switch {
	case score >= p.HighRiskThreshold:
		return ReviewStatusHighRisk
	case score >= p.ReviewThreshold:
		return ReviewStatusPendingReview
	default:
		return ReviewStatusAutoApproved
	}
}

// LifecyclePolicy holds the verified-referral counts that unlock each tier.
type LifecyclePolicy struct {
	EntryThreshold    int `yaml:"entry_threshold"`
	MidThreshold      int `yaml:"mid_threshold"`
	TopThreshold      int `yaml:"top_threshold"`
	AdvocateThreshold int `yaml:"advocate_threshold"`
}

// PromotionTarget returns the referral-driven successor of from and the counter value that unlocks it.
func (p LifecyclePolicy) PromotionTarget(from LifecycleState) (LifecycleState, int, bool) {
	switch from.Normalize() {
	case StateRegistered:
		return StateEntryTier, p.EntryThreshold, true
	case StateEntryTier:
		return StateMidTier, p.MidThreshold, true
	case StateMidTier:
		return StateTopTier, p.TopThreshold, true
	case StateTopTier:
		return StateAdvocate, p.AdvocateThreshold, true
	default:
		return "", 0, false
	}
}

// DecayPolicy holds the inactivity horizons, in whole days.
type DecayPolicy struct {
	WarnAfterDays      int `yaml:"warn_after_days"`
	DowngradeAfterDays int `yaml:"downgrade_after_days"`
	// ChurnAfterDays applies to ENTRY_TIER and MID_TIER users. Zero disables churn.
	ChurnAfterDays int `yaml:"churn_after_days"`
	// MinWarningLead is the least time a warning must stand before the downgrade that follows it.
	MinWarningLead time.Duration `yaml:"min_warning_lead"`
}

// Policy bundles the scoring, lifecycle and decay policies.
type Policy struct {
	Scoring   ScoringPolicy   `yaml:"scoring"`
	Lifecycle LifecyclePolicy `yaml:"lifecycle"`
	Decay     DecayPolicy     `yaml:"decay"`
}

// DefaultPolicy returns the product defaults.
func DefaultPolicy() Policy {
	return Policy{
		Scoring: ScoringPolicy{
			Velocity: []VelocityRule{
				{Flag: FlagVelocityHour, Window: time.Hour, Limit: 3, Weight: 35},
				{Flag: FlagVelocityDay, Window: 24 * time.Hour, Limit: 10, Weight: 25},
				{Flag: FlagVelocityWeek, Window: 7 * 24 * time.Hour, Limit: 30, Weight: 20},
			},
			OriginCluster:      ClusterRule{Window: 30 * 24 * time.Hour, Limit: 5, Weight: 35},
			DeviceCluster:      ClusterRule{Window: 30 * 24 * time.Hour, Limit: 3, Weight: 40},
			ClientDuplicate:    ClusterRule{Window: 7 * 24 * time.Hour, Limit: 2, Weight: 15},
			SelfReferralWeight: 70,
			ReviewThreshold:    30,
			HighRiskThreshold:  70,
			QueryTimeout:       2 * time.Second,
		},
		Lifecycle: LifecyclePolicy{
			EntryThreshold:    2,
			MidThreshold:      10,
			TopThreshold:      50,
			AdvocateThreshold: 100,
		},
		Decay: DecayPolicy{
			WarnAfterDays:      7,
			DowngradeAfterDays: 14,
			ChurnAfterDays:     60,
			MinWarningLead:     24 * time.Hour,
		},
	}
}

// ErrInvalidPolicy is returned when a policy fails validation.
var ErrInvalidPolicy = errors.New("invalid policy")

// Validate checks the internal consistency of the policy.
func (p Policy) Validate() error {
	s := p.Scoring
	if s.ReviewThreshold <= 0 || s.HighRiskThreshold <= s.ReviewThreshold || s.HighRiskThreshold > 100 {
		return fmt.Errorf("%w: score bands must satisfy 0 < review (%d) < high risk (%d) <= 100", ErrInvalidPolicy, s.ReviewThreshold, s.HighRiskThreshold)
	}
	for _, rule := range s.Velocity {
		if rule.Flag == "" || rule.Window <= 0 || rule.Limit <= 0 || rule.Weight < 0 {
			return fmt.Errorf("%w: velocity rule %q needs a flag, positive window and limit", ErrInvalidPolicy, rule.Flag)
		}
	}
	for name, rule := range map[string]ClusterRule{
		"origin_cluster":   s.OriginCluster,
		"device_cluster":   s.DeviceCluster,
		"client_duplicate": s.ClientDuplicate,
	} {
		if rule.Window <= 0 || rule.Limit <= 0 || rule.Weight < 0 {
			return fmt.Errorf("%w: %s needs a positive window and limit", ErrInvalidPolicy, name)
		}
	}

	l := p.Lifecycle
	if l.EntryThreshold <= 0 || l.MidThreshold <= l.EntryThreshold || l.TopThreshold <= l.MidThreshold || l.AdvocateThreshold <= l.TopThreshold {
		return fmt.Errorf("%w: tier thresholds must be positive and strictly increasing", ErrInvalidPolicy)
	}

	d := p.Decay
	if d.WarnAfterDays <= 0 || d.DowngradeAfterDays <= d.WarnAfterDays {
		return fmt.Errorf("%w: decay requires 0 < warn (%d) < downgrade (%d)", ErrInvalidPolicy, d.WarnAfterDays, d.DowngradeAfterDays)
	}
	if d.MinWarningLead < 0 {
		return fmt.Errorf("%w: min warning lead must not be negative", ErrInvalidPolicy)
	}
	if d.ChurnAfterDays != 0 && d.ChurnAfterDays <= d.DowngradeAfterDays {
		return fmt.Errorf("%w: churn (%d) must exceed downgrade (%d)", ErrInvalidPolicy, d.ChurnAfterDays, d.DowngradeAfterDays)
	}
	return nil
}
