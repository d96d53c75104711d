package telemetry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/usecase"
)

const namespace = "growth"

// Register registers collector with reg, reusing an identical collector that is already registered.
func Register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return collector, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return collector, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return collector, nil
}

// GrowthMetrics implements usecase.GrowthMetrics with Prometheus collectors.
type GrowthMetrics struct {
	Scored              *prometheus.CounterVec
	RiskScore           prometheus.Histogram
	Flags               *prometheus.CounterVec
	SignalFailures      *prometheus.CounterVec
	ReviewDecisions     *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	RejectedTransitions *prometheus.CounterVec
	DecayActions        *prometheus.CounterVec
}

var _ usecase.GrowthMetrics = (*GrowthMetrics)(nil)

// NewGrowthMetrics constructs and registers the domain collectors. A nil registerer uses the default registry.
func NewGrowthMetrics(reg prometheus.Registerer) (*GrowthMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &GrowthMetrics{}
	var err error

	if m.Scored, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "referrals_scored_total",
		Help:      "Referrals scored, partitioned by review status.",
	}, []string{"review_status"})); err != nil {
		return nil, err
	}

	if m.RiskScore, err = Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "referral_risk_score",
		Help:      "Distribution of clamped referral risk scores.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})); err != nil {
		return nil, err
	}

	if m.Flags, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "risk_flags_total",
		Help:      "Risk flags raised by the fraud scorer.",
	}, []string{"flag"})); err != nil {
		return nil, err
	}

	if m.SignalFailures, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_failures_total",
		Help:      "Signal queries that failed or timed out during scoring.",
	}, []string{"signal"})); err != nil {
		return nil, err
	}

	if m.ReviewDecisions, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "review_decisions_total",
		Help:      "Finalized referrals, partitioned by outcome and whether the decision was automatic.",
	}, []string{"outcome", "automatic"})); err != nil {
		return nil, err
	}

	if m.Transitions, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_transitions_total",
		Help:      "Applied lifecycle transitions.",
	}, []string{"from", "to"})); err != nil {
		return nil, err
	}

	if m.RejectedTransitions, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_transitions_rejected_total",
		Help:      "Lifecycle transitions refused by the transition graph.",
	}, []string{"from", "to"})); err != nil {
		return nil, err
	}

	if m.DecayActions, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decay_actions_total",
		Help:      "Decay sweep actions, partitioned by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *GrowthMetrics) ObserveScore(status domain.ReviewStatus, score int, flags []string) {
	m.Scored.WithLabelValues(string(status)).Inc()
	m.RiskScore.Observe(float64(score))

	// Flags are deduplicated upstream; sorting keeps label creation order stable.
	sorted := append([]string(nil), flags...)
	sort.Strings(sorted)
	for _, flag := range sorted {
		m.Flags.WithLabelValues(flag).Inc()
	}
}

func (m *GrowthMetrics) IncSignalFailure(signal string) {
	m.SignalFailures.WithLabelValues(signal).Inc()
}

func (m *GrowthMetrics) IncReviewDecision(outcome domain.ReferralStatus, automatic bool) {
	label := "false"
	if automatic {
		label = "true"
	}
	m.ReviewDecisions.WithLabelValues(string(outcome), label).Inc()
}

func (m *GrowthMetrics) IncTransition(from, to domain.LifecycleState) {
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *GrowthMetrics) IncRejectedTransition(from, to domain.LifecycleState) {
	m.RejectedTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *GrowthMetrics) IncDecayAction(kind domain.DecayActionKind) {
	m.DecayActions.WithLabelValues(string(kind)).Inc()
}
