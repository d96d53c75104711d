package usecase

import "github.com/arklim/social-platform-growth/internal/core/domain"

// GrowthMetrics captures telemetry hooks for scoring, review, lifecycle and decay operations.
type GrowthMetrics interface {
	ObserveScore(status domain.ReviewStatus, score int, flags []string)
	IncSignalFailure(signal string)
	IncReviewDecision(outcome domain.ReferralStatus, automatic bool)
	IncTransition(from, to domain.LifecycleState)
	IncRejectedTransition(from, to domain.LifecycleState)
	IncDecayAction(kind domain.DecayActionKind)
}

type nopMetrics struct{}

func (nopMetrics) ObserveScore(domain.ReviewStatus, int, []string)                    {}
func (nopMetrics) IncSignalFailure(string)                                            {}
func (nopMetrics) IncReviewDecision(domain.ReferralStatus, bool)                      {}
func (nopMetrics) IncTransition(domain.LifecycleState, domain.LifecycleState)         {}
func (nopMetrics) IncRejectedTransition(domain.LifecycleState, domain.LifecycleState) {}
func (nopMetrics) IncDecayAction(domain.DecayActionKind)                              {}
