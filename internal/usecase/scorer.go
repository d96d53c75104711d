package usecase

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
)

// FraudScorer computes a risk score for a referral from velocity and clustering signals.
// Scoring is pure with respect to the signal store snapshot: it never writes.
type FraudScorer struct {
	signals port.SignalStore
	policy  domain.ScoringPolicy
	logger  *zap.Logger
	metrics GrowthMetrics
	tracer  trace.Tracer
}

// NewFraudScorer constructs a scorer over the provided signal store.
func NewFraudScorer(signals port.SignalStore, policy domain.ScoringPolicy) *FraudScorer {
	return &FraudScorer{
		signals: signals,
		policy:  policy,
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
		tracer:  otel.Tracer("growth/usecase/scorer"),
	}
}

// WithLogger attaches a structured logger.
func (s *FraudScorer) WithLogger(logger *zap.Logger) *FraudScorer {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithMetrics wires telemetry observers.
func (s *FraudScorer) WithMetrics(metrics GrowthMetrics) *FraudScorer {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// Policy returns the scoring policy in effect.
func (s *FraudScorer) Policy() domain.ScoringPolicy {
	return s.policy
}

type signalCheck struct {
	name   string
	flag   string
	limit  int
	weight int
	query  func(ctx context.Context) (int, error)
}

// Score evaluates candidate, which must already be visible to the signal store.
// Counts therefore include the candidate and are measured up to candidate.CreatedAt.
// An unreadable signal contributes nothing but marks the result degraded, which never auto-approves.
func (s *FraudScorer) Score(ctx context.Context, candidate domain.Referral) domain.ScoreResult {
	return s.score(ctx, candidate, false)
}

// ScoreUnindexed scores a candidate whose signals never reached the index. The counts
// cannot include it, so the result is degraded and never auto-approves.
func (s *FraudScorer) ScoreUnindexed(ctx context.Context, candidate domain.Referral) domain.ScoreResult {
	return s.score(ctx, candidate, true)
}

func (s *FraudScorer) score(ctx context.Context, candidate domain.Referral, unindexed bool) domain.ScoreResult {
	ctx, span := s.tracer.Start(ctx, "FraudScorer.Score")
	defer span.End()

	checks := s.checksFor(candidate)
	counts := make([]int, len(checks))
	failures := make([]error, len(checks))

	queryCtx := ctx
	if s.policy.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, s.policy.QueryTimeout)
		defer cancel()
	}

	var g errgroup.Group
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			counts[i], failures[i] = check.query(queryCtx)
			return nil
		})
	}
	_ = g.Wait()

	var (
		score    int
		flags    []string
		degraded bool
	)
	if unindexed {
		degraded = true
		s.metrics.IncSignalFailure("index")
	}
	raised := make(map[string]struct{})
	for i, check := range checks {
		if failures[i] != nil {
			degraded = true
			s.metrics.IncSignalFailure(check.name)
			s.logger.Warn("fraud signal unavailable",
				zap.String("referral_id", candidate.ID),
				zap.String("signal", check.name),
				zap.Error(failures[i]),
			)
			continue
		}
		if counts[i] <= check.limit {
			continue
		}
		if _, seen := raised[check.flag]; seen {
			continue
		}
		raised[check.flag] = struct{}{}
		score += check.weight
		flags = append(flags, check.flag)
	}

	if candidate.ReferrerID != "" && candidate.ReferrerID == candidate.ReferredID {
		score += s.policy.SelfReferralWeight
		flags = append(flags, domain.FlagSelfReferral)
	}

	score = clampScore(score)
	status := s.policy.Band(score)
	if degraded {
		flags = append(flags, domain.FlagSignalUnavailable)
		if status == domain.ReviewStatusAutoApproved {
			status = domain.ReviewStatusPendingReview
		}
	}
	if flags == nil {
		flags = []string{}
	}

	span.SetAttributes(
		attribute.Int("growth.risk_score", score),
		attribute.String("growth.review_status", string(status)),
		attribute.Bool("growth.degraded", degraded),
	)
	s.metrics.ObserveScore(status, score, flags)

	return domain.ScoreResult{
		Score:        score,
		Flags:        flags,
		ReviewStatus: status,
		Degraded:     degraded,
	}
}

func (s *FraudScorer) checksFor(candidate domain.Referral) []signalCheck {
	reference := candidate.CreatedAt
	checks := make([]signalCheck, 0, len(s.policy.Velocity)+3)

	if candidate.ReferrerID != "" {
		for _, rule := range s.policy.Velocity {
			rule := rule
			checks = append(checks, signalCheck{
				name:   "velocity_" + rule.Window.String(),
				flag:   rule.Flag,
				limit:  rule.Limit,
				weight: rule.Weight,
				query: func(ctx context.Context) (int, error) {
					return s.signals.CountReferrerAttempts(ctx, candidate.ReferrerID, rule.Window, reference)
				},
			})
		}
	}

	if origin := deref(candidate.OriginSignal); origin != "" {
		rule := s.policy.OriginCluster
		checks = append(checks, signalCheck{
			name: "origin", flag: domain.FlagIPCluster, limit: rule.Limit, weight: rule.Weight,
			query: func(ctx context.Context) (int, error) {
				return s.signals.CountByOrigin(ctx, origin, rule.Window, reference)
			},
		})
	}

	if device := deref(candidate.DeviceHash); device != "" {
		rule := s.policy.DeviceCluster
		checks = append(checks, signalCheck{
			name: "device", flag: domain.FlagDeviceCluster, limit: rule.Limit, weight: rule.Weight,
			query: func(ctx context.Context) (int, error) {
				return s.signals.CountByDevice(ctx, device, rule.Window, reference)
			},
		})
	}

	if client := deref(candidate.ClientSignature); client != "" && candidate.ReferrerID != "" {
		rule := s.policy.ClientDuplicate
		checks = append(checks, signalCheck{
			name: "client_signature", flag: domain.FlagUADuplicate, limit: rule.Limit, weight: rule.Weight,
			query: func(ctx context.Context) (int, error) {
				return s.signals.CountReferredWithClientSignature(ctx, candidate.ReferrerID, client, rule.Window, reference)
			},
		})
	}

	return checks
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func timePtr(value time.Time) *time.Time {
	return &value
}
