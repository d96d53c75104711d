package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
)

const (
	defaultSweepConcurrency = 8
	defaultSweepPageSize    = 200
	day                     = 24 * time.Hour
)

// DecayMonitor detects inactive users and drives the warn, downgrade and churn actions.
type DecayMonitor struct {
	tx          port.Transactor
	users       port.UserRepository
	lifecycle   *LifecycleStateMachine
	policy      domain.DecayPolicy
	events      port.EventPublisher
	logger      *zap.Logger
	now         func() time.Time
	metrics     GrowthMetrics
	attempts    int
	concurrency int
	pageSize    int
}

// DecayOptions tunes sweep throughput.
type DecayOptions struct {
	Concurrency int
	PageSize    int
}

// NewDecayMonitor constructs the decay monitor.
func NewDecayMonitor(tx port.Transactor, users port.UserRepository, lifecycle *LifecycleStateMachine, events port.EventPublisher, policy domain.DecayPolicy, opts DecayOptions) *DecayMonitor {
	m := &DecayMonitor{
		tx:          tx,
		users:       users,
		lifecycle:   lifecycle,
		policy:      policy,
		events:      events,
		logger:      zap.NewNop(),
		now:         time.Now,
		metrics:     nopMetrics{},
		attempts:    defaultConflictAttempts,
		concurrency: opts.Concurrency,
		pageSize:    opts.PageSize,
	}
	if m.concurrency <= 0 {
		m.concurrency = defaultSweepConcurrency
	}
	if m.pageSize <= 0 {
		m.pageSize = defaultSweepPageSize
	}
	return m
}

// WithLogger attaches a structured logger.
func (m *DecayMonitor) WithLogger(logger *zap.Logger) *DecayMonitor {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithNow overrides the clock, primarily for deterministic testing.
func (m *DecayMonitor) WithNow(now func() time.Time) *DecayMonitor {
	if now != nil {
		m.now = now
	}
	return m
}

// WithMetrics wires telemetry observers.
func (m *DecayMonitor) WithMetrics(metrics GrowthMetrics) *DecayMonitor {
	if metrics != nil {
		m.metrics = metrics
	}
	return m
}

// TouchActivity resets the decay clock for userID. A CHURNED user is reactivated to REGISTERED.
func (m *DecayMonitor) TouchActivity(ctx context.Context, userID string, at time.Time) (domain.TransitionResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.TransitionResult{}, ErrUserIDRequired
	}

	var result domain.TransitionResult
	err := retryOnConflict(ctx, m.attempts, func() error {
		return m.tx.WithinTx(ctx, func(ctx context.Context, repos port.TxRepositories) error {
			user, err := repos.Users.GetForUpdate(ctx, userID)
			if err != nil {
				return translateStoreError(err, "lock user")
			}

			now := m.now().UTC()
			touched := at.UTC()
			if at.IsZero() || touched.After(now) {
				touched = now
			}
			result = domain.TransitionResult{UserID: userID, From: user.State, To: user.State}

			// Out of order deliveries never move the clock backwards.
			if user.LastActivityAt == nil || touched.After(*user.LastActivityAt) {
				user.LastActivityAt = &touched
			}
			user.DecayWarned = false
			user.DecayWarnedAt = nil

			if user.State == domain.StateChurned {
				transition, err := m.lifecycle.applyLocked(ctx, repos, user, domain.StateRegistered, ReasonReactivation, ActorSystem, now)
				if err != nil {
					return err
				}
				result.To = user.State
				result.Changed = true
				result.Transitions = []domain.StateTransition{transition}
				return nil
			}

			user.UpdatedAt = now
			if err := repos.Users.UpdateLifecycle(ctx, *user); err != nil {
				return translateStoreError(err, "update activity")
			}
			return nil
		})
	})
	if err != nil {
		return domain.TransitionResult{}, err
	}

	m.lifecycle.publish(ctx, result.Transitions)
	return result, nil
}

// Evaluate applies at most one decay action to userID, re-reading its state under the user lock.
func (m *DecayMonitor) Evaluate(ctx context.Context, userID string) (domain.DecayAction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.DecayAction{}, ErrUserIDRequired
	}

	var (
		action      domain.DecayAction
		transitions []domain.StateTransition
	)
	err := retryOnConflict(ctx, m.attempts, func() error {
		transitions = nil
		return m.tx.WithinTx(ctx, func(ctx context.Context, repos port.TxRepositories) error {
			user, err := repos.Users.GetForUpdate(ctx, userID)
			if err != nil {
				return translateStoreError(err, "lock user")
			}

			now := m.now().UTC()
			days := daysInactive(now, user.ActivityReference())
			action = domain.DecayAction{
				UserID:       userID,
				Kind:         domain.DecayActionNone,
				From:         user.State,
				To:           user.State,
				DaysInactive: days,
				At:           now,
			}

			switch user.State {
			case domain.StateTopTier:
				switch {
				case !user.DecayWarned && days >= m.policy.WarnAfterDays:
					user.DecayWarned = true
					user.DecayWarnedAt = &now
					user.UpdatedAt = now
					if err := repos.Users.UpdateLifecycle(ctx, *user); err != nil {
						return translateStoreError(err, "record decay warning")
					}
					action.Kind = domain.DecayActionWarn
				case user.DecayWarned && user.DecayWarnedAt == nil:
					// Warned before the timestamp was tracked; start the lead time now.
					user.DecayWarnedAt = &now
					user.UpdatedAt = now
					if err := repos.Users.UpdateLifecycle(ctx, *user); err != nil {
						return translateStoreError(err, "stamp decay warning")
					}
				case user.DecayWarned && days >= m.policy.DowngradeAfterDays && now.Sub(*user.DecayWarnedAt) >= m.policy.MinWarningLead:
					transition, err := m.lifecycle.applyLocked(ctx, repos, user, domain.StateMidTier, ReasonDecayDowngrade, ActorDecayMonitor, now)
					if err != nil {
						return err
					}
					transitions = append(transitions, transition)
					action.Kind = domain.DecayActionDowngrade
					action.To = user.State
				}
			case domain.StateEntryTier, domain.StateMidTier:
				if m.policy.ChurnAfterDays > 0 && days >= m.policy.ChurnAfterDays {
					transition, err := m.lifecycle.applyLocked(ctx, repos, user, domain.StateChurned, ReasonDecayChurn, ActorDecayMonitor, now)
					if err != nil {
						return err
					}
					transitions = append(transitions, transition)
					action.Kind = domain.DecayActionChurn
					action.To = user.State
				}
			}
			return nil
		})
	})
	if err != nil {
		return domain.DecayAction{}, err
	}

	if action.Kind != domain.DecayActionNone {
		m.metrics.IncDecayAction(action.Kind)
		m.logger.Info("decay action applied",
			zap.String("user_id", userID),
			zap.String("action", string(action.Kind)),
			zap.Int("days_inactive", action.DaysInactive),
		)
	}
	if action.Kind == domain.DecayActionWarn && m.events != nil {
		event := domain.DecayWarningEvent{
			EventID:      userID + ":warn:" + action.At.Format(time.RFC3339),
			UserID:       userID,
			DaysInactive: action.DaysInactive,
			WarnedAt:     action.At,
		}
		if err := m.events.PublishDecayWarning(ctx, event); err != nil {
			m.logger.Warn("failed to publish decay warning", zap.String("user_id", userID), zap.Error(err))
		}
	}
	m.lifecycle.publish(ctx, transitions)
	return action, nil
}

// sweepStates lists the states a sweep has to visit.
func (m *DecayMonitor) sweepStates() []domain.LifecycleState {
	if m.policy.ChurnAfterDays > 0 {
		return []domain.LifecycleState{domain.StateEntryTier, domain.StateMidTier, domain.StateTopTier}
	}
	return []domain.LifecycleState{domain.StateTopTier}
}

// RunSweep evaluates every candidate user once. Individual failures are counted and the sweep continues.
func (m *DecayMonitor) RunSweep(ctx context.Context) (domain.SweepReport, error) {
	report := domain.SweepReport{StartedAt: m.now().UTC()}
	states := m.sweepStates()

	var mu sync.Mutex
	cursor := ""
	for {
		ids, err := m.users.ListIDsByState(ctx, states, cursor, m.pageSize)
		if err != nil {
			report.FinishedAt = m.now().UTC()
			return report, translateStoreError(err, "list sweep candidates")
		}
		if len(ids) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.concurrency)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				action, err := m.Evaluate(gctx, id)
				mu.Lock()
				defer mu.Unlock()
				report.Scanned++
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					report.Failures++
					m.logger.Warn("decay evaluation failed", zap.String("user_id", id), zap.Error(err))
					return nil
				}
				if action.Kind != domain.DecayActionNone {
					report.Actions = append(report.Actions, action)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			report.FinishedAt = m.now().UTC()
			return report, err
		}

		cursor = ids[len(ids)-1]
		if len(ids) < m.pageSize {
			break
		}
	}

	sort.Slice(report.Actions, func(i, j int) bool { return report.Actions[i].UserID < report.Actions[j].UserID })
	report.FinishedAt = m.now().UTC()
	m.logger.Info("decay sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("actions", len(report.Actions)),
		zap.Int("failures", report.Failures),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func daysInactive(now, reference time.Time) int {
	if reference.IsZero() || !now.After(reference) {
		return 0
	}
	return int(now.Sub(reference) / day)
}
