package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
	"github.com/arklim/social-platform-growth/internal/repository"
)

const (
	ActorSystem          = "system"
	ActorDecayMonitor    = "decay-monitor"
	ReasonReactivation   = "reactivation"
	ReasonDecayDowngrade = "inactivity decay"
	ReasonDecayChurn     = "extended inactivity"
	ReasonRegistration   = "registration completed"
)

// LifecycleStateMachine validates and applies lifecycle transitions against the fixed transition graph.
type LifecycleStateMachine struct {
	tx       port.Transactor
	users    port.UserRepository
	policy   domain.LifecyclePolicy
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
	metrics  GrowthMetrics
	attempts int
}

// NewLifecycleStateMachine constructs the lifecycle service. users serves non-locking reads.
func NewLifecycleStateMachine(tx port.Transactor, users port.UserRepository, events port.EventPublisher, policy domain.LifecyclePolicy) *LifecycleStateMachine {
	return &LifecycleStateMachine{
		tx:       tx,
		users:    users,
		policy:   policy,
		events:   events,
		logger:   zap.NewNop(),
		now:      time.Now,
		metrics:  nopMetrics{},
		attempts: defaultConflictAttempts,
	}
}

// WithLogger attaches a structured logger.
func (m *LifecycleStateMachine) WithLogger(logger *zap.Logger) *LifecycleStateMachine {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithNow overrides the clock, primarily for deterministic testing.
func (m *LifecycleStateMachine) WithNow(now func() time.Time) *LifecycleStateMachine {
	if now != nil {
		m.now = now
	}
	return m
}

// WithMetrics wires telemetry observers.
func (m *LifecycleStateMachine) WithMetrics(metrics GrowthMetrics) *LifecycleStateMachine {
	if metrics != nil {
		m.metrics = metrics
	}
	return m
}

// WithConflictAttempts bounds how many times a serialization conflict is retried.
func (m *LifecycleStateMachine) WithConflictAttempts(attempts int) *LifecycleStateMachine {
	if attempts > 0 {
		m.attempts = attempts
	}
	return m
}

// Policy returns the tier thresholds in effect.
func (m *LifecycleStateMachine) Policy() domain.LifecyclePolicy {
	return m.policy
}

// Snapshot returns the current lifecycle view of a user.
func (m *LifecycleStateMachine) Snapshot(ctx context.Context, userID string) (*domain.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, translateStoreError(err, "load user")
	}
	return user, nil
}

// History returns the most recent applied transitions for userID, newest first.
func (m *LifecycleStateMachine) History(ctx context.Context, userID string, limit int) ([]domain.StateTransition, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	transitions, err := m.users.ListTransitions(ctx, userID, limit)
	if err != nil {
		return nil, translateStoreError(err, "list transitions")
	}
	return transitions, nil
}

// Transition moves userID to target if the edge exists. Rejected edges leave the user untouched.
func (m *LifecycleStateMachine) Transition(ctx context.Context, userID string, target domain.LifecycleState, reason, actor string) (domain.TransitionResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.TransitionResult{}, ErrUserIDRequired
	}
	if !target.Valid() || target == domain.StateLegacy {
		return domain.TransitionResult{}, fmt.Errorf("%w: %q", ErrUnknownState, target)
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = ActorSystem
	}

	var result domain.TransitionResult
	err := retryOnConflict(ctx, m.attempts, func() error {
		return m.tx.WithinTx(ctx, func(ctx context.Context, repos port.TxRepositories) error {
			user, err := repos.Users.GetForUpdate(ctx, userID)
			if err != nil {
				return translateStoreError(err, "lock user")
			}
			from := user.State
			transition, err := m.applyLocked(ctx, repos, user, target, reason, actor, m.now().UTC())
			if err != nil {
				return err
			}
			result = domain.TransitionResult{
				UserID:      userID,
				From:        from,
				To:          user.State,
				Changed:     true,
				Transitions: []domain.StateTransition{transition},
			}
			return nil
		})
	})
	if err != nil {
		return domain.TransitionResult{}, err
	}

	m.publish(ctx, result.Transitions)
	return result, nil
}

// Register provisions userID if it has no record yet and moves VISITOR (or LEGACY) users to REGISTERED.
// Users already past VISITOR are left untouched.
func (m *LifecycleStateMachine) Register(ctx context.Context, userID string) (domain.TransitionResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.TransitionResult{}, ErrUserIDRequired
	}

	var result domain.TransitionResult
	err := retryOnConflict(ctx, m.attempts, func() error {
		return m.tx.WithinTx(ctx, func(ctx context.Context, repos port.TxRepositories) error {
			now := m.now().UTC()
			user, err := repos.Users.GetForUpdate(ctx, userID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				user = &domain.User{
					ID:             userID,
					State:          domain.StateVisitor,
					LastActivityAt: &now,
					CreatedAt:      now,
					UpdatedAt:      now,
				}
				if err := repos.Users.Create(ctx, *user); err != nil {
					if errors.Is(err, repository.ErrDuplicate) {
						// A concurrent registration won the insert; rerun against its row.
						return fmt.Errorf("create user: %w", repository.ErrConflict)
					}
					return translateStoreError(err, "create user")
				}
			case err != nil:
				return translateStoreError(err, "lock user")
			}

			result = domain.TransitionResult{UserID: userID, From: user.State, To: user.State}
			if user.State.Normalize() != domain.StateVisitor {
				return nil
			}
			transition, err := m.applyLocked(ctx, repos, user, domain.StateRegistered, ReasonRegistration, ActorSystem, now)
			if err != nil {
				return err
			}
			result.To = user.State
			result.Changed = true
			result.Transitions = []domain.StateTransition{transition}
			return nil
		})
	})
	if err != nil {
		return domain.TransitionResult{}, err
	}

	m.publish(ctx, result.Transitions)
	return result, nil
}

// CheckPromotionByReferralCount promotes userID through every tier its verified counter has unlocked.
func (m *LifecycleStateMachine) CheckPromotionByReferralCount(ctx context.Context, userID string) (domain.TransitionResult, error) {
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
			result, err = m.promoteLocked(ctx, repos, user, m.now().UTC())
			return err
		})
	})
	if err != nil {
		return domain.TransitionResult{}, err
	}

	m.publish(ctx, result.Transitions)
	return result, nil
}

// promoteLocked walks the promotion chain one validated edge at a time. The caller holds the user lock.
func (m *LifecycleStateMachine) promoteLocked(ctx context.Context, repos port.TxRepositories, user *domain.User, now time.Time) (domain.TransitionResult, error) {
	result := domain.TransitionResult{UserID: user.ID, From: user.State, To: user.State}
	held, err := m.decayHold(ctx, repos, user)
	if err != nil {
		return domain.TransitionResult{}, err
	}
	for {
		target, threshold, ok := m.policy.PromotionTarget(user.State)
		if !ok || user.VerifiedReferrals < threshold || target == held {
			break
		}
		reason := fmt.Sprintf("verified referrals reached %d", threshold)
		transition, err := m.applyLocked(ctx, repos, user, target, reason, ActorSystem, now)
		if err != nil {
			return domain.TransitionResult{}, err
		}
		result.Transitions = append(result.Transitions, transition)
	}
	result.To = user.State
	result.Changed = len(result.Transitions) > 0
	return result, nil
}

// decayHold returns the tier a user was most recently decayed out of, as long as no activity has been
// recorded since. Promotion back into that tier waits for activity; the counter alone cannot undo a decay.
func (m *LifecycleStateMachine) decayHold(ctx context.Context, repos port.TxRepositories, user *domain.User) (domain.LifecycleState, error) {
	if _, _, ok := m.policy.PromotionTarget(user.State); !ok {
		return "", nil
	}
	latest, err := repos.Users.ListTransitions(ctx, user.ID, 1)
	if err != nil {
		return "", translateStoreError(err, "load latest transition")
	}
	if len(latest) == 0 {
		return "", nil
	}
	last := latest[0]
	if last.Actor != ActorDecayMonitor || last.To != user.State {
		return "", nil
	}
	if user.LastActivityAt != nil && user.LastActivityAt.After(last.AppliedAt) {
		return "", nil
	}
	return last.From, nil
}

// applyLocked validates and persists a single edge, mutating user in place. The caller holds the user lock.
func (m *LifecycleStateMachine) applyLocked(ctx context.Context, repos port.TxRepositories, user *domain.User, target domain.LifecycleState, reason, actor string, now time.Time) (domain.StateTransition, error) {
	from := user.State
	if !domain.CanTransition(from, target) {
		m.metrics.IncRejectedTransition(from, target)
		m.logger.Info("lifecycle transition rejected",
			zap.String("user_id", user.ID),
			zap.String("from", from.String()),
			zap.String("to", target.String()),
		)
		return domain.StateTransition{}, &InvalidTransitionError{From: from, To: target}
	}

	if promoted, _, ok := m.policy.PromotionTarget(from); ok && promoted == target {
		user.TierUnlockedAt = &now
	}
	if from.Normalize() == domain.StateTopTier {
		user.DecayWarned = false
		user.DecayWarnedAt = nil
	}
	user.State = target
	user.UpdatedAt = now

	if err := repos.Users.UpdateLifecycle(ctx, *user); err != nil {
		return domain.StateTransition{}, translateStoreError(err, "update lifecycle")
	}

	transition := domain.StateTransition{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		From:      from,
		To:        target,
		Reason:    strings.TrimSpace(reason),
		Actor:     actor,
		AppliedAt: now,
	}
	if err := repos.Users.AppendTransition(ctx, transition); err != nil {
		return domain.StateTransition{}, translateStoreError(err, "append transition")
	}
	return transition, nil
}

// publish emits committed transitions. Failures are logged and never undo the transition.
func (m *LifecycleStateMachine) publish(ctx context.Context, transitions []domain.StateTransition) {
	for _, t := range transitions {
		m.metrics.IncTransition(t.From, t.To)
		m.logger.Info("lifecycle transition applied",
			zap.String("user_id", t.UserID),
			zap.String("from", t.From.String()),
			zap.String("to", t.To.String()),
			zap.String("actor", t.Actor),
		)
		if m.events == nil {
			continue
		}
		event := domain.StateChangedEvent{
			EventID:   t.ID,
			UserID:    t.UserID,
			From:      t.From,
			To:        t.To,
			Reason:    t.Reason,
			Actor:     t.Actor,
			ChangedAt: t.AppliedAt,
		}
		if err := m.events.PublishStateChanged(ctx, event); err != nil {
			m.logger.Warn("failed to publish state changed event", zap.String("user_id", t.UserID), zap.Error(err))
		}
	}
}
