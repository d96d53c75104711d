package port

import (
	"context"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

// UserRepository exposes persistence behavior for users.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetForUpdate loads the user and holds its row lock until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.User, error)
	// UpdateLifecycle persists state, tier unlock, activity and decay-warning fields.
	UpdateLifecycle(ctx context.Context, user domain.User) error
	IncrementVerifiedReferrals(ctx context.Context, id string) (int, error)
	AppendTransition(ctx context.Context, transition domain.StateTransition) error
	ListTransitions(ctx context.Context, userID string, limit int) ([]domain.StateTransition, error)
	ListIDsByState(ctx context.Context, states []domain.LifecycleState, afterID string, limit int) ([]string, error)
}

// UserDirectory resolves display information for review queue entries.
type UserDirectory interface {
	GetUserDisplayInfo(ctx context.Context, userID string) (domain.UserDisplayInfo, error)
}
