package port

import (
	"context"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

// ReferralRepository exposes persistence behavior for referral records.
type ReferralRepository interface {
	Create(ctx context.Context, referral domain.Referral) error
	GetByID(ctx context.Context, id string) (*domain.Referral, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Referral, error)
	// UpdateRisk stores the scorer's classification; it only touches PENDING rows.
	UpdateRisk(ctx context.Context, id string, score int, flags []string, status domain.ReviewStatus) error
	// Finalize moves a PENDING row into a terminal status exactly once.
	Finalize(ctx context.Context, finalization domain.ReferralFinalization) error
	ListPendingReview(ctx context.Context, limit int) ([]domain.Referral, error)
	CountVerifiedByReferrer(ctx context.Context, referrerID string) (int, error)
}
