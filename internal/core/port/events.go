package port

import (
	"context"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

// EventPublisher publishes domain events to messaging collaborators. Delivery is fire-and-forget.
type EventPublisher interface {
	PublishStateChanged(ctx context.Context, event domain.StateChangedEvent) error
	PublishReviewOutcome(ctx context.Context, event domain.ReviewOutcomeEvent) error
	PublishReferralScored(ctx context.Context, event domain.ReferralScoredEvent) error
	PublishDecayWarning(ctx context.Context, event domain.DecayWarningEvent) error
}
