package port

import (
	"context"
	"time"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

// SignalStore is the read-only view over referral history used by the fraud scorer.
// Every count covers the half-open window (reference-window, reference].
type SignalStore interface {
	CountReferrerAttempts(ctx context.Context, referrerID string, window time.Duration, reference time.Time) (int, error)
	CountByOrigin(ctx context.Context, origin string, window time.Duration, reference time.Time) (int, error)
	CountByDevice(ctx context.Context, deviceHash string, window time.Duration, reference time.Time) (int, error)
	// CountReferredWithClientSignature counts distinct referred users of referrerID sharing clientSignature.
	CountReferredWithClientSignature(ctx context.Context, referrerID, clientSignature string, window time.Duration, reference time.Time) (int, error)
}

// SignalIndexer is implemented by signal stores that keep a separate index of referral signals.
type SignalIndexer interface {
	Index(ctx context.Context, referral domain.Referral) error
}
