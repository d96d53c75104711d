package usecase

import (
	"errors"
	"fmt"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/repository"
)

var (
	// ErrNotFound indicates the referral or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates the requested lifecycle edge is not part of the transition graph.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrAlreadyFinalized indicates approve or reject was called on a referral that already left PENDING.
	ErrAlreadyFinalized = errors.New("referral already finalized")
	// ErrSignalUnavailable indicates the backing store could not be read.
	ErrSignalUnavailable = errors.New("signal store unavailable")
	// ErrTransientConflict indicates per-user serialization kept failing after bounded retries.
	ErrTransientConflict = errors.New("transient conflict, retry later")
	// ErrReferralExists indicates the referred user already has a referral record.
	ErrReferralExists = errors.New("referred user already has a referral")

	ErrUserIDRequired     = errors.New("user id is required")
	ErrReferralIDRequired = errors.New("referral id is required")
	ErrReviewerIDRequired = errors.New("reviewer id is required")
	ErrReferrerIDRequired = errors.New("referrer id is required")
	ErrReferredIDRequired = errors.New("referred id is required")
	ErrUnknownState       = errors.New("unknown lifecycle state")
)

// InvalidTransitionError names both ends of a rejected lifecycle edge.
type InvalidTransitionError struct {
	From domain.LifecycleState
	To   domain.LifecycleState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid lifecycle transition %s -> %s", e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// translateStoreError maps repository errors onto the usecase taxonomy. Unknown failures become
// ErrSignalUnavailable because callers need a definitive read to finalize anything.
func translateStoreError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyFinalized),
		errors.Is(err, ErrSignalUnavailable),
		errors.Is(err, ErrTransientConflict),
		errors.Is(err, ErrReferralExists),
		errors.Is(err, repository.ErrConflict):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrStaleState):
		return fmt.Errorf("%s: %w", op, ErrAlreadyFinalized)
	case errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%s: %w", op, ErrReferralExists)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrSignalUnavailable, err)
	}
}
