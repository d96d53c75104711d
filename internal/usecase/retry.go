package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arklim/social-platform-growth/internal/repository"
)

const defaultConflictAttempts = 3

// retryOnConflict reruns op while it fails with repository.ErrConflict, up to attempts times.
func retryOnConflict(ctx context.Context, attempts int, op func() error) error {
	if attempts <= 0 {
		attempts = defaultConflictAttempts
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 10 * time.Millisecond
	expo.MaxInterval = 200 * time.Millisecond
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx)

	err := backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, repository.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	if errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrTransientConflict, err)
	}
	return err
}
