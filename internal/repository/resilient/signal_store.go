package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	cb "github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
)

// BreakerSettings tunes the circuit breaker guarding the signal backend.
type BreakerSettings struct {
	Name string
	// ConsecutiveFailures trips the breaker once exceeded.
	ConsecutiveFailures uint32
	OpenFor             time.Duration
	Interval            time.Duration
	HalfOpenRequests    uint32
}

// SignalStore guards a port.SignalStore with a circuit breaker so a failing backend degrades
// scoring quickly instead of stalling every referral on its query timeout.
type SignalStore struct {
	next    port.SignalStore
	indexer port.SignalIndexer
	breaker *cb.CircuitBreaker
}

var (
	_ port.SignalStore   = (*SignalStore)(nil)
	_ port.SignalIndexer = (*SignalStore)(nil)
)

// NewSignalStore wraps next. When next also implements port.SignalIndexer, indexing shares the breaker.
func NewSignalStore(next port.SignalStore, settings BreakerSettings, log *zap.Logger) *SignalStore {
	if log == nil {
		log = zap.NewNop()
	}
	if settings.Name == "" {
		settings.Name = "signal-store"
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenFor <= 0 {
		settings.OpenFor = 30 * time.Second
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = 1
	}

	threshold := settings.ConsecutiveFailures
	breaker := cb.NewCircuitBreaker(cb.Settings{
		Name:        settings.Name,
		MaxRequests: settings.HalfOpenRequests,
		Interval:    settings.Interval,
		Timeout:     settings.OpenFor,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to cb.State) {
			log.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// A caller giving up is not a backend fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	store := &SignalStore{next: next, breaker: breaker}
	if indexer, ok := next.(port.SignalIndexer); ok {
		store.indexer = indexer
	}
	return store
}

// State exposes the breaker state for readiness reporting.
func (s *SignalStore) State() cb.State {
	return s.breaker.State()
}

func (s *SignalStore) CountReferrerAttempts(ctx context.Context, referrerID string, window time.Duration, reference time.Time) (int, error) {
	return s.count("referrer_attempts", func() (int, error) {
		return s.next.CountReferrerAttempts(ctx, referrerID, window, reference)
	})
}

func (s *SignalStore) CountByOrigin(ctx context.Context, origin string, window time.Duration, reference time.Time) (int, error) {
	return s.count("origin", func() (int, error) {
		return s.next.CountByOrigin(ctx, origin, window, reference)
	})
}

func (s *SignalStore) CountByDevice(ctx context.Context, deviceHash string, window time.Duration, reference time.Time) (int, error) {
	return s.count("device", func() (int, error) {
		return s.next.CountByDevice(ctx, deviceHash, window, reference)
	})
}

func (s *SignalStore) CountReferredWithClientSignature(ctx context.Context, referrerID, clientSignature string, window time.Duration, reference time.Time) (int, error) {
	return s.count("client_signature", func() (int, error) {
		return s.next.CountReferredWithClientSignature(ctx, referrerID, clientSignature, window, reference)
	})
}

// Index forwards to the wrapped indexer. Stores without a separate index accept the call as a no-op.
func (s *SignalStore) Index(ctx context.Context, referral domain.Referral) error {
	if s.indexer == nil {
		return nil
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.indexer.Index(ctx, referral)
	})
	if err != nil {
		return fmt.Errorf("signal index: %w", err)
	}
	return nil
}

func (s *SignalStore) count(signal string, fn func() (int, error)) (int, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return 0, fmt.Errorf("signal %s: %w", signal, err)
	}
	return result.(int), nil
}
