package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/social-platform-growth/internal/core/domain"
	"github.com/arklim/social-platform-growth/internal/core/port"
)

// SignalIndexConfig configures key naming and retention of the signal index.
type SignalIndexConfig struct {
	KeyPrefix string
	// TTL must exceed the longest scoring window.
	TTL time.Duration
}

// SignalIndex keeps one sorted set per signal value, scored by referral creation time.
// Referrer, origin and device sets hold referral ids; client-signature sets hold referred user ids
// so that counts are distinct per referred user.
type SignalIndex struct {
	client *redis.Client
	cfg    SignalIndexConfig
}

// NewSignalIndex constructs a Redis-backed signal store.
func NewSignalIndex(client *redis.Client, cfg SignalIndexConfig) *SignalIndex {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "growth:signals"
	}
	return &SignalIndex{client: client, cfg: cfg}
}

var (
	_ port.SignalStore   = (*SignalIndex)(nil)
	_ port.SignalIndexer = (*SignalIndex)(nil)
)

// Index records every signal carried by referral in a single transaction pipeline.
func (s *SignalIndex) Index(ctx context.Context, referral domain.Referral) error {
	at := score(referral.CreatedAt)
	entries := map[string]string{
		s.referrerKey(referral.ReferrerID): referral.ID,
	}
	if v := deref(referral.OriginSignal); v != "" {
		entries[s.originKey(v)] = referral.ID
	}
	if v := deref(referral.DeviceHash); v != "" {
		entries[s.deviceKey(v)] = referral.ID
	}
	if v := deref(referral.ClientSignature); v != "" {
		entries[s.clientKey(referral.ReferrerID, v)] = referral.ReferredID
	}

	pipe := s.client.TxPipeline()
	for key, member := range entries {
		pipe.ZAdd(ctx, key, redis.Z{Score: at, Member: member})
		if s.cfg.TTL > 0 {
			pipe.Expire(ctx, key, s.cfg.TTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis index referral %s: %w", referral.ID, err)
	}
	return nil
}

func (s *SignalIndex) CountReferrerAttempts(ctx context.Context, referrerID string, window time.Duration, reference time.Time) (int, error) {
	return s.count(ctx, s.referrerKey(referrerID), window, reference)
}

func (s *SignalIndex) CountByOrigin(ctx context.Context, origin string, window time.Duration, reference time.Time) (int, error) {
	return s.count(ctx, s.originKey(origin), window, reference)
}

func (s *SignalIndex) CountByDevice(ctx context.Context, deviceHash string, window time.Duration, reference time.Time) (int, error) {
	return s.count(ctx, s.deviceKey(deviceHash), window, reference)
}

func (s *SignalIndex) CountReferredWithClientSignature(ctx context.Context, referrerID, clientSignature string, window time.Duration, reference time.Time) (int, error) {
	return s.count(ctx, s.clientKey(referrerID, clientSignature), window, reference)
}

func (s *SignalIndex) count(ctx context.Context, key string, window time.Duration, reference time.Time) (int, error) {
	min, max := windowBounds(window, reference)
	n, err := s.client.ZCount(ctx, key, min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount %s: %w", key, err)
	}
	return int(n), nil
}

func (s *SignalIndex) referrerKey(referrerID string) string {
	return fmt.Sprintf("%s:referrer:%s", s.cfg.KeyPrefix, referrerID)
}

func (s *SignalIndex) originKey(origin string) string {
	return fmt.Sprintf("%s:origin:%s", s.cfg.KeyPrefix, origin)
}

func (s *SignalIndex) deviceKey(hash string) string {
	return fmt.Sprintf("%s:device:%s", s.cfg.KeyPrefix, hash)
}

// clientKey hashes the raw client signature, which can be long and contain separators.
func (s *SignalIndex) clientKey(referrerID, clientSignature string) string {
	sum := sha256.Sum256([]byte(clientSignature))
	return fmt.Sprintf("%s:client:%s:%s", s.cfg.KeyPrefix, referrerID, hex.EncodeToString(sum[:8]))
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
