package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	redisrepo "github.com/arklim/social-platform-growth/internal/repository/redis"
)

type fakeRateLimitStore struct {
	trimErr     error
	recordCalls int
}

func (f *fakeRateLimitStore) TrimWindow(context.Context, string, time.Duration, time.Time) error {
	return f.trimErr
}

func (f *fakeRateLimitStore) CountAttempts(context.Context, string, time.Duration, time.Time) (int, error) {
	return 0, nil
}

func (f *fakeRateLimitStore) RecordAttempt(context.Context, string, time.Time) error {
	f.recordCalls++
	return nil
}

func (f *fakeRateLimitStore) OldestAttempt(context.Context, string, time.Duration, time.Time) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func newRedisLimiter(t *testing.T, now *time.Time) *RateLimiter {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	store := redisrepo.NewRateLimitRepository(client, redisrepo.SlidingWindowConfig{KeyPrefix: "rl", TTL: time.Hour})
	return NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return *now })
}

func TestRateLimiterSlidingWindowOverRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	first := now
	limiter := newRedisLimiter(t, &now)

	router := gin.New()
	router.Use(limiter.RateLimit(RateLimitRule{
		Name:   "referral_attempts_ip",
		Limit:  2,
		Window: time.Minute,
		Identifier: func(c *gin.Context) (string, bool) {
			return "192.0.2.1", true
		},
	}))
	router.POST("/referrals", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	send := func() *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/referrals", nil))
		return rr
	}

	rr := send()
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("expected remaining 1, got %q", got)
	}

	now = now.Add(20 * time.Second)
	if rr := send(); rr.Code != http.StatusAccepted {
		t.Fatalf("expected second request to pass, got %d", rr.Code)
	}

	now = now.Add(10 * time.Second)
	rr = send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected retry-after 30, got %q", got)
	}
	expectedReset := first.Add(time.Minute).Unix()
	if got := rr.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(expectedReset, 10) {
		t.Fatalf("expected reset %d, got %q", expectedReset, got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests || problem.RetryAfter != 30 {
		t.Fatalf("unexpected problem payload: %+v", problem)
	}

	// The first attempt leaves the window after one minute.
	now = first.Add(time.Minute)
	if rr := send(); rr.Code != http.StatusAccepted {
		t.Fatalf("expected request after window slide to pass, got %d", rr.Code)
	}
}

func TestRateLimiterScopesByPathParam(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	limiter := newRedisLimiter(t, &now)

	router := gin.New()
	router.POST("/users/:userId/activity", limiter.RateLimit(RateLimitRule{
		Name:       "activity_user",
		Limit:      1,
		Window:     time.Minute,
		Identifier: PathParamIdentifier("userId"),
	}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	codes := make([]int, 0, 3)
	for _, path := range []string{"/users/alice/activity", "/users/alice/activity", "/users/bob/activity"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusNoContent {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func TestRateLimiterFailsOpenOnStoreError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := &fakeRateLimitStore{trimErr: errors.New("redis down")}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t))

	router := gin.New()
	router.Use(limiter.RateLimit(RateLimitRule{
		Name:       "referral_attempts_ip",
		Limit:      5,
		Window:     time.Minute,
		Identifier: ClientIPIdentifier(),
	}))
	router.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when failing open, got %d", rr.Code)
	}
	if store.recordCalls != 0 {
		t.Fatalf("expected no record attempt on failure, got %d", store.recordCalls)
	}
}
