package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-growth/internal/core/port"
	appLogger "github.com/arklim/social-platform-growth/internal/infra/logger"
)

const rateLimitProblemType = "https://growth.social-platform.example.com/errors/rate-limit-exceeded"

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a sliding-window limit for a particular identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

func (r RateLimitRule) usable() bool {
	return r.Identifier != nil && r.Limit > 0 && r.Window > 0
}

// RateLimiter enforces sliding-window limits backed by a port.RateLimitStore. Store failures fail open.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	Rule       string `json:"rule"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// decision is the verdict of one rule for one request.
type decision struct {
	rule      string
	limit     int
	remaining int
	resetAt   time.Time
	blocked   bool
}

// retryAfter is rounded up to whole seconds, the unit of the Retry-After header.
func (d decision) retryAfter(now time.Time) int {
	seconds := int(math.Ceil(d.resetAt.Sub(now).Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}

// stricter reports whether d should drive the response headers instead of other.
func (d decision) stricter(other decision) bool {
	if d.blocked != other.blocked {
		return d.blocked
	}
	if d.remaining != other.remaining {
		return d.remaining < other.remaining
	}
	return d.resetAt.Before(other.resetAt)
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{store: store, logger: logger, now: time.Now}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier scopes a limit to the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// PathParamIdentifier scopes a limit to a route parameter such as a user id.
func PathParamIdentifier(param string) IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		value := c.Param(param)
		return value, value != ""
	}
}

// RateLimit returns a Gin middleware enforcing every usable rule. The first blocking rule answers 429.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.usable() {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if len(active) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var strictest *decision

		for _, rule := range active {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			d, err := rl.check(c.Request.Context(), rule, rule.Name+":"+identifier, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed, allowing request",
					zap.String("rule", rule.Name),
					zap.String("identifier", appLogger.MaskString(identifier)),
					zap.Error(err),
				)
				continue
			}

			if d.blocked {
				rl.logger.Info("rate limit exceeded",
					zap.String("rule", rule.Name),
					zap.String("identifier", appLogger.MaskString(identifier)),
					zap.String("trace_id", GetTraceID(c)),
				)
				writeRateLimitHeaders(c.Writer.Header(), d, now)
				rl.reject(c, d, now)
				return
			}

			if strictest == nil || d.stricter(*strictest) {
				current := d
				strictest = &current
			}
		}

		if strictest != nil {
			writeRateLimitHeaders(c.Writer.Header(), *strictest, now)
		}
		c.Next()
	}
}

// check evaluates rule over (now-window, now] and records the attempt when it is admitted.
func (rl *RateLimiter) check(ctx context.Context, rule RateLimitRule, key string, now time.Time) (decision, error) {
	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return decision{}, err
	}
	used, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return decision{}, err
	}
	oldest, found, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return decision{}, err
	}

	d := decision{rule: rule.Name, limit: rule.Limit, resetAt: now.Add(rule.Window)}
	if found {
		d.resetAt = oldest.Add(rule.Window)
	}

	if used >= rule.Limit {
		d.blocked = true
		return d, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return decision{}, err
	}
	d.remaining = rule.Limit - used - 1
	return d, nil
}

func writeRateLimitHeaders(headers http.Header, d decision, now time.Time) {
	headers.Set("X-RateLimit-Limit", strconv.Itoa(d.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.remaining, 0)))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.resetAt.Unix(), 10))
	if d.blocked {
		headers.Set("Retry-After", strconv.Itoa(d.retryAfter(now)))
	}
}

func (rl *RateLimiter) reject(c *gin.Context, d decision, now time.Time) {
	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}
	seconds := d.retryAfter(now)

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      "Rate Limit Exceeded",
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", seconds),
		Instance:   instance,
		Rule:       d.rule,
		RetryAfter: seconds,
		TraceID:    GetTraceID(c),
	})
}
