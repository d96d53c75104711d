package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arklim/social-platform-growth/internal/core/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.App.Name != "growth-service" {
		t.Fatalf("expected default app name, got %q", cfg.App.Name)
	}
	if cfg.Signals.Backend != SignalBackendPostgres {
		t.Fatalf("expected postgres signal backend, got %q", cfg.Signals.Backend)
	}
	if cfg.Decay.Schedule != "0 3 * * *" {
		t.Fatalf("unexpected decay schedule %q", cfg.Decay.Schedule)
	}
	if cfg.Signals.QueryTimeout != 2*time.Second {
		t.Fatalf("expected 2s query timeout, got %v", cfg.Signals.QueryTimeout)
	}
}

func TestLoadReadsPrefixedEnv(t *testing.T) {
	t.Setenv("GROWTH_APP_PORT", "9191")
	t.Setenv("GROWTH_SIGNALS_BACKEND", "redis")
	t.Setenv("GROWTH_DECAY_CONCURRENCY", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.App.Port != 9191 {
		t.Fatalf("expected port 9191, got %d", cfg.App.Port)
	}
	if cfg.Signals.Backend != SignalBackendRedis {
		t.Fatalf("expected redis backend, got %q", cfg.Signals.Backend)
	}
	if cfg.Decay.Concurrency != 3 {
		t.Fatalf("expected concurrency 3, got %d", cfg.Decay.Concurrency)
	}
}

func TestLoadRejectsUnknownSignalBackend(t *testing.T) {
	t.Setenv("GROWTH_SIGNALS_BACKEND", "cassandra")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadPolicyDefaultsWithoutPath(t *testing.T) {
	policy, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("LoadPolicy returned error: %v", err)
	}
	if policy.Lifecycle.EntryThreshold != 2 || policy.Decay.WarnAfterDays != 7 {
		t.Fatalf("expected built-in defaults, got %+v", policy)
	}
}

func TestLoadPolicyOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := []byte(`
scoring:
  review_threshold: 40
  device_cluster:
    window: 168h
    limit: 2
    weight: 50
lifecycle:
  entry_threshold: 3
decay:
  warn_after_days: 5
  downgrade_after_days: 10
  min_warning_lead: 48h
`)
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy returned error: %v", err)
	}
	if policy.Scoring.ReviewThreshold != 40 || policy.Scoring.HighRiskThreshold != 70 {
		t.Fatalf("expected overlay on bands, got %d/%d", policy.Scoring.ReviewThreshold, policy.Scoring.HighRiskThreshold)
	}
	if policy.Scoring.DeviceCluster.Window != 7*24*time.Hour || policy.Scoring.DeviceCluster.Limit != 2 {
		t.Fatalf("unexpected device cluster rule: %+v", policy.Scoring.DeviceCluster)
	}
	if len(policy.Scoring.Velocity) != 3 {
		t.Fatalf("expected default velocity rules to survive, got %d", len(policy.Scoring.Velocity))
	}
	if policy.Lifecycle.EntryThreshold != 3 || policy.Lifecycle.MidThreshold != 10 {
		t.Fatalf("unexpected lifecycle policy: %+v", policy.Lifecycle)
	}
	if policy.Decay.WarnAfterDays != 5 || policy.Decay.ChurnAfterDays != 60 || policy.Decay.MinWarningLead != 48*time.Hour {
		t.Fatalf("unexpected decay policy: %+v", policy.Decay)
	}
}

func TestParsePolicyRejectsInvalidValues(t *testing.T) {
	_, err := ParsePolicy([]byte("decay:\n  warn_after_days: 20\n"))
	if !errors.Is(err, domain.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestParsePolicyRejectsUnknownFields(t *testing.T) {
	if _, err := ParsePolicy([]byte("scoring:\n  bogus: 1\n")); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}
