package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	alerts "beacon-guard/internal/alerts/domain"
	"beacon-guard/internal/positioning/estimator"
)

func TestDefaultValidatesWithSecret(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "jwt secret") {
		t.Fatalf("expected jwt secret error, got %v", err)
	}
	cfg.Auth.JWTSecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if cfg.VenueBounds() != nil {
		t.Fatalf("expected bounds off by default")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beacon-guard.yaml")
	data := []byte(`
http_addr: ":9090"
anchors:
  - {id: 1, x: 0, y: 0}
  - {id: 2, x: 5, y: 0}
  - {id: 3, x: 0, y: 5}
estimator:
  kind: multilateration
presence:
  movement_threshold: 2.5
alerts:
  cooldown: 5s
  webhook_kinds: [alert, offline]
  webhook_dedupe: 10m
bounds:
  mode: clamp
auth:
  jwt_secret: from-file
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OFFLINE_TIMEOUT", "45s")
	t.Setenv("AUTH_JWT_SECRET", "from-env")

	cfg, err := Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.Estimator.Kind != "multilateration" {
		t.Fatalf("unexpected file values %+v", cfg)
	}
	if cfg.Presence.MovementThreshold != 2.5 || cfg.Alerts.Cooldown != 5*time.Second {
		t.Fatalf("unexpected presence/alerts %+v %+v", cfg.Presence, cfg.Alerts)
	}
	if cfg.Presence.SmoothingAlpha != 0.1 || cfg.Presence.MaxViolations != 5 {
		t.Fatalf("expected defaults kept for absent keys, got %+v", cfg.Presence)
	}
	if cfg.Offline.Timeout != 45*time.Second || cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("expected env overrides, got %v %q", cfg.Offline.Timeout, cfg.Auth.JWTSecret)
	}

	if diff := cmp.Diff([]alerts.Kind{alerts.KindMovement, alerts.KindOffline}, cfg.WebhookAlertKinds()); diff != "" {
		t.Fatalf("webhook kinds mismatch (-want +got):\n%s", diff)
	}
	if cfg.Alerts.WebhookDedupe != 10*time.Minute {
		t.Fatalf("expected 10m dedupe, got %v", cfg.Alerts.WebhookDedupe)
	}

	want := &estimator.Bounds{MinX: 0, MinY: 0, MaxX: 5, MaxY: 5, Mode: estimator.BoundsClamp}
	if diff := cmp.Diff(want, cfg.VenueBounds()); diff != "" {
		t.Fatalf("bounds mismatch (-want +got):\n%s", diff)
	}
	eng := cfg.EngineConfig()
	if eng.MovementThreshold != 2.5 || eng.Bounds == nil || eng.OfflineTimeout != 45*time.Second {
		t.Fatalf("unexpected engine config %+v", eng)
	}
	est := cfg.EstimatorConfig()
	if est.Kind != estimator.KindMultilateration || len(est.Anchors) != 3 {
		t.Fatalf("unexpected estimator config %+v", est)
	}
}

func TestLoadFlagOverridesAddr(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s")
	t.Setenv("HTTP_ADDR", ":7000")
	cfg, err := Load([]string{"--http-addr", ":7001"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7001" {
		t.Fatalf("expected flag to win, got %q", cfg.HTTPAddr)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"anchors":   func(c *Config) { c.Anchors = c.Anchors[:2] },
		"duplicate": func(c *Config) { c.Anchors[1].ID = c.Anchors[0].ID },
		"alpha":     func(c *Config) { c.Presence.SmoothingAlpha = 1.5 },
		"divisor":   func(c *Config) { c.Estimator.WeightDivisor = 0 },
		"min":       func(c *Config) { c.Estimator.MinAnchors = 0 },
		"duration":  func(c *Config) { c.Offline.CheckInterval = 0 },
		"kind":      func(c *Config) { c.Estimator.Kind = "fingerprint" },
		"bounds":    func(c *Config) { c.Bounds = &BoundsConfig{Mode: "wrap"} },
		"transport": func(c *Config) { c.Ingest.Transport = "kafka" },
		"hookkind":  func(c *Config) { c.Alerts.WebhookKinds = []string{"alert", "panic"} },
		"dedupe":    func(c *Config) { c.Alerts.WebhookDedupe = -time.Second },
		"nats":      func(c *Config) { c.Ingest.Transport = TransportNATS; c.Ingest.NATSURL = "" },
	}
	for name, mutate := range cases {
		cfg := Default()
		cfg.Auth.JWTSecret = "s"
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestParseBadYAML(t *testing.T) {
	cfg := Default()
	if err := Parse([]byte("anchors: [1, 2"), &cfg); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := Parse(nil, nil); err == nil {
		t.Fatalf("expected nil target error")
	}
}

func TestWebhookKindsFromEnv(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s")
	t.Setenv("ALERT_WEBHOOK_KINDS", " offline , not_locked,")
	t.Setenv("ALERT_WEBHOOK_DEDUPE", "2m")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]alerts.Kind{alerts.KindOffline, alerts.KindNotLocked}, cfg.WebhookAlertKinds()); diff != "" {
		t.Fatalf("webhook kinds mismatch (-want +got):\n%s", diff)
	}
	if cfg.Alerts.WebhookDedupe != 2*time.Minute {
		t.Fatalf("expected 2m dedupe, got %v", cfg.Alerts.WebhookDedupe)
	}
}
