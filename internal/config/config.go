package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	alerts "beacon-guard/internal/alerts/domain"
	"beacon-guard/internal/positioning/engine"
	"beacon-guard/internal/positioning/estimator"
	registry "beacon-guard/internal/registry/domain"
)

// Transport names a telemetry transport.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
	TransportNone = "none"
)

// Anchor is one fixed receiver.
type Anchor struct {
	ID int     `yaml:"id"`
	X  float64 `yaml:"x"`
	Y  float64 `yaml:"y"`
}

// DatabaseConfig selects the store. An empty URL keeps everything in memory.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// IngestConfig selects the telemetry transport.
type IngestConfig struct {
	Transport  string `yaml:"transport"`
	MQTTBroker string `yaml:"mqtt_broker"`
	ClientID   string `yaml:"client_id"`
	NATSURL    string `yaml:"nats_url"`
	QueueSize  int    `yaml:"queue_size"`
}

// EstimatorConfig tunes position estimation.
type EstimatorConfig struct {
	Kind             string  `yaml:"kind"`
	MinAnchors       int     `yaml:"min_anchors"`
	WeightDivisor    float64 `yaml:"weight_divisor"`
	TxPower          float64 `yaml:"tx_power"`
	PathLossExponent float64 `yaml:"path_loss_exponent"`
	KalmanQ          float64 `yaml:"kalman_q"`
	KalmanR          float64 `yaml:"kalman_r"`
}

// BoundsConfig is the venue rectangle. A zero rectangle means the anchors' bounding box.
type BoundsConfig struct {
	Mode string  `yaml:"mode"`
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

// PresenceConfig tunes movement detection.
type PresenceConfig struct {
	SmoothingAlpha    float64       `yaml:"smoothing_alpha"`
	MovementThreshold float64       `yaml:"movement_threshold"`
	MaxViolations     int           `yaml:"max_violations"`
	MaxSampleAge      time.Duration `yaml:"max_sample_age"`
}

// AlertsConfig tunes dispatch and the optional webhook channel.
type AlertsConfig struct {
	Cooldown        time.Duration `yaml:"cooldown"`
	WebhookURL      string        `yaml:"webhook_url"`
	WebhookTemplate string        `yaml:"webhook_template"`
	WebhookTimeout  time.Duration `yaml:"webhook_timeout"`
	// WebhookKinds limits the webhook to these alert kinds. Empty sends all.
	WebhookKinds    []string      `yaml:"webhook_kinds"`
	// WebhookDedupe suppresses identical content per device and kind within the window.
	WebhookDedupe   time.Duration `yaml:"webhook_dedupe"`
}

// OfflineConfig tunes the offline sweep.
type OfflineConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// AlarmConfig points at the physical alarm. An empty URL disables it.
type AlarmConfig struct {
	URL      string        `yaml:"url"`
	Cooldown time.Duration `yaml:"cooldown"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BridgeConfig points at the training service. An empty URL disables train and refresh.
type BridgeConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ReplaceTargets bool          `yaml:"replace_targets"`
}

// RegistryConfig tunes registry reloads.
type RegistryConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// AuthConfig configures operator JWT verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Disabled  bool   `yaml:"disabled"`
}

// Config is the process configuration.
type Config struct {
	HTTPAddr  string          `yaml:"http_addr"`
	Database  DatabaseConfig  `yaml:"database"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Anchors   []Anchor        `yaml:"anchors"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Bounds    *BoundsConfig   `yaml:"bounds"`
	Presence  PresenceConfig  `yaml:"presence"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Offline   OfflineConfig   `yaml:"offline"`
	Alarm     AlarmConfig     `yaml:"alarm"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Registry  RegistryConfig  `yaml:"registry"`
	Auth      AuthConfig      `yaml:"auth"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Database: DatabaseConfig{Driver: "pgx"},
		Ingest: IngestConfig{
			Transport:  TransportMQTT,
			MQTTBroker: "tcp://localhost:1883",
			ClientID:   "beacon-guard",
			QueueSize:  1024,
		},
		Anchors: []Anchor{
			{ID: 1, X: 0, Y: 0},
			{ID: 2, X: 7, Y: 0},
			{ID: 3, X: 0, Y: 10},
			{ID: 4, X: 7, Y: 10},
		},
		Estimator: EstimatorConfig{
			Kind:             string(estimator.KindCentroid),
			MinAnchors:       3,
			WeightDivisor:    20,
			TxPower:          estimator.DefaultPathLoss.TxPower,
			PathLossExponent: estimator.DefaultPathLoss.Exponent,
			KalmanQ:          estimator.DefaultKalman.Q,
			KalmanR:          estimator.DefaultKalman.R,
		},
		Presence: PresenceConfig{
			SmoothingAlpha:    0.1,
			MovementThreshold: 1.9,
			MaxViolations:     5,
			MaxSampleAge:      10 * time.Second,
		},
		Alerts: AlertsConfig{
			Cooldown:       3 * time.Second,
			WebhookTimeout: 5 * time.Second,
		},
		Offline: OfflineConfig{
			Timeout:       30 * time.Second,
			CheckInterval: 10 * time.Second,
		},
		Alarm: AlarmConfig{
			Cooldown: 15 * time.Second,
			Timeout:  5 * time.Second,
		},
		Bridge: BridgeConfig{
			Timeout: 30 * time.Second,
		},
		Registry: RegistryConfig{
			RefreshInterval: time.Minute,
		},
	}
}

// Load builds config from defaults, the YAML file named by --config or
// BEACON_GUARD_CONFIG, then environment overrides.
func Load(args []string) (Config, error) {
	flags := pflag.NewFlagSet("beacon-guard", pflag.ContinueOnError)
	path := flags.String("config", os.Getenv("BEACON_GUARD_CONFIG"), "path to YAML config file")
	addr := flags.String("http-addr", "", "HTTP listen address")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *path != "" {
		data, err := os.ReadFile(*path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", *path, err)
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse overlays YAML onto cfg. Keys absent from data keep their current values.
func Parse(data []byte, cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil target")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Database.URL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.Database.URL))
	cfg.Database.Driver = getenvDefault("DB_DRIVER", cfg.Database.Driver)
	cfg.Ingest.Transport = getenvDefault("INGEST_TRANSPORT", cfg.Ingest.Transport)
	cfg.Ingest.MQTTBroker = getenvDefault("MQTT_BROKER_URL", cfg.Ingest.MQTTBroker)
	cfg.Ingest.NATSURL = getenvDefault("NATS_URL", cfg.Ingest.NATSURL)
	cfg.Ingest.QueueSize = getenvIntDefault("INGEST_QUEUE_SIZE", cfg.Ingest.QueueSize)
	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.Auth.JWTSecret))
	cfg.Bridge.BaseURL = getenvDefault("BRIDGE_BASE_URL", cfg.Bridge.BaseURL)
	cfg.Alarm.URL = getenvDefault("ALARM_DEVICE_URL", cfg.Alarm.URL)
	cfg.Alerts.WebhookURL = getenvDefault("ALERT_WEBHOOK_URL", cfg.Alerts.WebhookURL)
	cfg.Alerts.WebhookTemplate = getenvDefault("ALERT_WEBHOOK_TEMPLATE", cfg.Alerts.WebhookTemplate)
	if kinds := splitCSV(os.Getenv("ALERT_WEBHOOK_KINDS")); len(kinds) > 0 {
		cfg.Alerts.WebhookKinds = kinds
	}
	cfg.Alerts.WebhookDedupe = getenvDuration("ALERT_WEBHOOK_DEDUPE", cfg.Alerts.WebhookDedupe)
	cfg.Estimator.Kind = getenvDefault("ESTIMATOR_KIND", cfg.Estimator.Kind)
	cfg.Presence.MovementThreshold = getenvFloatDefault("MOVEMENT_THRESHOLD", cfg.Presence.MovementThreshold)
	cfg.Presence.MaxSampleAge = getenvDuration("MAX_SAMPLE_AGE", cfg.Presence.MaxSampleAge)
	cfg.Alerts.Cooldown = getenvDuration("ALERT_COOLDOWN", cfg.Alerts.Cooldown)
	cfg.Offline.Timeout = getenvDuration("OFFLINE_TIMEOUT", cfg.Offline.Timeout)
	cfg.Offline.CheckInterval = getenvDuration("OFFLINE_CHECK_INTERVAL", cfg.Offline.CheckInterval)
	cfg.Alarm.Cooldown = getenvDuration("ALARM_COOLDOWN", cfg.Alarm.Cooldown)
	cfg.Registry.RefreshInterval = getenvDuration("REGISTRY_REFRESH_INTERVAL", cfg.Registry.RefreshInterval)
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if len(c.Anchors) < 3 {
		return errors.New("config: at least 3 anchors required")
	}
	seen := make(map[int]struct{}, len(c.Anchors))
	for _, a := range c.Anchors {
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("config: duplicate anchor %d", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	if !(c.Presence.SmoothingAlpha > 0 && c.Presence.SmoothingAlpha <= 1) {
		return errors.New("config: smoothing_alpha must be in (0,1]")
	}
	if !(c.Estimator.WeightDivisor > 0) {
		return errors.New("config: weight_divisor must be positive")
	}
	if c.Estimator.MinAnchors < 1 {
		return errors.New("config: min_anchors must be at least 1")
	}
	if !(c.Presence.MovementThreshold > 0) || c.Presence.MaxViolations < 1 {
		return errors.New("config: movement_threshold and max_violations must be positive")
	}
	durations := map[string]time.Duration{
		"max_sample_age":            c.Presence.MaxSampleAge,
		"alerts.cooldown":           c.Alerts.Cooldown,
		"offline.timeout":           c.Offline.Timeout,
		"offline.check_interval":    c.Offline.CheckInterval,
		"alarm.cooldown":            c.Alarm.Cooldown,
		"registry.refresh_interval": c.Registry.RefreshInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if c.Alerts.WebhookDedupe < 0 {
		return errors.New("config: alerts.webhook_dedupe must not be negative")
	}
	for _, kind := range c.Alerts.WebhookKinds {
		if !alerts.Kind(strings.TrimSpace(kind)).Valid() {
			return fmt.Errorf("config: unknown webhook alert kind %q", kind)
		}
	}
	switch estimator.Kind(c.Estimator.Kind) {
	case estimator.KindCentroid, estimator.KindMultilateration:
	default:
		return fmt.Errorf("config: unknown estimator kind %q", c.Estimator.Kind)
	}
	if c.Bounds != nil {
		switch estimator.BoundsMode(c.Bounds.Mode) {
		case estimator.BoundsClamp, estimator.BoundsReject:
		default:
			return fmt.Errorf("config: unknown bounds mode %q", c.Bounds.Mode)
		}
	}
	switch c.Ingest.Transport {
	case TransportMQTT:
		if strings.TrimSpace(c.Ingest.MQTTBroker) == "" {
			return errors.New("config: mqtt broker required")
		}
	case TransportNATS:
		if strings.TrimSpace(c.Ingest.NATSURL) == "" {
			return errors.New("config: nats url required")
		}
	case TransportNone:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Ingest.Transport)
	}
	if !c.Auth.Disabled && c.Auth.JWTSecret == "" {
		return errors.New("config: auth jwt secret required")
	}
	return nil
}

// AnchorIDs returns the configured anchor ids in order.
func (c Config) AnchorIDs() []int {
	ids := make([]int, 0, len(c.Anchors))
	for _, a := range c.Anchors {
		ids = append(ids, a.ID)
	}
	return ids
}

// WebhookAlertKinds returns the configured webhook kind filter.
func (c Config) WebhookAlertKinds() []alerts.Kind {
	kinds := make([]alerts.Kind, 0, len(c.Alerts.WebhookKinds))
	for _, kind := range c.Alerts.WebhookKinds {
		kinds = append(kinds, alerts.Kind(strings.TrimSpace(kind)))
	}
	return kinds
}

// EstimatorAnchors converts anchors for the estimator.
func (c Config) EstimatorAnchors() []estimator.Anchor {
	out := make([]estimator.Anchor, 0, len(c.Anchors))
	for _, a := range c.Anchors {
		out = append(out, estimator.Anchor{ID: a.ID, Position: registry.Position{X: a.X, Y: a.Y}})
	}
	return out
}

// VenueBounds resolves the bounds rectangle, or nil when bounds are off.
func (c Config) VenueBounds() *estimator.Bounds {
	if c.Bounds == nil {
		return nil
	}
	mode := estimator.BoundsMode(c.Bounds.Mode)
	if c.Bounds.MinX == c.Bounds.MaxX && c.Bounds.MinY == c.Bounds.MaxY {
		b := estimator.BoundsOf(c.EstimatorAnchors(), mode)
		return &b
	}
	return &estimator.Bounds{
		MinX: c.Bounds.MinX, MinY: c.Bounds.MinY,
		MaxX: c.Bounds.MaxX, MaxY: c.Bounds.MaxY,
		Mode: mode,
	}
}

// EstimatorConfig builds the estimator configuration.
func (c Config) EstimatorConfig() estimator.Config {
	return estimator.Config{
		Kind:          estimator.Kind(c.Estimator.Kind),
		Anchors:       c.EstimatorAnchors(),
		MinAnchors:    c.Estimator.MinAnchors,
		WeightDivisor: c.Estimator.WeightDivisor,
		PathLoss:      estimator.PathLoss{TxPower: c.Estimator.TxPower, Exponent: c.Estimator.PathLossExponent},
		Kalman:        estimator.KalmanParams{Q: c.Estimator.KalmanQ, R: c.Estimator.KalmanR},
		Bounds:        c.VenueBounds(),
	}
}

// EngineConfig builds the engine configuration.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		MinAnchors:              c.Estimator.MinAnchors,
		MaxSampleAge:            c.Presence.MaxSampleAge,
		SmoothingAlpha:          c.Presence.SmoothingAlpha,
		MovementThreshold:       c.Presence.MovementThreshold,
		MaxViolations:           c.Presence.MaxViolations,
		AlertCooldown:           c.Alerts.Cooldown,
		OfflineTimeout:          c.Offline.Timeout,
		OfflineCheckInterval:    c.Offline.CheckInterval,
		AlarmCooldown:           c.Alarm.Cooldown,
		QueueSize:               c.Ingest.QueueSize,
		Bounds:                  c.VenueBounds(),
		ReplaceTargetsOnRefresh: c.Bridge.ReplaceTargets,
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
