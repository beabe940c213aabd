package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	alerts "beacon-guard/internal/alerts/domain"
	"beacon-guard/internal/alerts/notify"
	"beacon-guard/internal/bridge"
	"beacon-guard/internal/ingest"
	"beacon-guard/internal/observability/metrics"
	"beacon-guard/internal/positioning/estimator"
	"beacon-guard/internal/positioning/presence"
	registry "beacon-guard/internal/registry/domain"
)

const (
	defaultQueueSize     = 1024
	defaultEffectTimeout = 10 * time.Second
)

// Config tunes the engine.
type Config struct {
	MinAnchors           int
	MaxSampleAge         time.Duration
	SmoothingAlpha       float64
	MovementThreshold    float64
	MaxViolations        int
	AlertCooldown        time.Duration
	OfflineTimeout       time.Duration
	OfflineCheckInterval time.Duration
	AlarmCooldown        time.Duration
	QueueSize            int
	EffectTimeout        time.Duration
	Bounds               *estimator.Bounds
	// ReplaceTargetsOnRefresh replaces the target set with the refresh
	// response instead of merging it.
	ReplaceTargetsOnRefresh bool
}

func (c Config) validate() error {
	if c.MinAnchors < 1 {
		return errors.New("engine: min anchors must be at least 1")
	}
	if c.MaxSampleAge < 0 || c.AlertCooldown < 0 {
		return errors.New("engine: negative duration")
	}
	if c.OfflineTimeout <= 0 || c.OfflineCheckInterval <= 0 || c.AlarmCooldown <= 0 {
		return errors.New("engine: offline timeout, check interval and alarm cooldown must be positive")
	}
	if c.Bounds != nil {
		if err := c.Bounds.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Alarm is the physical alarm.
type Alarm interface {
	Blink(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Bridge is the external training service.
type Bridge interface {
	Train(ctx context.Context, mac string) (bridge.Response, error)
	Refresh(ctx context.Context) (bridge.Response, error)
}

// Engine owns all per-device state. Every mutation happens on the goroutine
// running Run; other goroutines reach it through Submit and the command methods.
type Engine struct {
	cfg      Config
	est      estimator.Estimator
	monitor  presence.Monitor
	registry registry.Registry
	alertLog alerts.Log
	notifier notify.Notifier
	bridge   Bridge
	clock    Clock
	sched    Scheduler
	logger   *log.Logger
	run      func(func())

	telemetry chan ingest.Message
	commands  chan func()
	done      chan struct{}
	running   atomic.Bool
	ready     atomic.Bool
	effects   sync.WaitGroup

	// Loop-owned state.
	snapshot     *registry.Snapshot
	table        *deviceTable
	explicit     map[string]struct{}
	active       map[string]struct{}
	lastDispatch map[string]time.Time
	alarm        *alarmController
}

// Option customizes the engine.
type Option func(*Engine)

// WithNotifier assigns the live-push notifier.
func WithNotifier(notifier notify.Notifier) Option {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

// WithAlarm assigns the physical alarm.
func WithAlarm(alarm Alarm) Option {
	return func(e *Engine) {
		if alarm != nil {
			e.alarm.alarm = alarm
		}
	}
}

// WithBridge assigns the training service client.
func WithBridge(b Bridge) Option {
	return func(e *Engine) {
		e.bridge = b
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithScheduler assigns the alarm timer scheduler.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) {
		if s != nil {
			e.sched = s
		}
	}
}

// WithRunner overrides how side effects are started. The default starts a goroutine.
func WithRunner(run func(func())) Option {
	return func(e *Engine) {
		if run != nil {
			e.run = run
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New constructs an engine. Run must be started before commands are served.
func New(cfg Config, est estimator.Estimator, devices registry.Registry, alertLog alerts.Log, opts ...Option) (*Engine, error) {
	if est == nil {
		return nil, errors.New("engine: nil estimator")
	}
	if devices == nil {
		return nil, errors.New("engine: nil registry")
	}
	if alertLog == nil {
		return nil, errors.New("engine: nil alert log")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if _, err := estimator.NewSmoother(cfg.SmoothingAlpha); err != nil {
		return nil, err
	}
	monitor, err := presence.NewMonitor(cfg.MovementThreshold, cfg.MaxViolations)
	if err != nil {
		return nil, err
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.EffectTimeout <= 0 {
		cfg.EffectTimeout = defaultEffectTimeout
	}

	e := &Engine{
		cfg:          cfg,
		est:          est,
		monitor:      monitor,
		registry:     devices,
		alertLog:     alertLog,
		clock:        systemClock{},
		sched:        realScheduler{},
		logger:       log.Default(),
		run:          func(fn func()) { go fn() },
		telemetry:    make(chan ingest.Message, cfg.QueueSize),
		commands:     make(chan func()),
		done:         make(chan struct{}),
		table:        newDeviceTable(),
		active:       make(map[string]struct{}),
		lastDispatch: make(map[string]time.Time),
	}
	e.alarm = &alarmController{
		alarm:    noopAlarm{},
		cooldown: cfg.AlarmCooldown,
		activeFn: func() int { return len(e.active) },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.alarm.sched = e.sched
	e.alarm.post = e.post
	e.alarm.effect = e.effect
	return e, nil
}

// Run consumes telemetry, commands and timers until ctx is cancelled.
// Pending side effects are drained before it returns.
func (e *Engine) Run(ctx context.Context) error {
	if e == nil {
		return errors.New("engine: nil engine")
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine: already running")
	}
	ticker := time.NewTicker(e.cfg.OfflineCheckInterval)
	defer ticker.Stop()
	defer e.shutdown()

	e.logger.Printf("engine: started queue=%d offline_timeout=%s", e.cfg.QueueSize, e.cfg.OfflineTimeout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-e.telemetry:
			e.handle(msg)
		case fn := <-e.commands:
			fn()
		case <-ticker.C:
			e.sweepOffline()
		}
	}
}

func (e *Engine) shutdown() {
	close(e.done)
	e.alarm.close()
	e.effects.Wait()
	e.logger.Printf("engine: stopped")
}

// Submit enqueues a telemetry message without blocking. It reports false when
// the queue is full or the engine has stopped.
func (e *Engine) Submit(msg ingest.Message) bool {
	if e == nil || msg == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.telemetry <- msg:
		return true
	default:
		metrics.IncQueueDrop()
		return false
	}
}

// Initialized reports whether a non-empty registry snapshot is loaded.
func (e *Engine) Initialized() bool {
	return e != nil && e.ready.Load()
}

// do runs fn on the loop and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	if e == nil {
		return ErrClosed
	}
	reply := make(chan struct{})
	cmd := func() {
		defer close(reply)
		fn()
	}
	select {
	case e.commands <- cmd:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-reply
	return nil
}

// post queues fn on the loop without waiting. Used by timer callbacks.
func (e *Engine) post(fn func()) {
	select {
	case e.commands <- fn:
	case <-e.done:
	}
}

// effect starts a side effect outside the loop. Failures are logged and counted.
func (e *Engine) effect(op string, fn func(ctx context.Context) error) {
	e.effects.Add(1)
	e.run(func() {
		defer e.effects.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.EffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			metrics.IncCollaboratorError(op)
			e.logger.Printf("engine: %s error err=%v", op, err)
		}
	})
}

func (e *Engine) initialized() bool {
	return e.snapshot != nil && e.snapshot.Len() > 0
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type noopAlarm struct{}

func (noopAlarm) Blink(context.Context) error { return nil }
func (noopAlarm) Stop(context.Context) error  { return nil }
