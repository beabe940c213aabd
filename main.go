package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	alerts "beacon-guard/internal/alerts/domain"
	alertmemory "beacon-guard/internal/alerts/infrastructure/memory"
	alertrepo "beacon-guard/internal/alerts/infrastructure/postgres"
	alerthttp "beacon-guard/internal/alerts/interfaces/http"
	"beacon-guard/internal/alerts/interfaces/ws"
	"beacon-guard/internal/alerts/notify"
	"beacon-guard/internal/alarmdevice"
	"beacon-guard/internal/audit"
	"beacon-guard/internal/auth"
	"beacon-guard/internal/bridge"
	"beacon-guard/internal/config"
	"beacon-guard/internal/ingest"
	ingestmqtt "beacon-guard/internal/ingest/mqtt"
	ingestnats "beacon-guard/internal/ingest/nats"
	"beacon-guard/internal/observability/metrics"
	"beacon-guard/internal/positioning/engine"
	"beacon-guard/internal/positioning/estimator"
	positioninghttp "beacon-guard/internal/positioning/interfaces/http"
	registryapp "beacon-guard/internal/registry/application"
	registry "beacon-guard/internal/registry/domain"
	registrymemory "beacon-guard/internal/registry/infrastructure/memory"
	registryrepo "beacon-guard/internal/registry/infrastructure/postgres"
	"beacon-guard/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, dialect, devices, alertLog := openStores(ctx, cfg, logger)
	var auditLogger audit.Logger = audit.NewMemoryLog()
	if db != nil {
		defer db.Close()
		auditLogger = audit.NewRepository(db, dialect)
	}
	metrics.Init(db, logger)

	hub := ws.NewHub(logger)
	notifiers := []notify.Notifier{hub}
	if cfg.Alerts.WebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.Alerts.WebhookURL)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		tpl, err := notify.NewTemplate(cfg.Alerts.WebhookTemplate)
		if err != nil {
			logger.Fatalf("alert template error: %v", err)
		}
		webhook, err := notify.NewChannelNotifier(channel, tpl,
			notify.WithRequestTimeout(cfg.Alerts.WebhookTimeout),
			notify.WithKinds(cfg.WebhookAlertKinds()...),
			notify.WithDedupeWindow(cfg.Alerts.WebhookDedupe),
		)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		notifiers = append(notifiers, webhook)
	}

	est, err := estimator.New(cfg.EstimatorConfig())
	if err != nil {
		logger.Fatalf("estimator error: %v", err)
	}

	opts := []engine.Option{
		engine.WithNotifier(notify.NewMultiNotifier(notifiers...)),
		engine.WithLogger(logger),
	}
	if cfg.Alarm.URL != "" {
		alarm, err := alarmdevice.NewClient(cfg.Alarm.URL, cfg.Alarm.Timeout)
		if err != nil {
			logger.Fatalf("alarm client error: %v", err)
		}
		opts = append(opts, engine.WithAlarm(alarm))
	} else {
		logger.Printf("alarm device not configured")
	}
	if cfg.Bridge.BaseURL != "" {
		client, err := bridge.NewClient(cfg.Bridge.BaseURL, bridge.WithHTTPClient(&http.Client{Timeout: cfg.Bridge.Timeout}))
		if err != nil {
			logger.Fatalf("bridge client error: %v", err)
		}
		opts = append(opts, engine.WithBridge(client))
	}

	eng, err := engine.New(cfg.EngineConfig(), est, devices, alertLog, opts...)
	if err != nil {
		logger.Fatalf("engine error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	refresher, err := registryapp.NewRefresher(devices, eng, cfg.Registry.RefreshInterval, logger)
	if err != nil {
		logger.Fatalf("registry refresher error: %v", err)
	}
	go refresher.Run(ctx)

	closeIngest := startIngest(ctx, cfg, eng, logger)
	defer closeIngest()

	positionHandler, err := positioninghttp.NewHandler(eng, positioninghttp.WithAudit(auditLogger))
	if err != nil {
		logger.Fatalf("positioning handler error: %v", err)
	}
	alertHandler, err := alerthttp.NewHandler(alertLog, systemClock{})
	if err != nil {
		logger.Fatalf("alerts handler error: %v", err)
	}
	statusHandler, err := ws.NewHandler(hub, eng.Initialized, logger)
	if err != nil {
		logger.Fatalf("status handler error: %v", err)
	}

	mux := http.NewServeMux()
	positionHandler.Register(mux)
	alertHandler.Register(mux)
	mux.Handle("/status", statusHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var handler http.Handler = mux
	if cfg.Auth.Disabled {
		logger.Printf("auth disabled")
	} else {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
		handler = auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy).Wrap(mux)
	}

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(handler, logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server error: %v", err)
	}
	wg.Wait()
	logger.Printf("shutdown complete")
}

func openStores(ctx context.Context, cfg config.Config, logger *log.Logger) (*sql.DB, storage.Dialect, registry.Registry, alerts.Store) {
	if cfg.Database.URL == "" {
		logger.Printf("DATABASE_URL not set, using in-memory stores")
		return nil, "", registrymemory.NewDeviceRepository(), alertmemory.NewAlertRepository()
	}
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, dialect, err := storage.Open(openCtx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	if err := storage.MigrateUp(db, dialect, logger); err != nil {
		logger.Fatalf("db migrate error: %v", err)
	}
	return db, dialect,
		registryrepo.NewDeviceRepository(db, registryrepo.WithDialect(dialect)),
		alertrepo.NewAlertRepository(db, dialect)
}

func startIngest(ctx context.Context, cfg config.Config, sink ingest.Sink, logger *log.Logger) func() {
	topics := ingest.Topics(cfg.AnchorIDs())
	switch cfg.Ingest.Transport {
	case config.TransportMQTT:
		sub, err := ingestmqtt.NewSubscriber(cfg.Ingest.MQTTBroker, topics, sink,
			ingestmqtt.WithClientID(cfg.Ingest.ClientID),
			ingestmqtt.WithLogger(logger),
		)
		if err != nil {
			logger.Fatalf("mqtt subscriber error: %v", err)
		}
		if err := sub.Start(ctx); err != nil {
			logger.Fatalf("mqtt start error: %v", err)
		}
		return sub.Close
	case config.TransportNATS:
		sub, err := ingestnats.NewSubscriber(cfg.Ingest.NATSURL, topics, sink, logger)
		if err != nil {
			logger.Fatalf("nats subscriber error: %v", err)
		}
		if err := sub.Start(); err != nil {
			logger.Fatalf("nats start error: %v", err)
		}
		return sub.Close
	default:
		logger.Printf("telemetry ingest disabled")
		return func() {}
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response does not support hijacking")
	}
	return hijacker.Hijack()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
