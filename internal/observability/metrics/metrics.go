package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "beacon_guard_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestMessages *prometheus.CounterVec
	queueDrops     prometheus.Counter

	estimatesTotal     *prometheus.CounterVec
	presenceTotal      *prometheus.CounterVec
	alertsTotal        *prometheus.CounterVec
	activeAlerts       prometheus.Gauge
	alarmActionsTotal  *prometheus.CounterVec
	collaboratorErrors *prometheus.CounterVec

	bridgeRequests *prometheus.CounterVec
	bridgeLatency  *prometheus.HistogramVec

	websocketClients prometheus.Gauge

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers metrics and DB-backed gauges. db may be nil.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_messages_total",
				Help: "Total telemetry messages by result",
			},
			[]string{"result"},
		)
		queueDrops = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_queue_drops_total",
				Help: "Telemetry messages dropped because the engine queue was full",
			},
		)

		estimatesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "estimates_total",
				Help: "Position estimates by result",
			},
			[]string{"result"},
		)
		presenceTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "presence_transitions_total",
				Help: "Presence monitor transitions by type",
			},
			[]string{"transition"},
		)
		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Alert dispatches by kind and result",
			},
			[]string{"kind", "result"},
		)
		activeAlerts = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_alerts",
				Help: "Devices currently in the active-alert set",
			},
		)
		alarmActionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_actions_total",
				Help: "Physical alarm actions by action and result",
			},
			[]string{"action", "result"},
		)
		collaboratorErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "collaborator_errors_total",
				Help: "Best-effort side effect failures by operation",
			},
			[]string{"op"},
		)

		bridgeRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bridge_requests_total",
				Help: "Training service requests by action and result",
			},
			[]string{"action", "result"},
		)
		bridgeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "bridge_latency_seconds",
				Help:    "Training service request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		)

		websocketClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "websocket_clients",
				Help: "Connected live-push clients",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_export_total",
				Help: "Alert report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alert_export_latency_seconds",
				Help:    "Alert report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format"},
		)

		prometheus.MustRegister(
			ingestMessages,
			queueDrops,
			estimatesTotal,
			presenceTotal,
			alertsTotal,
			activeAlerts,
			alarmActionsTotal,
			collaboratorErrors,
			bridgeRequests,
			bridgeLatency,
			websocketClients,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncIngest counts a telemetry message by result.
func IncIngest(result string) {
	if result == "" {
		result = "unknown"
	}
	if ingestMessages != nil {
		ingestMessages.WithLabelValues(result).Inc()
	}
}

// IncQueueDrop counts a telemetry message dropped on a full queue.
func IncQueueDrop() {
	if queueDrops != nil {
		queueDrops.Inc()
	}
}

// IncEstimate counts an estimation attempt.
func IncEstimate(result string) {
	if result == "" {
		result = "unknown"
	}
	if estimatesTotal != nil {
		estimatesTotal.WithLabelValues(result).Inc()
	}
}

// IncPresenceTransition counts a presence transition.
func IncPresenceTransition(transition string) {
	if transition == "" {
		return
	}
	if presenceTotal != nil {
		presenceTotal.WithLabelValues(transition).Inc()
	}
}

// IncAlert counts a dispatch for a kind.
func IncAlert(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(kind, result).Inc()
	}
}

// SetActiveAlerts sets the active-alert gauge.
func SetActiveAlerts(n int) {
	if activeAlerts != nil {
		activeAlerts.Set(float64(n))
	}
}

// IncAlarmAction counts a physical alarm action.
func IncAlarmAction(action, result string) {
	if alarmActionsTotal != nil {
		alarmActionsTotal.WithLabelValues(action, result).Inc()
	}
}

// IncCollaboratorError counts a failed best-effort side effect.
func IncCollaboratorError(op string) {
	if op == "" {
		op = "unknown"
	}
	if collaboratorErrors != nil {
		collaboratorErrors.WithLabelValues(op).Inc()
	}
}

// ObserveBridge records a training service request.
func ObserveBridge(action, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if bridgeRequests != nil {
		bridgeRequests.WithLabelValues(action, result).Inc()
	}
	if bridgeLatency != nil {
		bridgeLatency.WithLabelValues(action).Observe(duration.Seconds())
	}
}

// SetWebsocketClients sets the live-push client gauge.
func SetWebsocketClients(n int) {
	if websocketClients != nil {
		websocketClients.Set(float64(n))
	}
}

// ObserveExport records an alert report export.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	IngestAccepted  = "accepted"
	IngestIgnored   = "ignored"
	IngestMalformed = "malformed"

	EstimateOK       = "ok"
	EstimateNone     = "none"
	EstimateRejected = "rejected"

	AlertSent       = "sent"
	AlertSuppressed = "suppressed"
)
