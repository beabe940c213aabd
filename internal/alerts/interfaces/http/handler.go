package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	alerts "beacon-guard/internal/alerts/domain"
	"beacon-guard/internal/alerts/export"
	"beacon-guard/internal/observability/metrics"
)

const defaultExportLimit = 1000

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Handler serves the alert log and its report exports.
type Handler struct {
	reader alerts.Reader
	clock  Clock
}

// NewHandler constructs a handler.
func NewHandler(reader alerts.Reader, clock Clock) (*Handler, error) {
	if reader == nil {
		return nil, errors.New("alerts handler: nil reader")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Handler{reader: reader, clock: clock}, nil
}

// Register mounts the handler's routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/alerts", h)
	mux.Handle("/api/alerts/export.xlsx", h)
	mux.Handle("/api/alerts/export.pdf", h)
}

type alertResponse struct {
	ID        string `json:"id"`
	DeviceID  int64  `json:"device_id"`
	MAC       string `json:"mac"`
	Kind      string `json:"type"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// ServeHTTP handles /api/alerts and the export routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch r.URL.Path {
	case "/api/alerts":
		h.handleList(w, r, limit)
	case "/api/alerts/export.xlsx":
		h.handleExport(w, r, limit, "xlsx")
	case "/api/alerts/export.pdf":
		h.handleExport(w, r, limit, "pdf")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, limit int) {
	events, err := h.reader.ListRecent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]alertResponse, 0, len(events))
	for _, e := range events {
		out = append(out, alertResponse{
			ID:        e.ID,
			DeviceID:  e.DeviceID,
			MAC:       e.MAC,
			Kind:      string(e.Kind),
			Message:   e.Message,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, limit int, format string) {
	start := time.Now()
	events, err := h.reader.ListRecent(r.Context(), limit)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var (
		data        []byte
		contentType string
	)
	now := h.clock.Now()
	switch format {
	case "xlsx":
		data, err = export.BuildAlertsXLSX(events, now)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		data, err = export.BuildAlertsPDF(events, now)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=alerts-"+now.UTC().Format("20060102")+"."+format)
	_, _ = w.Write(data)
}

func parseLimit(r *http.Request) (int, error) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return defaultExportLimit, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
