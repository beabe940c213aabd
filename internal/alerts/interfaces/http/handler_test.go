package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	alerts "beacon-guard/internal/alerts/domain"
	"beacon-guard/internal/alerts/infrastructure/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	repo := memory.NewAlertRepository()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, kind := range []alerts.Kind{alerts.KindMovement, alerts.KindRecovery} {
		err := repo.AppendAlert(context.Background(), alerts.Event{
			DeviceID:  1,
			MAC:       "aa:bb",
			Kind:      kind,
			Message:   "m",
			CreatedAt: at.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	h, err := NewHandler(repo, fixedClock{now: at})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func TestListAlerts(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alerts?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out []alertResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0].Kind != string(alerts.KindRecovery) {
		t.Fatalf("expected newest first, got %+v", out)
	}
}

func TestExports(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alerts/export.pdf", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected pdf response %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected pdf body")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alerts/export.xlsx", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("unexpected xlsx response %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=alerts-20260501.xlsx" {
		t.Fatalf("unexpected disposition %q", got)
	}
}

func TestBadRequests(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alerts?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/alerts", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if _, err := NewHandler(nil, nil); err == nil {
		t.Fatalf("expected nil reader error")
	}
}
