package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alerts "beacon-guard/internal/alerts/domain"
)

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	notifier, err := NewChannelNotifier(channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	err = notifier.Notify(context.Background(), Notification{
		Kind:      alerts.KindMovement,
		MAC:       "aa:bb:cc",
		Name:      "Cart 7",
		Message:   "Device moved from its saved position",
		Timestamp: time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		want := webhookAlert{
			Kind:      "alert",
			MAC:       "AA:BB:CC",
			Device:    "Cart 7",
			Message:   "Device moved from its saved position",
			Timestamp: "2026-01-26T08:00:00Z",
			State:     "raised",
		}
		if payload.Alert != want {
			t.Fatalf("expected alert fields %+v, got %+v", want, payload.Alert)
		}
		checks := []string{
			"[Beacon Moved]",
			"Device: Cart 7",
			"MAC: AA:BB:CC",
			"Message: Device moved from its saved position",
			"Time: 2026-01-26T08:00:00Z",
		}
		for _, expected := range checks {
			if !strings.Contains(payload.Text.Content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, payload.Text.Content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestWebhookChannelNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	channel, _ := NewWebhookChannel(server.URL)
	if err := channel.Send(context.Background(), Notification{Kind: alerts.KindOffline, MAC: "aa:bb"}, "x"); err == nil {
		t.Fatalf("expected error on 502")
	}
	if _, err := NewWebhookChannel(""); err == nil {
		t.Fatalf("expected error on empty url")
	}
}

func TestWebhookPayloadState(t *testing.T) {
	cases := map[alerts.Kind]string{
		alerts.KindOffline:           "raised",
		alerts.KindRecovery:          "cleared",
		alerts.KindTrainingInitiated: "info",
	}
	for kind, want := range cases {
		got := newWebhookPayload(Notification{Kind: kind, MAC: "aa:bb"}, "c").Alert.State
		if got != want {
			t.Fatalf("%s: expected %s, got %s", kind, want, got)
		}
	}
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
	err      error
}

func (r *recordingChannel) Send(_ context.Context, _ Notification, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.contents = append(r.contents, content)
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewChannelNotifier(channel, nil, WithClock(clock), WithDedupeWindow(30*time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	note := Notification{Kind: alerts.KindOffline, MAC: "aa", Message: "offline", Timestamp: clock.Now()}

	_ = notifier.Notify(context.Background(), note)
	clock.Add(5 * time.Minute)
	_ = notifier.Notify(context.Background(), note)
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during dedupe window, got %d", got)
	}

	note.Message = "still offline"
	_ = notifier.Notify(context.Background(), note)
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected notification when content changes, got %d", got)
	}

	clock.Add(31 * time.Minute)
	_ = notifier.Notify(context.Background(), note)
	if got := channel.Count(); got != 3 {
		t.Fatalf("expected notification after window, got %d", got)
	}
}

func TestNotifierKindFilter(t *testing.T) {
	channel := &recordingChannel{}
	notifier, _ := NewChannelNotifier(channel, nil, WithKinds(alerts.KindMovement, alerts.KindOffline))
	_ = notifier.Notify(context.Background(), Notification{Kind: alerts.KindTrainingProgress, MAC: "aa", Message: "50%"})
	_ = notifier.Notify(context.Background(), Notification{Kind: alerts.KindMovement, MAC: "aa", Message: "moved"})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected only movement delivered, got %d", got)
	}
}

type funcNotifier func(context.Context, Notification) error

func (f funcNotifier) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

func TestMultiNotifierIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	var delivered int
	multi := NewMultiNotifier(
		funcNotifier(func(context.Context, Notification) error { return boom }),
		nil,
		funcNotifier(func(context.Context, Notification) error { delivered++; return nil }),
	)
	err := multi.Notify(context.Background(), Notification{Kind: alerts.KindMovement, MAC: "aa"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected second notifier to run, got %d", delivered)
	}
}

func TestWireMessageUppercasesMAC(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("x", 3600))
	msg := Notification{Kind: alerts.KindRecovery, MAC: "aa:bb", Message: "back", Timestamp: ts}.WireMessage()
	if msg.MAC != "AA:BB" || msg.Type != "recovery" || msg.Timestamp != "2026-02-03T03:05:06Z" {
		t.Fatalf("unexpected wire message %+v", msg)
	}
}
