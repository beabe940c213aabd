package alarmdevice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestBlinkAndStop(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 0)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Blink(context.Background()); err != nil {
		t.Fatalf("blink: %v", err)
	}
	if err := client.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 || paths[0] != "/blinkLED" || paths[1] != "/stopBlink" {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	client, _ := NewClient(server.URL, 0)
	if err := client.Blink(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewClient("", 0); err == nil {
		t.Fatalf("expected empty url error")
	}
}
