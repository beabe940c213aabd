package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RoleFromContext(r.Context()) == "" && r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, method, path, token string) int {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp.Code
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy([]string{"/healthz"}, nil))
	handler := mw.Wrap(okHandler())

	if code := serve(handler, http.MethodGet, "/api/positions", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code := serve(handler, http.MethodGet, "/healthz", ""); code != http.StatusOK {
		t.Fatalf("expected exempt 200, got %d", code)
	}
}

func TestAuthMiddleware_Roles(t *testing.T) {
	secret := []byte("test-secret")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())
	viewer := mustToken(t, secret, RoleViewer)
	operator := mustToken(t, secret, RoleOperator)
	admin := mustToken(t, secret, RoleAdmin)

	cases := []struct {
		method string
		path   string
		token  string
		code   int
	}{
		{http.MethodGet, "/api/positions", viewer, http.StatusOK},
		{http.MethodPost, "/api/position/train", viewer, http.StatusForbidden},
		{http.MethodPost, "/api/position/train", operator, http.StatusOK},
		{http.MethodPut, "/api/targets", operator, http.StatusForbidden},
		{http.MethodPut, "/api/targets", admin, http.StatusOK},
		{http.MethodPost, "/api/positions/aa:bb/save", operator, http.StatusForbidden},
		{http.MethodGet, "/api/alerts/export.pdf", viewer, http.StatusForbidden},
		{http.MethodGet, "/api/alerts/export.pdf", operator, http.StatusOK},
	}
	for _, tc := range cases {
		if code := serve(handler, tc.method, tc.path, tc.token); code != tc.code {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.code, code)
		}
	}
}

func TestAuthMiddleware_WebsocketQueryToken(t *testing.T) {
	secret := []byte("test-secret")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/status?token="+mustToken(t, secret, RoleViewer), nil)
	req.Header.Set("Upgrade", "websocket")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	plain := httptest.NewRequest(http.MethodGet, "/api/positions?token="+mustToken(t, secret, RoleViewer), nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, plain)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected query token ignored outside upgrades, got %d", resp.Code)
	}
}

func TestParseJWTRejects(t *testing.T) {
	secret := []byte("test-secret")
	if _, err := ParseJWT(mustToken(t, []byte("other"), RoleAdmin), secret); err == nil {
		t.Fatalf("expected signature error")
	}
	if _, err := IssueJWT(secret, "user-1", Role("root"), time.Hour); err == nil {
		t.Fatalf("expected invalid role error")
	}
	expired, err := IssueJWT(secret, "user-1", RoleViewer, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseJWT(expired, secret); err == nil {
		t.Fatalf("expected expired token error")
	}
}

func mustToken(t *testing.T, secret []byte, role Role) string {
	t.Helper()
	token, err := IssueJWT(secret, "user-1", role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}
