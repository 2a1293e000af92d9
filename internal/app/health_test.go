package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv()
	server := NewHTTPServer(env.service, HTTPOptions{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "healthy" || response["database"] != "connected" || response["version"] != "test" {
		t.Errorf("unexpected health payload %v", response)
	}
}

func TestHealthEndpoint_DatabaseDown(t *testing.T) {
	env := newTestEnv()
	env.store.pingFn = func(context.Context) error {
		return errors.New("connection refused")
	}
	server := NewHTTPServer(env.service, HTTPOptions{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "unhealthy" || response["database"] != "disconnected" {
		t.Errorf("unexpected health payload %v", response)
	}
}

func TestRootEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestEnv().service, HTTPOptions{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	server := NewHTTPServer(newTestEnv().service, HTTPOptions{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestCORSOriginMatching(t *testing.T) {
	server := NewHTTPServer(newTestEnv().service, HTTPOptions{
		CORSOrigins: []string{"http://localhost:3000", "https://editor.example.com"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/files/", nil)
	req.Header.Set("Origin", "https://editor.example.com")
	rr := httptest.NewRecorder()

	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://editor.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

type recordingObserver struct {
	statuses []int
}

func (o *recordingObserver) ObserveRequest(_ string, status int, _ time.Duration) {
	o.statuses = append(o.statuses, status)
}

func TestMiddlewareObservesRequests(t *testing.T) {
	observer := &recordingObserver{}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("# metrics\n"))
	})
	server := NewHTTPServer(newTestEnv().service, HTTPOptions{Observer: observer, Metrics: metricsHandler})

	for _, path := range []string{"/metrics", "/nope"} {
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if len(observer.statuses) != 2 || observer.statuses[0] != http.StatusOK || observer.statuses[1] != http.StatusUnauthorized {
		t.Fatalf("unexpected observed statuses %v", observer.statuses)
	}
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv()
	env.registry.Register(&stubConn{id: "c1"}, "payroll", "usr_alice", "alice")
	server := NewHTTPServer(env.service, HTTPOptions{})

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var stats Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if stats.Workspaces != 1 || stats.Connections != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
