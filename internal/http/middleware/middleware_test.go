package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	handler := RateLimit(RateLimitConfig{RPS: 0.001, Burst: 2})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		request := httptest.NewRequest(http.MethodGet, "/api/villes", nil)
		request.RemoteAddr = "10.0.0.1:5555"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		codes = append(codes, recorder.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	other := httptest.NewRequest(http.MethodGet, "/api/villes", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, other)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected separate bucket per client, got %d", recorder.Code)
	}
}

func TestRateLimitExemptPrefix(t *testing.T) {
	handler := RateLimit(RateLimitConfig{RPS: 0.001, Burst: 1, ExemptPrefixes: []string{"/healthz"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected exempt path to bypass limiter, got %d", recorder.Code)
		}
	}
}

func TestRequestIDPropagatesOrMints(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set("X-Request-Id", "req-123")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if seen != "req-123" || recorder.Header().Get("X-Request-Id") != "req-123" {
		t.Fatalf("expected propagated request id, got %q", seen)
	}

	request = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set("X-Request-Id", strings.Repeat("x", 200))
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if len(seen) != 36 || recorder.Header().Get("X-Request-Id") != seen {
		t.Fatalf("expected minted uuid, got %q", seen)
	}
}

func TestTraceLogsRequest(t *testing.T) {
	logger, hook := test.NewNullLogger()
	handler := RequestID(Trace(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	request := httptest.NewRequest(http.MethodGet, "/api/top-modeles", nil)
	request.Header.Set("X-Request-Id", "req-9")
	handler.ServeHTTP(httptest.NewRecorder(), request)

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.InfoLevel {
		t.Fatalf("expected an info trace entry, got %+v", entry)
	}
	if entry.Data["request_id"] != "req-9" || entry.Data["path"] != "/api/top-modeles" {
		t.Fatalf("unexpected trace fields %v", entry.Data)
	}
}
