package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }
func (failingLimiter) Close() error                                 { return nil }

func serve(t *testing.T, l Limiter, key string) *httptest.ResponseRecorder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deny := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }
	h := Middleware(l, func(*http.Request) string { return key }, deny, logger)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/rounds/coding/answer", nil))
	return rec
}

func TestMiddleware(t *testing.T) {
	m := NewMemoryLimiter(0.001, 1)
	defer closeLimiter(t, m)

	assert.Equal(t, http.StatusNoContent, serve(t, m, "cand-1").Code)
	rec := serve(t, m, "cand-1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, serve(t, m, "cand-2").Code, "keys are independent")
	assert.Equal(t, http.StatusNoContent, serve(t, m, "").Code, "empty key skips limiting")
}

func TestMiddleware_FailsOpen(t *testing.T) {
	assert.Equal(t, http.StatusNoContent, serve(t, failingLimiter{}, "cand-1").Code)
	assert.Equal(t, http.StatusNoContent, serve(t, nil, "cand-1").Code)
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", IPKeyFunc(r))
}
