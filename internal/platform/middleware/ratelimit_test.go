package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func doRequest(t *testing.T, e *echo.Echo, h echo.HandlerFunc, ip string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/reports", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 5; i++ {
		rec, err := doRequest(t, e, handler, "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, rec.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}, clock.now)
	e := echo.New()
	handler := rateLimit(store)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 2; i++ {
		if _, err := doRequest(t, e, handler, "10.0.0.1"); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec, err := doRequest(t, e, handler, "10.0.0.1")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
	retry, parseErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if parseErr != nil || retry < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}

	// One second refills one token.
	clock.advance(time.Second)
	if _, err := doRequest(t, e, handler, "10.0.0.1"); err != nil {
		t.Errorf("expected request after refill to pass, got %v", err)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}, clock.now)
	e := echo.New()
	handler := rateLimit(store)(func(c echo.Context) error { return nil })

	if _, err := doRequest(t, e, handler, "10.0.0.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := doRequest(t, e, handler, "10.0.0.1"); err == nil {
		t.Error("expected second request from same client to be limited")
	}
	if _, err := doRequest(t, e, handler, "10.0.0.2"); err != nil {
		t.Errorf("expected other client to pass, got %v", err)
	}
}

func TestRateLimit_PrunesIdleBuckets(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cfg := RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute}
	store := newRateLimiterStore(cfg, clock.now)
	e := echo.New()
	handler := rateLimit(store)(func(c echo.Context) error { return nil })

	_, _ = doRequest(t, e, handler, "10.0.0.1")
	_, _ = doRequest(t, e, handler, "10.0.0.2")
	if store.size() != 2 {
		t.Fatalf("expected 2 buckets, got %d", store.size())
	}

	clock.advance(2 * time.Minute)
	_, _ = doRequest(t, e, handler, "10.0.0.3")
	if store.size() != 1 {
		t.Errorf("expected idle buckets pruned, got %d", store.size())
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
