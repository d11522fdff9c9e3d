package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/diary/internal/httpmw"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestLimiter returns a limiter on a fresh memory store with a controllable clock
func newTestLimiter(opts ...Option) (*Limiter, *fakeClock) {
	clk := &fakeClock{t: epoch}
	all := append([]Option{WithClock(clk.Now)}, opts...)
	return New(all...), clk
}

func makeRequestWithIP(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(httpmw.WithClientIP(req.Context(), ip))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCheck_WindowSlides(t *testing.T) {
	l, clk := newTestLimiter()
	ctx := context.Background()
	p := Policy{Name: "t", Limit: 2, WindowSeconds: 10}

	l.Check(ctx, "k", p)
	l.Check(ctx, "k", p)
	res := l.Check(ctx, "k", p)
	if res.Success {
		t.Fatal("third call should be denied")
	}

	clk.Advance(time.Duration(res.RetryAfterSeconds) * time.Second)
	if res := l.Check(ctx, "k", p); !res.Success {
		t.Fatalf("call after waiting retryAfter (%ds) should succeed", res.RetryAfterSeconds)
	}
}

func TestCheck_OnFirstDeniedOncePerStreak(t *testing.T) {
	var first, denied atomic.Int32
	l, clk := newTestLimiter(
		WithOnFirstDenied(func(Policy, string) { first.Add(1) }),
		WithOnDenied(func(Policy, string) { denied.Add(1) }),
	)
	ctx := context.Background()
	p := Policy{Name: "t", Limit: 1, WindowSeconds: 5}

	l.Check(ctx, "k", p)
	for i := 0; i < 4; i++ {
		l.Check(ctx, "k", p)
	}
	if first.Load() != 1 || denied.Load() != 4 {
		t.Fatalf("first=%d denied=%d, want 1/4", first.Load(), denied.Load())
	}

	// an accepted call ends the streak, the next denial logs again
	clk.Advance(6 * time.Second)
	l.Check(ctx, "k", p)
	l.Check(ctx, "k", p)
	if first.Load() != 2 {
		t.Fatalf("first = %d after a new streak, want 2", first.Load())
	}
}

type failingStore struct{}

func (failingStore) Take(context.Context, string, Policy, time.Time) (Result, error) {
	return Result{}, errors.New("connection refused")
}

func (failingStore) Peek(context.Context, string, Policy, time.Time) (Result, error) {
	return Result{}, errors.New("connection refused")
}

func TestCheck_StoreErrorFailsOpen(t *testing.T) {
	var gotErr error
	l, _ := newTestLimiter(
		WithStore(failingStore{}),
		WithOnStoreError(func(_ Policy, _ string, err error) { gotErr = err }),
	)
	res := l.Check(context.Background(), "k", Auth)
	if !res.Success {
		t.Fatal("store failure should let the call through")
	}
	if gotErr == nil {
		t.Fatal("OnStoreError not called")
	}
	if _, err := l.Peek(context.Background(), "k", Auth); err == nil {
		t.Fatal("Peek should surface store errors")
	}
}

func TestNew_DefaultsToMemoryStore(t *testing.T) {
	l := New()
	if _, ok := l.store.(*MemoryStore); !ok {
		t.Fatalf("default store = %T, want *MemoryStore", l.store)
	}
}

func TestMiddleware_AllowsThenRejects(t *testing.T) {
	l, _ := newTestLimiter()
	p := Policy{Name: "auth", Limit: 2, WindowSeconds: 60}
	h := l.Middleware(p, nil)(okHandler)

	for i := 0; i < 2; i++ {
		rec := makeRequestWithIP(h, "10.0.0.1")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Fatalf("X-RateLimit-Limit = %q", got)
		}
	}

	rec := makeRequestWithIP(h, "10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want 60", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var body struct {
		Error             string `json:"error"`
		RetryAfterSeconds int    `json:"retryAfterSeconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if body.Error != "too many requests" || body.RetryAfterSeconds != 60 {
		t.Fatalf("body = %+v", body)
	}
}

func TestMiddleware_SeparateIPs(t *testing.T) {
	l, _ := newTestLimiter()
	h := l.Middleware(Policy{Name: "api", Limit: 1, WindowSeconds: 60}, nil)(okHandler)

	makeRequestWithIP(h, "10.0.0.1")
	if rec := makeRequestWithIP(h, "10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same ip = %d, want 429", rec.Code)
	}
	if rec := makeRequestWithIP(h, "10.0.0.2"); rec.Code != http.StatusOK {
		t.Fatalf("other ip = %d, want 200", rec.Code)
	}
}

func TestMiddleware_PoliciesDoNotShareWindows(t *testing.T) {
	l, _ := newTestLimiter()
	auth := l.Middleware(Policy{Name: "auth", Limit: 1, WindowSeconds: 60}, nil)(okHandler)
	api := l.Middleware(Policy{Name: "api", Limit: 1, WindowSeconds: 60}, nil)(okHandler)

	makeRequestWithIP(auth, "10.0.0.1")
	if rec := makeRequestWithIP(api, "10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("api policy affected by auth policy: %d", rec.Code)
	}
}

func TestMiddleware_CustomKeyFallsBackToIP(t *testing.T) {
	l, _ := newTestLimiter()
	byUser := func(r *http.Request) string { return r.Header.Get("X-User") }
	h := l.Middleware(Policy{Name: "upload", Limit: 1, WindowSeconds: 60}, byUser)(okHandler)

	do := func(user, ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(httpmw.WithClientIP(req.Context(), ip))
		if user != "" {
			req.Header.Set("X-User", user)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if do("u1", "10.0.0.1") != http.StatusOK {
		t.Fatal("first upload for u1 should pass")
	}
	// same user, different ip: still limited
	if do("u1", "10.0.0.9") != http.StatusTooManyRequests {
		t.Fatal("u1 should be limited regardless of ip")
	}
	// no user: keyed by ip
	if do("", "10.0.0.1") != http.StatusOK {
		t.Fatal("anonymous request should use the ip key")
	}
}

func TestMiddleware_PanicsOnInvalidPolicy(t *testing.T) {
	l, _ := newTestLimiter()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	l.Middleware(Policy{Name: "bad"}, nil)
}

func TestMiddleware_ConcurrentRequests(t *testing.T) {
	l, _ := newTestLimiter()
	h := l.Middleware(Policy{Name: "api", Limit: 10, WindowSeconds: 60}, nil)(okHandler)

	var ok, limited atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch makeRequestWithIP(h, "10.0.0.1").Code {
			case http.StatusOK:
				ok.Add(1)
			case http.StatusTooManyRequests:
				limited.Add(1)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 10 || limited.Load() != 40 {
		t.Fatalf("ok=%d limited=%d, want 10/40", ok.Load(), limited.Load())
	}
}
