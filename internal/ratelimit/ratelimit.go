package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/keithlinneman/diary/internal/httpmw"
)

// Limiter applies policies against a Store. It is constructed once at startup
// and handed to whatever needs it, there is no package-level instance.
type Limiter struct {
	store Store
	now   func() time.Time

	// streaks holds keys that are currently being denied, so OnFirstDenied
	// fires once per streak instead of once per request
	mu      sync.Mutex
	streaks map[string]struct{}

	// OnFirstDenied is called once when a key starts getting denied, used for logging
	OnFirstDenied func(p Policy, key string)

	// OnDenied is called on every denied call, used for incrementing prometheus counters
	OnDenied func(p Policy, key string)

	// OnStoreError is called when the store fails. the call is let through.
	OnStoreError func(p Policy, key string, err error)
}

type Option func(*Limiter)

// WithStore replaces the default in-memory store
func WithStore(s Store) Option {
	return func(l *Limiter) {
		l.store = s
	}
}

// WithClock overrides time.Now, tests use this to step through windows
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithOnFirstDenied sets a callback for the first denial of a streak per key.
// Separate from OnDenied so we log once but count every denial.
func WithOnFirstDenied(fn func(p Policy, key string)) Option {
	return func(l *Limiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets a callback for every denied call
func WithOnDenied(fn func(p Policy, key string)) Option {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

// WithOnStoreError sets a callback for store failures (redis only, the memory store cannot fail)
func WithOnStoreError(fn func(p Policy, key string, err error)) Option {
	return func(l *Limiter) {
		l.OnStoreError = fn
	}
}

// New creates a Limiter. Without WithStore it uses a fresh MemoryStore.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		now:     time.Now,
		streaks: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore()
	}
	return l
}

// Check records a call for key under p if it fits in the window.
// key must already be scoped by the caller (see Middleware).
func (l *Limiter) Check(ctx context.Context, key string, p Policy) Result {
	now := l.now()
	res, err := l.store.Take(ctx, key, p, now)
	if err != nil {
		if l.OnStoreError != nil {
			l.OnStoreError(p, key, err)
		}
		// fail open, a broken shared store should not take the api down with it
		return Result{Success: true, Remaining: p.Limit - 1, ResetAt: now.Add(p.Window())}
	}

	if res.Success {
		l.endStreak(key)
		return res
	}

	first := l.startStreak(key)
	if first && l.OnFirstDenied != nil {
		l.OnFirstDenied(p, key)
	}
	if l.OnDenied != nil {
		l.OnDenied(p, key)
	}
	return res
}

// Peek reports the current state for key under p without recording a call
func (l *Limiter) Peek(ctx context.Context, key string, p Policy) (Result, error) {
	return l.store.Peek(ctx, key, p, l.now())
}

func (l *Limiter) startStreak(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.streaks[key]; ok {
		return false
	}
	l.streaks[key] = struct{}{}
	return true
}

func (l *Limiter) endStreak(key string) {
	l.mu.Lock()
	delete(l.streaks, key)
	l.mu.Unlock()
}

// KeyFunc derives the identifier for a request. An empty string falls back to the client ip.
type KeyFunc func(r *http.Request) string

// KeyByIP keys on the client identifier resolved by httpmw.ClientIP
func KeyByIP(r *http.Request) string {
	return httpmw.ClientIPFromContext(r.Context())
}

// Middleware rejects requests over p with 429. Identifiers are prefixed with
// p.Name so each policy keeps its own window per client. p is validated here,
// at route setup, and a malformed policy panics.
func (l *Limiter) Middleware(p Policy, key KeyFunc) func(http.Handler) http.Handler {
	MustPolicy(p)
	if key == nil {
		key = KeyByIP
	}
	limit := strconv.Itoa(p.Limit)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := key(r)
			if id == "" {
				id = KeyByIP(r)
			}
			res := l.Check(r.Context(), p.Name+":"+id, p)

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Success {
				h.Set("Content-Type", "application/json; charset=utf-8")
				h.Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"too many requests","retryAfterSeconds":%d}`, res.RetryAfterSeconds)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
