package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy is an immutable limit: at most Limit accepted calls per WindowSeconds.
// Name scopes identifiers so two policies never share a window for the same client.
type Policy struct {
	Name          string
	Limit         int
	WindowSeconds int
}

// preset policies, overridable at startup through cfg
var (
	API    = Policy{Name: "api", Limit: 120, WindowSeconds: 60}
	Auth   = Policy{Name: "auth", Limit: 15, WindowSeconds: 60}
	Upload = Policy{Name: "upload", Limit: 30, WindowSeconds: 60}
)

// Validate reports a malformed policy. Policies are validated once when they are
// configured, never on the request path.
func (p Policy) Validate() error {
	if p.Limit < 1 {
		return fmt.Errorf("ratelimit policy %q: limit must be >= 1, got %d", p.Name, p.Limit)
	}
	if p.WindowSeconds < 1 {
		return fmt.Errorf("ratelimit policy %q: window must be >= 1s, got %d", p.Name, p.WindowSeconds)
	}
	return nil
}

// MustPolicy panics if p is malformed, for package-level policy declarations
func MustPolicy(p Policy) Policy {
	if err := p.Validate(); err != nil {
		panic(err)
	}
	return p
}

// Window returns the policy window as a duration
func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

func (p Policy) windowMillis() int64 {
	return int64(p.WindowSeconds) * 1000
}

// String renders the policy in the same limit/seconds form ParsePolicy accepts
func (p Policy) String() string {
	return strconv.Itoa(p.Limit) + "/" + strconv.Itoa(p.WindowSeconds)
}

// ParsePolicy parses "limit/seconds" (e.g. "120/60") into a named, validated policy
func ParsePolicy(name, s string) (Policy, error) {
	limit, window, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Policy{}, fmt.Errorf("ratelimit policy %q: want limit/seconds, got %q", name, s)
	}
	l, err := strconv.Atoi(strings.TrimSpace(limit))
	if err != nil {
		return Policy{}, fmt.Errorf("ratelimit policy %q: bad limit %q: %w", name, limit, err)
	}
	w, err := strconv.Atoi(strings.TrimSpace(window))
	if err != nil {
		return Policy{}, fmt.Errorf("ratelimit policy %q: bad window %q: %w", name, window, err)
	}
	p := Policy{Name: name, Limit: l, WindowSeconds: w}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Result is the outcome of a single limiter call. It is never stored.
type Result struct {
	// Success is true when the call was accepted and recorded
	Success bool
	// Remaining is how many more calls would be accepted right now, 0 when rejected
	Remaining int
	// ResetAt is when the oldest counted call leaves the window
	ResetAt time.Time
	// RetryAfterSeconds is the whole seconds until ResetAt, 0 on success
	RetryAfterSeconds int
}

// ResetAtMillis returns ResetAt as milliseconds since the unix epoch
func (r Result) ResetAtMillis() int64 {
	return r.ResetAt.UnixMilli()
}

// evaluate runs the sliding-window decision over timestamps (ms, oldest first)
// and returns the updated slice. record=false is a read-only peek.
func evaluate(ts []int64, nowMs int64, p Policy, record bool) ([]int64, Result) {
	windowMs := p.windowMillis()
	ts = prune(ts, nowMs-windowMs)

	success := len(ts) < p.Limit
	if success && record {
		ts = insertSorted(ts, nowMs)
	}
	oldest := nowMs
	if len(ts) > 0 {
		oldest = ts[0]
	}
	resetMs := oldest + windowMs

	res := Result{
		Success: success,
		ResetAt: time.UnixMilli(resetMs),
	}
	if success {
		// on a peek nothing was appended, so this is the slots still free
		res.Remaining = p.Limit - len(ts)
	} else {
		res.RetryAfterSeconds = ceilSeconds(resetMs - nowMs)
	}
	return ts, res
}

// prune drops every timestamp at or before cutoff. Callers read the clock
// before taking the shard lock, so concurrent calls can arrive out of order and
// expired entries are not guaranteed to be a prefix.
func prune(ts []int64, cutoff int64) []int64 {
	n := 0
	for _, t := range ts {
		if t > cutoff {
			ts[n] = t
			n++
		}
	}
	return ts[:n]
}

// insertSorted keeps ts ascending so ts[0] is always the oldest call
func insertSorted(ts []int64, t int64) []int64 {
	i := len(ts)
	for i > 0 && ts[i-1] > t {
		i--
	}
	ts = append(ts, 0)
	copy(ts[i+1:], ts[i:])
	ts[i] = t
	return ts
}

func ceilSeconds(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}
