// Package ratelimit provides per-participant sliding-window admission and a
// token bucket used to pace outbound API calls.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultMaxRequests = 5
	DefaultWindow      = 60 * time.Second
)

// Policy allows MaxRequests accepted requests within any trailing Window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultPolicy is 5 requests per minute.
func DefaultPolicy() Policy {
	return Policy{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}
}

func (p Policy) normalized() Policy {
	if p.MaxRequests <= 0 {
		p.MaxRequests = DefaultMaxRequests
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}

type window struct {
	policy   Policy
	accepted []time.Time // oldest first
}

// prune drops timestamps at or beyond the trailing window edge, so a window
// that is still full always has a strictly positive wait.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.policy.Window)
	i := 0
	for i < len(w.accepted) && !w.accepted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.accepted = append(w.accepted[:0], w.accepted[i:]...)
	}
}

// Limiter tracks a window per key. Windows are created lazily and live for
// the process lifetime; state is not persisted.
type Limiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	policy    Policy
	overrides map[string]Policy
	now       func() time.Time
}

// NewLimiter creates a limiter with the given default policy.
func NewLimiter(policy Policy) *Limiter {
	return &Limiter{
		windows:   make(map[string]*window),
		policy:    policy.normalized(),
		overrides: make(map[string]Policy),
		now:       time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// SetPolicy overrides the policy for one key and resets its window.
func (l *Limiter) SetPolicy(key string, p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p = p.normalized()
	l.overrides[key] = p
	l.windows[key] = &window{policy: p}
}

// Allow reports whether key may act now. An accepted attempt is recorded;
// a rejected one is not.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windowLocked(key)
	w.prune(now)
	if len(w.accepted) >= w.policy.MaxRequests {
		return false
	}
	w.accepted = append(w.accepted, now)
	return true
}

// RemainingWait is zero when Allow would succeed, otherwise the time until the
// oldest accepted request leaves the window.
func (l *Limiter) RemainingWait(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windowLocked(key)
	w.prune(now)
	if len(w.accepted) < w.policy.MaxRequests {
		return 0
	}
	wait := w.policy.Window - now.Sub(w.accepted[0])
	if wait < 0 {
		return 0
	}
	return wait
}

// RemainingWaitSeconds is RemainingWait as fractional seconds.
func (l *Limiter) RemainingWaitSeconds(key string) float64 {
	return l.RemainingWait(key).Seconds()
}

func (l *Limiter) windowLocked(key string) *window {
	w, ok := l.windows[key]
	if !ok {
		p, ok := l.overrides[key]
		if !ok {
			p = l.policy
		}
		w = &window{policy: p}
		l.windows[key] = w
	}
	return w
}
