package auth

import (
	"sync"
	"time"
)

// RateLimiter enforces a sliding-window call budget per key. The SCIM surface
// keys it by SSO config ID so one tenant's provisioning burst cannot starve
// another's.
type RateLimiter struct {
	mu      sync.Mutex
	calls   map[string][]time.Time
	limit   int
	window  time.Duration
	done    chan struct{}
	stopped sync.Once
}

// NewRateLimiter allows limit calls per key within window. A background
// goroutine prunes keys that have gone quiet; Stop ends it.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		calls:  make(map[string][]time.Time),
		limit:  limit,
		window: window,
		done:   make(chan struct{}),
	}
	go rl.prune()
	return rl
}

// Allow reports whether the key is still within budget. Each call counts as
// an attempt.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := keepRecent(rl.calls[key], now.Add(-rl.window))

	if len(recent) >= rl.limit {
		rl.calls[key] = recent
		return false
	}

	rl.calls[key] = append(recent, now)
	return true
}

// Stop terminates the background pruning goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopped.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) prune() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.window)
		for key, calls := range rl.calls {
			recent := keepRecent(calls, cutoff)
			if len(recent) == 0 {
				delete(rl.calls, key)
			} else {
				rl.calls[key] = recent
			}
		}
		rl.mu.Unlock()
	}
}

func keepRecent(calls []time.Time, cutoff time.Time) []time.Time {
	recent := calls[:0]
	for _, t := range calls {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}
