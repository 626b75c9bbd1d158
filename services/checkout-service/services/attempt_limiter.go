package services

import (
	"sync"
	"time"
)

// AttemptLimiter bounds verification attempts per payment reference within a
// fixed window. Counters live in process memory only and reset on restart.
// It protects the gateway and database from aggressive polling; it is not an
// idempotency mechanism. Exactly-once fulfillment is enforced by the storage
// layer's unique constraints.
type AttemptLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	items map[string]*attemptEntry

	stop chan struct{}
	once sync.Once
}

type attemptEntry struct {
	windowStart time.Time
	count       int
}

// NewAttemptLimiter allows limit attempts per reference per window.
func NewAttemptLimiter(limit int, window time.Duration) *AttemptLimiter {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return &AttemptLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		items:  make(map[string]*attemptEntry),
		stop:   make(chan struct{}),
	}
}

// Allow records an attempt for reference and reports whether it is within
// the limit, together with the number of attempts seen in the current
// window including this one.
func (l *AttemptLimiter) Allow(reference string) (bool, int) {
	if reference == "" {
		return false, 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.items[reference]
	if entry == nil || now.Sub(entry.windowStart) >= l.window {
		entry = &attemptEntry{windowStart: now}
		l.items[reference] = entry
	}
	entry.count++
	return entry.count <= l.limit, entry.count
}

// StartJanitor removes expired windows every interval until Close.
func (l *AttemptLimiter) StartJanitor(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *AttemptLimiter) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for ref, entry := range l.items {
		if now.Sub(entry.windowStart) >= l.window {
			delete(l.items, ref)
		}
	}
}

func (l *AttemptLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Close stops the janitor.
func (l *AttemptLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
