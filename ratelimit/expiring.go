package ratelimit

import (
	"sync"
	"time"
)

type expiringEntry struct {
	count     int
	createdAt time.Time
}

// ExpiringTokenBucket bounds attempts per key inside a hard window: the
// counter resets once expiresIn has elapsed since its creation, not since
// the last attempt. It guards brute-forceable secrets (TOTP, OTP and
// recovery codes) independently of per-request IP throttling.
type ExpiringTokenBucket[K comparable] struct {
	mu        sync.Mutex
	entries   map[K]expiringEntry
	max       int
	expiresIn time.Duration
}

// NewExpiringTokenBucket creates a bucket allowing max attempts per key in
// each expiresIn window.
func NewExpiringTokenBucket[K comparable](max int, expiresIn time.Duration) *ExpiringTokenBucket[K] {
	return &ExpiringTokenBucket[K]{
		entries:   make(map[K]expiringEntry),
		max:       max,
		expiresIn: expiresIn,
	}
}

// Check reports whether consuming cost would stay within the window budget.
// Side-effect-free.
func (b *ExpiringTokenBucket[K]) Check(key K, cost int) bool {
	return b.checkAt(key, cost, time.Now())
}

// Consume records cost attempts against key if the budget allows it and
// reports whether it did. On failure the counter is left unchanged.
func (b *ExpiringTokenBucket[K]) Consume(key K, cost int) bool {
	return b.consumeAt(key, cost, time.Now())
}

// Reset clears the counter for key, forgiving prior failed attempts. Called
// after a successful guarded operation such as a correct TOTP entry.
func (b *ExpiringTokenBucket[K]) Reset(key K) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

func (b *ExpiringTokenBucket[K]) checkAt(key K, cost int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok || now.Sub(e.createdAt) >= b.expiresIn {
		return cost <= b.max
	}
	return e.count+cost <= b.max
}

func (b *ExpiringTokenBucket[K]) consumeAt(key K, cost int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok || now.Sub(e.createdAt) >= b.expiresIn {
		if cost > b.max {
			return false
		}
		b.entries[key] = expiringEntry{count: cost, createdAt: now}
		return true
	}
	if e.count+cost > b.max {
		return false
	}
	e.count += cost
	b.entries[key] = e
	return true
}
