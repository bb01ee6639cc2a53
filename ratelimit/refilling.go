package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RefillingTokenBucket is a per-key token bucket with continuous linear
// refill at one token per refill interval, capped at max. A key that has
// never been seen holds a full bucket.
//
// Check is side-effect-free and is meant for pre-flight checks before a
// possibly-expensive operation, so that failed lookups don't consume quota.
// Consume deducts cost only when the refreshed count covers it.
type RefillingTokenBucket[K comparable] struct {
	mu       sync.Mutex
	buckets  map[K]*rate.Limiter
	max      int
	interval time.Duration
}

// NewRefillingTokenBucket creates a bucket holding max tokens per key,
// refilling at one token per refillInterval.
func NewRefillingTokenBucket[K comparable](max int, refillInterval time.Duration) *RefillingTokenBucket[K] {
	return &RefillingTokenBucket[K]{
		buckets:  make(map[K]*rate.Limiter),
		max:      max,
		interval: refillInterval,
	}
}

// Check reports whether key currently holds at least cost tokens without
// deducting them.
func (b *RefillingTokenBucket[K]) Check(key K, cost int) bool {
	return b.checkAt(key, cost, time.Now())
}

// Consume deducts cost tokens from key if available and reports whether it
// did. On failure the stored count is left unchanged.
func (b *RefillingTokenBucket[K]) Consume(key K, cost int) bool {
	return b.consumeAt(key, cost, time.Now())
}

func (b *RefillingTokenBucket[K]) checkAt(key K, cost int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	lim, ok := b.buckets[key]
	if !ok {
		return cost <= b.max
	}
	return lim.TokensAt(now) >= float64(cost)
}

func (b *RefillingTokenBucket[K]) consumeAt(key K, cost int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	lim, ok := b.buckets[key]
	if !ok {
		// New limiters start with a full burst, matching the
		// missing-key-is-full-bucket contract.
		lim = rate.NewLimiter(rate.Every(b.interval), b.max)
		b.buckets[key] = lim
	}
	return lim.AllowN(now, cost)
}
