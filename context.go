package credlock

import (
	"context"
	"sync"
)

type ctxKey int

const (
	ctxKeyClientIP ctxKey = iota
	ctxKeySessionCache
)

// WithClientIP attaches the caller's client IP to the context. Operations
// that throttle per IP read it from here; an absent IP means no per-IP
// limiting is applied.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// ClientIPFromContext returns the attached client IP, or "" when none.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyClientIP).(string)
	return ip
}

// sessionCache memoizes ValidateSessionToken for one logical request, since
// the result is typically consulted by several downstream checks.
type sessionCache struct {
	mu      sync.Mutex
	entries map[string]sessionCacheEntry
}

type sessionCacheEntry struct {
	session *Session
	user    *User
	err     error
}

// WithRequestCache returns a context carrying a fresh per-request
// memoization scope for session validation. Attach one per inbound request.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeySessionCache, &sessionCache{
		entries: make(map[string]sessionCacheEntry),
	})
}

func requestCacheFromContext(ctx context.Context) *sessionCache {
	c, _ := ctx.Value(ctxKeySessionCache).(*sessionCache)
	return c
}

func (c *sessionCache) lookup(id string) (sessionCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok
}

func (c *sessionCache) store(id string, e sessionCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = e
}
