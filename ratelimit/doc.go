// Package ratelimit provides the in-memory token buckets that guard the
// engine's sensitive operations: a refilling bucket for request throttling
// keyed by client IP, and an expiring bucket that bounds guesses against
// short numeric secrets.
//
// State is process-local. Buckets are owned, injectable values, not
// singletons; construct one per policy and share it across handlers.
package ratelimit
