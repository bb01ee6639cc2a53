// Package middleware adapts HTTP requests to engine calls: it extracts
// the session token and client IP, attaches the per-request validation
// cache, and injects the validated session and user into the request
// context.
//
// The package translates HTTP semantics only; every decision is the
// engine's. Handlers downstream read the result with [SessionFromContext]
// and [UserFromContext].
package middleware
