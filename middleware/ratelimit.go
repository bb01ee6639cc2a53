package middleware

import (
	"net/http"

	"github.com/credlock/credlock"
)

// Throttle applies the engine's global per-IP budget before the handler
// runs. GET and HEAD cost one token, everything else three.
func Throttle(engine *credlock.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine != nil {
				ip := clientIP(r)
				allowed := false
				switch r.Method {
				case http.MethodGet, http.MethodHead:
					allowed = engine.AllowGlobalGET(ip)
				default:
					allowed = engine.AllowGlobalPOST(ip)
				}
				if !allowed {
					http.Error(w, "too many requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
