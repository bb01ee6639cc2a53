package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/credlock/credlock"
)

// SessionCookieName is where browser clients carry the session token.
const SessionCookieName = "session"

type sessionContextKey struct{}
type userContextKey struct{}

// SessionFromContext returns the session validated by RequireSession.
func SessionFromContext(ctx context.Context) (*credlock.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*credlock.Session)
	return s, ok
}

// UserFromContext returns the user validated by RequireSession.
func UserFromContext(ctx context.Context) (*credlock.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*credlock.User)
	return u, ok
}

// RequireSession validates the request's session token and injects the
// session and user into the context. The token is read from the session
// cookie, or from a Bearer Authorization header for non-browser clients.
func RequireSession(engine *credlock.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := sessionToken(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := credlock.WithRequestCache(r.Context())
			ctx = credlock.WithClientIP(ctx, clientIP(r))

			session, user, err := engine.ValidateSessionToken(ctx, token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, sessionContextKey{}, session)
			ctx = context.WithValue(ctx, userContextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTwoFactor builds on RequireSession: users with TOTP enrolled must
// also hold a 2FA-verified session.
func RequireTwoFactor(engine *credlock.Engine) func(http.Handler) http.Handler {
	require := RequireSession(engine)
	return func(next http.Handler) http.Handler {
		return require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, _ := SessionFromContext(r.Context())
			user, _ := UserFromContext(r.Context())
			if user.Registered2FA && !session.TwoFactorVerified {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func sessionToken(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}

	const bearer = "Bearer "
	value := r.Header.Get("Authorization")
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	return token, token != ""
}

// clientIP trusts the nearest X-Forwarded-For hop when present and falls
// back to the connection address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
