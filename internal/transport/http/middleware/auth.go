package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/clinic-intake-api/internal/domain"
	jwtinfra "github.com/clinic-intake-api/internal/infrastructure/jwt"
)

type contextKey string

const (
	claimsKey  contextKey = "claims"
	sessionKey contextKey = "session"
)

type tokenVerifier interface {
	Verify(tokenStr string) (*jwtinfra.Claims, error)
}

type sessionAuthorizer interface {
	Authorize(ctx context.Context, sessionKey string) (*domain.Session, error)
}

// Auth returns middleware that validates the Bearer JWT, re-checks the session it names and
// injects both into context. A revoked, expired or not yet promoted session is rejected even
// while the JWT itself is still valid.
func Auth(verifier tokenVerifier, sessions sessionAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid authorization header")
				return
			}
			claims, err := verifier.Verify(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}
			sess, err := sessions.Authorize(r.Context(), claims.SessionKey)
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrSessionExpired):
					writeJSONError(w, http.StatusUnauthorized, "session_expired", "session expired")
				case errors.Is(err, domain.ErrUnknownSession), errors.Is(err, domain.ErrUnauthorized):
					writeJSONError(w, http.StatusUnauthorized, "unknown_session", "session is not active")
				default:
					writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal server error")
				}
				return
			}
			ctx := WithClaims(r.Context(), claims)
			ctx = context.WithValue(ctx, sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *jwtinfra.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext extracts JWT claims from the request context.
func ClaimsFromContext(ctx context.Context) (*jwtinfra.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*jwtinfra.Claims)
	return c, ok
}

// SessionFromContext returns the session authorized for this request.
func SessionFromContext(ctx context.Context) (*domain.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*domain.Session)
	return s, ok
}
