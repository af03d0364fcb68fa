package middleware

import (
	"net/http"
)

// RequireClass returns middleware that allows access only to identities whose JWT
// class matches one of the provided classes (e.g. domain.ClassAdmin).
func RequireClass(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
				return
			}
			for _, class := range allowed {
				if claims.IdentityClass == class {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSONError(w, http.StatusForbidden, "forbidden", "forbidden")
		})
	}
}
