package auth

import (
	"net/http"

	"github.com/mcpwire/mcpwire/pkg/logging"
)

// RequireAuth guards an http.Handler: requests without a valid
// credential are rejected with 401 before the handler runs. The
// authenticated principal is placed on the request context.
func RequireAuth(authn Authenticator, logger logging.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := authn.Authenticate(r.Context(), CredentialFromRequest(r))
		if err != nil {
			logger.Warn("rejected unauthenticated request",
				logging.String("remote", r.RemoteAddr),
				logging.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

// RequireRole layers a role check on top of RequireAuth.
func RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok || !principal.HasRole(role) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
