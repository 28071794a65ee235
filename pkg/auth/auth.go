// Package auth provides server-side request authentication for the
// HTTP-based transports: credential extraction, pluggable validators,
// and an http.Handler middleware that guards SSE upgrades and message
// POSTs.
package auth

import (
	"context"
	"net/http"
	"strings"

	mcperrors "github.com/mcpwire/mcpwire/pkg/errors"
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the principal carries the given role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticator validates one credential and resolves its principal.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*Principal, error)
}

const apiKeyHeader = "X-API-Key"

// CredentialFromRequest extracts the bearer token or API key from an
// incoming request. Returns empty when no credential is present.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
		return ""
	}
	return r.Header.Get(apiKeyHeader)
}

type principalKey struct{}

// PrincipalFromContext returns the principal stored by the middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// errUnauthorized is the uniform rejection; validators return it for
// every failure mode so responses do not leak which check failed.
func errUnauthorized() error {
	return mcperrors.Unauthorized("invalid or missing credential")
}
