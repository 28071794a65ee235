package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwire/mcpwire/pkg/transport"
)

func TestStaticAuthenticator(t *testing.T) {
	a := NewStaticAuthenticator()
	a.Add("secret-token", Principal{Subject: "alice", Roles: []string{"admin"}})

	p, err := a.Authenticate(context.Background(), "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Subject)
	assert.True(t, p.HasRole("admin"))
	assert.False(t, p.HasRole("auditor"))

	_, err = a.Authenticate(context.Background(), "wrong")
	assert.Error(t, err)
	_, err = a.Authenticate(context.Background(), "")
	assert.Error(t, err)

	a.Remove("secret-token")
	_, err = a.Authenticate(context.Background(), "secret-token")
	assert.Error(t, err)
}

func TestCredentialFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/sse", nil)
	assert.Empty(t, CredentialFromRequest(r))

	r.Header.Set("Authorization", "Bearer tok123")
	assert.Equal(t, "tok123", CredentialFromRequest(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, CredentialFromRequest(r), "non-bearer schemes are not credentials")

	r2 := httptest.NewRequest(http.MethodPost, "/messages", nil)
	r2.Header.Set("X-API-Key", "key456")
	assert.Equal(t, "key456", CredentialFromRequest(r2))
}

func TestRequireAuthRejectsAndAdmits(t *testing.T) {
	a := NewStaticAuthenticator()
	a.Add("tok", Principal{Subject: "bob"})

	var seen *Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireAuth(a, nil, inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "bob", seen.Subject)
}

func TestRequireRole(t *testing.T) {
	a := NewStaticAuthenticator()
	a.Add("admin-tok", Principal{Subject: "root", Roles: []string{"admin"}})
	a.Add("user-tok", Principal{Subject: "user"})

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireAuth(a, nil, RequireRole("admin", inner))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer user-tok")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer admin-tok")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// An unauthenticated POST must be rejected before it can reach any
// session, and an authenticated one flows through to the handler.
func TestRequireAuthGuardsSSEEndpoints(t *testing.T) {
	a := NewStaticAuthenticator()
	a.Add("stream-tok", Principal{Subject: "client-1"})

	sse := transport.NewSSEHandler(transport.DefaultTransportConfig(transport.TransportTypeSSE), "/messages", nil)
	srv := httptest.NewServer(RequireAuth(a, nil, sse))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/messages?sessionId=nope", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/messages?sessionId=nope", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer stream-tok")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "authenticated request reaches the session lookup")
}
