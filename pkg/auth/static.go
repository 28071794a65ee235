package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"sync"
)

// StaticAuthenticator validates credentials against a fixed set, for
// bearer tokens and API keys alike. Credentials are stored as SHA-256
// digests and compared in constant time.
type StaticAuthenticator struct {
	mu         sync.RWMutex
	principals map[[sha256.Size]byte]Principal
}

// NewStaticAuthenticator creates an empty authenticator. Register
// credentials with Add before serving.
func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{
		principals: make(map[[sha256.Size]byte]Principal),
	}
}

// Add registers a credential for the given principal.
func (a *StaticAuthenticator) Add(credential string, p Principal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.principals[sha256.Sum256([]byte(credential))] = p
}

// Remove revokes a credential.
func (a *StaticAuthenticator) Remove(credential string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.principals, sha256.Sum256([]byte(credential)))
}

// Authenticate resolves the credential's principal.
func (a *StaticAuthenticator) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	if credential == "" {
		return nil, errUnauthorized()
	}
	digest := sha256.Sum256([]byte(credential))

	a.mu.RLock()
	defer a.mu.RUnlock()
	for stored, p := range a.principals {
		if subtle.ConstantTimeCompare(stored[:], digest[:]) == 1 {
			principal := p
			return &principal, nil
		}
	}
	return nil, errUnauthorized()
}

var _ Authenticator = (*StaticAuthenticator)(nil)
