package transport

import (
	"context"
	"errors"
	"sync"
)

// AuthProvider supplies bearer tokens for HTTP-based transports. Token
// is consulted before each outbound exchange; Refresh is invoked once
// when the server answers 401, and its result replaces the token for
// the retried exchange.
type AuthProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// ErrAuthRefreshUnsupported is returned by providers whose tokens
// cannot be renewed.
var ErrAuthRefreshUnsupported = errors.New("auth provider cannot refresh tokens")

// StaticTokenProvider returns a fixed token and cannot refresh.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a provider around a pre-issued token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return p.token, nil
}

func (p *StaticTokenProvider) Refresh(ctx context.Context) (string, error) {
	return "", ErrAuthRefreshUnsupported
}

// TokenFunc adapts a fetch function into an AuthProvider. The function
// is called for the initial token and again on each refresh; the most
// recent token is cached between calls.
type TokenFunc func(ctx context.Context) (string, error)

// FuncTokenProvider calls fn to obtain and renew tokens.
type FuncTokenProvider struct {
	mu    sync.Mutex
	fn    TokenFunc
	token string
}

// NewFuncTokenProvider creates a provider backed by fn.
func NewFuncTokenProvider(fn TokenFunc) *FuncTokenProvider {
	return &FuncTokenProvider{fn: fn}
}

func (p *FuncTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" {
		return p.token, nil
	}
	return p.fetchLocked(ctx)
}

func (p *FuncTokenProvider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetchLocked(ctx)
}

func (p *FuncTokenProvider) fetchLocked(ctx context.Context) (string, error) {
	token, err := p.fn(ctx)
	if err != nil {
		return "", err
	}
	p.token = token
	return token, nil
}
