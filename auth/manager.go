package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/registrylink/resilience"
)

// TokenManagerConfig configures the token manager.
type TokenManagerConfig struct {
	// Source fetches new tokens.
	Source TokenSource

	// RefreshBuffer refreshes a token this long before it expires.
	// Default: 60 seconds
	RefreshBuffer time.Duration

	// RefreshTimeout bounds a single refresh. The refresh outlives the
	// caller that started it so that waiting callers still get a result.
	// Default: 30 seconds
	RefreshTimeout time.Duration

	// OnRefresh is called after every refresh attempt.
	OnRefresh func(tok Token, err error)

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// TokenManager caches one bearer token and refreshes it on demand.
//
// Concurrent callers that find the token stale share a single refresh.
// A failed refresh keeps the stale token but does not serve it.
type TokenManager struct {
	config TokenManagerConfig

	mu        sync.RWMutex
	token     Token
	group     singleflight.Group
	refreshes atomic.Int64
}

// NewTokenManager creates a new token manager.
func NewTokenManager(config TokenManagerConfig) *TokenManager {
	// Apply defaults
	if config.RefreshBuffer <= 0 {
		config.RefreshBuffer = 60 * time.Second
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = 30 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &TokenManager{config: config}
}

// Token returns a valid token, refreshing it if needed.
//
// Refresh failures are returned as a *resilience.Error of KindAuthentication.
// If ctx is done while waiting, the caller gets its cancellation while the
// shared refresh carries on for the others.
func (m *TokenManager) Token(ctx context.Context) (Token, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}
	if m.config.Source == nil {
		return Token{}, resilience.NewError(resilience.KindAuthentication, "no token source", ErrMissingCredentials)
	}

	ch := m.group.DoChan("refresh", func() (any, error) {
		// Double-check: a refresh may have completed since the miss
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		return m.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		err := ctx.Err()
		return Token{}, resilience.NewError(resilience.KindOf(err), "waiting for token refresh", err)
	case res := <-ch:
		if res.Err != nil {
			return Token{}, resilience.NewError(resilience.KindAuthentication, "token refresh failed", res.Err)
		}
		return res.Val.(Token), nil
	}
}

func (m *TokenManager) refresh(ctx context.Context) (Token, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.RefreshTimeout)
	defer cancel()

	m.refreshes.Add(1)
	tok, err := m.config.Source.FetchToken(ctx)
	if err == nil {
		switch {
		case tok.AccessToken == "":
			err = ErrTokenMalformed
		case !tok.ExpiresAt.IsZero() && !m.config.Now().Before(tok.ExpiresAt):
			err = ErrTokenExpired
		}
	}
	if m.config.OnRefresh != nil {
		m.config.OnRefresh(tok, err)
	}
	if err != nil {
		return Token{}, err
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()
	return tok, nil
}

func (m *TokenManager) cached() (Token, bool) {
	m.mu.RLock()
	tok := m.token
	m.mu.RUnlock()
	return tok, tok.Valid(m.config.Now(), m.config.RefreshBuffer)
}

// Invalidate marks accessToken as unusable, typically after the server
// rejected it with 401. It is a no-op if the cached token has already been
// replaced.
func (m *TokenManager) Invalidate(accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token.AccessToken == accessToken {
		// Keep the value, drop the validity.
		m.token.ExpiresAt = time.Unix(0, 0)
	}
}

// Status returns the cached token's expiry and whether it is currently
// served without a refresh.
func (m *TokenManager) Status() TokenStatus {
	m.mu.RLock()
	tok := m.token
	m.mu.RUnlock()
	return TokenStatus{
		Present:   tok.AccessToken != "",
		Valid:     tok.Valid(m.config.Now(), m.config.RefreshBuffer),
		ExpiresAt: tok.ExpiresAt,
		Refreshes: m.refreshes.Load(),
	}
}

// TokenStatus describes the cached token without exposing it.
type TokenStatus struct {
	Present   bool
	Valid     bool
	ExpiresAt time.Time
	Refreshes int64
}
