package auth

import (
	"context"
	"time"
)

// Token is a bearer credential for the registry API.
type Token struct {
	AccessToken string
	TokenType   string
	// ExpiresAt is zero when the token does not expire.
	ExpiresAt time.Time
	Scope     string
}

// Valid reports whether the token is usable at now with buffer to spare.
func (t Token) Valid(now time.Time, buffer time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(buffer).Before(t.ExpiresAt)
}

// TokenSource fetches a new token from an authorization server.
type TokenSource interface {
	FetchToken(ctx context.Context) (Token, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (Token, error)

// FetchToken calls f.
func (f TokenSourceFunc) FetchToken(ctx context.Context) (Token, error) {
	return f(ctx)
}

// StaticTokenSource always returns the same token.
type StaticTokenSource struct {
	Token Token
}

// FetchToken returns the static token.
func (s StaticTokenSource) FetchToken(context.Context) (Token, error) {
	if s.Token.AccessToken == "" {
		return Token{}, ErrMissingCredentials
	}
	return s.Token, nil
}

// Ensure implementations satisfy TokenSource
var (
	_ TokenSource = TokenSourceFunc(nil)
	_ TokenSource = StaticTokenSource{}
)
