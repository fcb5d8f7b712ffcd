// Package auth provides Authorization header sources for the executor.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrNoToken is returned when a token source has no token to offer.
var ErrNoToken = errors.New("no token available")

// Token is an access token and when it stops being valid.
type Token struct {
	Value string

	// Expiry is zero for tokens that do not expire
	Expiry time.Time
}

// Valid reports whether the token is usable at now with margin to spare.
func (t Token) Valid(now time.Time, margin time.Duration) bool {
	if t.Value == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Add(margin).Before(t.Expiry)
}

// TokenSource obtains tokens, for example from an OAuth refresh flow.
type TokenSource interface {
	Token(ctx context.Context) (Token, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (Token, error)

// Token implements TokenSource.
func (f TokenSourceFunc) Token(ctx context.Context) (Token, error) {
	return f(ctx)
}

// Static sends a fixed bearer token. An empty token sends no header.
type Static struct {
	token string
}

// NewStatic creates a static bearer token provider.
func NewStatic(token string) *Static {
	return &Static{token: strings.TrimSpace(token)}
}

// AuthorizationHeader returns "Bearer <token>".
func (s *Static) AuthorizationHeader(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", nil
	}
	return bearer(s.token), nil
}

// EnvTokenSource reads a non-expiring token from an environment variable
// on every call.
func EnvTokenSource(name string) TokenSource {
	return TokenSourceFunc(func(ctx context.Context) (Token, error) {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			return Token{}, fmt.Errorf("%w: %s is not set", ErrNoToken, name)
		}
		return Token{Value: value}, nil
	})
}

func bearer(token string) string {
	return "Bearer " + token
}
