package auth

import (
	"context"
	"net/http"
	"strings"
)

const (
	BearerPrefix = "Bearer "
)

// TokenAuthEngine accepts "Authorization: access:secret", optionally with a
// Bearer prefix.
type TokenAuthEngine struct {
	creds Credentials
}

func NewTokenAuthEngine(creds Credentials) *TokenAuthEngine {
	return &TokenAuthEngine{creds: creds}
}

func (e *TokenAuthEngine) token(r *http.Request) (string, string, bool) {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, BasicAuthPrefix) || strings.HasPrefix(header, AWSv4Algorithm) {
		return "", "", false
	}
	header = strings.TrimPrefix(header, BearerPrefix)
	return strings.Cut(header, ":")
}

func (e *TokenAuthEngine) Applies(r *http.Request) bool {
	_, _, ok := e.token(r)
	return ok
}

func (e *TokenAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	access, secret, ok := e.token(r)
	if !ok {
		return nil, ErrMalformedAuthorization
	}
	return e.creds.check(access, secret)
}
