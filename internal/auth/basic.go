package auth

import (
	"context"
	"net/http"
	"strings"
)

const (
	BasicAuthPrefix = "Basic "
)

type BasicAuthEngine struct {
	creds Credentials
}

func NewBasicAuthEngine(creds Credentials) *BasicAuthEngine {
	return &BasicAuthEngine{creds: creds}
}

func (e *BasicAuthEngine) Applies(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), BasicAuthPrefix)
}

// AuthenticateRequest checks the Authorization header for Basic credentials
// carrying the access key as user name and the secret as password.
func (e *BasicAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, ErrMalformedAuthorization
	}
	return e.creds.check(user, pass)
}
