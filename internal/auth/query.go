package auth

import (
	"context"
	"net/http"
)

const (
	AccessKeyParam = "access_key"
	SecretKeyParam = "secret_key"
)

// QueryAuthEngine accepts the access key and secret as query parameters.
type QueryAuthEngine struct {
	creds Credentials
}

func NewQueryAuthEngine(creds Credentials) *QueryAuthEngine {
	return &QueryAuthEngine{creds: creds}
}

func (e *QueryAuthEngine) Applies(r *http.Request) bool {
	q := r.URL.Query()
	return q.Has(AccessKeyParam) && q.Has(SecretKeyParam)
}

func (e *QueryAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	q := r.URL.Query()
	return e.creds.check(q.Get(AccessKeyParam), q.Get(SecretKeyParam))
}
