package auth

import (
	"context"
	"net/http"
)

const (
	AccessKeyHeader = "X-Amz-Access-Key"
	SecretKeyHeader = "X-Amz-Secret-Key"
)

// HeaderAuthEngine accepts the access key and secret as plain request
// headers.
type HeaderAuthEngine struct {
	creds Credentials
}

func NewHeaderAuthEngine(creds Credentials) *HeaderAuthEngine {
	return &HeaderAuthEngine{creds: creds}
}

func (e *HeaderAuthEngine) Applies(r *http.Request) bool {
	return r.Header.Get(AccessKeyHeader) != "" && r.Header.Get(SecretKeyHeader) != ""
}

func (e *HeaderAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	return e.creds.check(r.Header.Get(AccessKeyHeader), r.Header.Get(SecretKeyHeader))
}
