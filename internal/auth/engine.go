package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
)

var (
	// ErrInvalidAccessKey means the request named an access key other than
	// the configured one.
	ErrInvalidAccessKey = errors.New("invalid access key id")

	// ErrSignatureMismatch means the access key matched but the secret or
	// signature did not.
	ErrSignatureMismatch = errors.New("signature does not match")

	// ErrMalformedAuthorization means the request carried material for a
	// scheme that could not be parsed.
	ErrMalformedAuthorization = errors.New("malformed authorization")

	// ErrRequestExpired means a presigned URL is used outside its validity
	// window.
	ErrRequestExpired = errors.New("request has expired")
)

type User struct {
	AccessKeyID string
}

// Credentials is the single access key / secret pair the server accepts.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

type AuthEngine interface {
	// Applies reports whether the request carries authentication material
	// for this engine's scheme.
	Applies(r *http.Request) bool

	// AuthenticateRequest verifies the request's credentials. It returns the
	// authenticated User, or one of the package's sentinel errors.
	AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error)
}

// check compares a presented access key and secret against the configured
// pair in constant time.
func (c Credentials) check(accessKeyID string, secret string) (*User, error) {
	if !equal(accessKeyID, c.AccessKeyID) {
		return nil, ErrInvalidAccessKey
	}
	if !equal(secret, c.SecretAccessKey) {
		return nil, ErrSignatureMismatch
	}
	return &User{AccessKeyID: c.AccessKeyID}, nil
}

func equal(a string, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
