package auth

import (
	"context"
	"errors"
	"net/http"
)

type Reason int

const (
	ReasonNone Reason = iota
	MissingCredentials
	InvalidAccessKey
	SignatureMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case MissingCredentials:
		return "missing credentials"
	case InvalidAccessKey:
		return "invalid access key"
	case SignatureMismatch:
		return "signature mismatch"
	default:
		return "unknown"
	}
}

// Decision is the outcome of authorizing one request.
type Decision struct {
	Authorized bool
	Reason     Reason
	User       *User
}

// Validator runs a request through an ordered list of engines. The first
// engine that applies to the request decides; later engines are not
// consulted even when it rejects the request.
type Validator struct {
	engines []AuthEngine
}

func NewValidator(engines ...AuthEngine) *Validator {
	return &Validator{
		engines: engines,
	}
}

// NewDefaultValidator returns a Validator accepting every supported scheme
// for the given credentials, in precedence order.
func NewDefaultValidator(creds Credentials) *Validator {
	return NewValidator(
		NewHeaderAuthEngine(creds),
		NewAwsHmacAuthEngine(creds),
		NewTokenAuthEngine(creds),
		NewBasicAuthEngine(creds),
		NewQueryAuthEngine(creds),
	)
}

func (v *Validator) Authorize(ctx context.Context, r *http.Request) Decision {
	for _, engine := range v.engines {
		if !engine.Applies(r) {
			continue
		}

		user, err := engine.AuthenticateRequest(ctx, r)
		switch {
		case err == nil && user != nil:
			return Decision{Authorized: true, User: user}
		case errors.Is(err, ErrInvalidAccessKey):
			return Decision{Reason: InvalidAccessKey}
		default:
			return Decision{Reason: SignatureMismatch}
		}
	}

	return Decision{Reason: MissingCredentials}
}
