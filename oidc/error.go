package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidCACert    = errors.New("invalid CA certificate")

	// ErrIdTokenInvalid covers every id_token verification failure:
	// signature, decryption, issuer, audience, expiry and hash-claim
	// binding. It is intentionally coarse so callers cannot distinguish
	// attack classes by error type.
	ErrIdTokenInvalid = errors.New("id_token verification failed")

	// ErrMissingIdToken is returned when a token endpoint response omits
	// the id_token.
	ErrMissingIdToken = errors.New("id_token is missing")

	// ErrAccessTokenInvalid is a structural or signature failure, distinct
	// from ErrAccessTokenExpired for logging even though both usually map
	// to "unauthenticated".
	ErrAccessTokenInvalid = errors.New("access_token is invalid")
	ErrAccessTokenExpired = errors.New("access_token is expired")

	// Authorization failures, distinct from the authentication failures
	// above so callers can choose unauthorized vs forbidden handling.
	ErrMissingScope      = errors.New("access_token is missing a required scope")
	ErrMissingPermission = errors.New("access_token is missing a required permission")
	ErrACRTooLow         = errors.New("access_token acr is below the required level")

	ErrNotAuthenticated           = errors.New("not authenticated")
	ErrUnsupportedChallengeMethod = errors.New("unsupported challenge method")
	ErrUnsupportedAlg             = errors.New("unsupported signing algorithm")
)

// RequestError represents a non-2xx response from the provider, propagated
// unchanged.
type RequestError struct {
	// Status is the HTTP status code the provider responded with.
	Status int

	// Detail is the raw response body.
	Detail string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("provider request failed: status %d: %s", e.Status, e.Detail)
}

// AuthorizeError represents a provider-reported error on the redirect
// callback (the "error" and "error_description" parameters).
type AuthorizeError struct {
	Code        string
	Description string
}

func (e *AuthorizeError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("authorize error: %s", e.Code)
	}
	return fmt.Sprintf("authorize error: %s: %s", e.Code, e.Description)
}
