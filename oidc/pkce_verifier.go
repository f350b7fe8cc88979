package oidc

import (
	"encoding/json"
	"fmt"
)

// ChallengeMethod represents a PKCE code challenge method.
type ChallengeMethod string

const (
	// S256 is the SHA-256 based challenge method and should be used
	// whenever possible.
	S256 ChallengeMethod = "S256"

	// Plain uses the verifier itself as the challenge. Only for providers
	// that cannot support S256.
	Plain ChallengeMethod = "plain"
)

// CodeVerifier represents the PKCE state for a single login attempt: a
// random code verifier and its derived challenge. It is single-use; the
// session orchestrator clears it immediately after the code exchange
// regardless of outcome.
type CodeVerifier struct {
	verifier  string
	method    ChallengeMethod
	challenge string
}

// RedactedCodeVerifier is the redacted string or json for a PKCE verifier.
const RedactedCodeVerifier = "[REDACTED: code verifier]"

// String will redact the verifier.
func (v *CodeVerifier) String() string {
	return RedactedCodeVerifier
}

// MarshalJSON will redact the verifier.
func (v *CodeVerifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedCodeVerifier)
}

// NewCodeVerifier creates a CodeVerifier with a new random verifier and its
// S256 challenge.
//
// Supported options: WithChallengeMethod, WithCrypto
func NewCodeVerifier(opt ...Option) (*CodeVerifier, error) {
	const op = "oidc.NewCodeVerifier"
	opts := getPKCEOpts(opt...)
	verifier, err := opts.withCrypto.RandomVerifier()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate verifier: %w", op, err)
	}
	return RestoreCodeVerifier(verifier, opt...)
}

// RestoreCodeVerifier rebuilds a CodeVerifier around a previously generated
// verifier string, re-deriving its challenge. It's used by the session
// orchestrator when the verifier was persisted across the login redirect.
//
// Supported options: WithChallengeMethod, WithCrypto
func RestoreCodeVerifier(verifier string, opt ...Option) (*CodeVerifier, error) {
	const op = "oidc.RestoreCodeVerifier"
	if verifier == "" {
		return nil, fmt.Errorf("%s: verifier is empty: %w", op, ErrInvalidParameter)
	}
	opts := getPKCEOpts(opt...)
	challenge, err := CreateCodeChallenge(opts.withMethod, verifier, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &CodeVerifier{
		verifier:  verifier,
		method:    opts.withMethod,
		challenge: challenge,
	}, nil
}

// CreateCodeChallenge derives the challenge for a verifier under the given
// method. For S256 the challenge is the provider short hash of the verifier;
// for "plain" it is the verifier itself.
//
// Supported options: WithCrypto
func CreateCodeChallenge(method ChallengeMethod, verifier string, opt ...Option) (string, error) {
	const op = "oidc.CreateCodeChallenge"
	opts := getPKCEOpts(opt...)
	switch method {
	case S256:
		return opts.withCrypto.ShortHash(verifier), nil
	case Plain:
		return verifier, nil
	default:
		return "", fmt.Errorf("%s: %s: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}

func (v *CodeVerifier) Verifier() string        { return v.verifier }
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }
func (v *CodeVerifier) Challenge() string       { return v.challenge }

// pkceOptions is the set of available options for CodeVerifier functions.
type pkceOptions struct {
	withMethod ChallengeMethod
	withCrypto Crypto
}

// pkceDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func pkceDefaults() pkceOptions {
	return pkceOptions{
		withMethod: S256,
		withCrypto: DefaultCrypto(),
	}
}

func getPKCEOpts(opt ...Option) pkceOptions {
	opts := pkceDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithChallengeMethod provides an optional challenge method for a
// CodeVerifier. The default is S256.
func WithChallengeMethod(m ChallengeMethod) Option {
	return func(o interface{}) {
		if o, ok := o.(*pkceOptions); ok {
			o.withMethod = m
		}
	}
}

// WithCrypto provides an optional Crypto implementation.
func WithCrypto(c Crypto) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *pkceOptions:
			v.withCrypto = c
		case *configOptions:
			v.withCrypto = c
		}
	}
}
