package oidc

import "time"

// Option defines a common functional options type.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithExpirySkew provides an optional expiry skew duration for token and
// access token expiration checks.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *tokenOptions:
			v.withExpirySkew = d
		case *validateOptions:
			v.withExpirySkew = d
		case *verifyOptions:
			v.withExpirySkew = d
		}
	}
}

// WithScopes provides an optional list of scopes for the config, an
// authorization URL, or a refresh token exchange.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *authURLOptions:
			v.withScopes = scopes
		case *exchangeOptions:
			v.withScopes = scopes
		}
	}
}

// WithPKCE provides an optional PKCE code verifier. For an authorization URL
// it contributes the code_challenge/code_challenge_method parameters; for a
// code exchange it contributes the code_verifier form value.
func WithPKCE(v *CodeVerifier) Option {
	return func(o interface{}) {
		switch t := o.(type) {
		case *authURLOptions:
			t.withVerifier = v
		case *exchangeOptions:
			t.withVerifier = v
		}
	}
}
