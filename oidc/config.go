package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-hclog"
	"github.com/tenantry/authkit/internal/httputil"
	"github.com/tenantry/authkit/internal/strutils"
)

type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// DefaultACRLevels orders the provider's authentication context classes from
// weakest to strongest: "0" (reused long-lived session), "1" (fresh
// single-factor authentication), "2" (multi-factor authentication).
var DefaultACRLevels = []string{"0", "1", "2"}

// Config represents the configuration for a relying party using the
// authorization code flow with PKCE against a single provider.
type Config struct {
	// Issuer is the provider base URL. Discovery, logout and the profile
	// API endpoints are all rooted here.
	Issuer string

	// ClientId is the relying party id.
	ClientId string

	// ClientSecret is the relying party secret. It is optional: public
	// clients authenticate their exchanges with PKCE instead.
	ClientSecret ClientSecret

	// Scopes is an optional default list of scopes to request when an
	// operation doesn't specify its own.
	Scopes []string

	// SupportedSigningAlgs is a list of supported signing algorithms. List
	// of currently supported algs: RS256, RS384, RS512, ES256, ES384,
	// ES512, PS256, PS384, PS512
	SupportedSigningAlgs []Alg

	// Audiences is an optional list of case-sensitive strings used when
	// verifying an id_token's "aud" claim. When empty, ClientId is
	// required to be among the audiences.
	Audiences []string

	// ACRLevels orders the provider's acr claim values from weakest to
	// strongest. Access token ACR requirements are compared ordinally
	// against this list, never lexically. Defaults to DefaultACRLevels.
	ACRLevels []string

	// IdTokenDecryptionKey is the optional private key used to decrypt
	// id_tokens when the provider encrypts them (JWE).
	IdTokenDecryptionKey interface{}

	// ProviderCA is an optional CA cert to use when sending requests to
	// the provider.
	ProviderCA string

	// Logger is an optional logger.
	Logger hclog.Logger

	// Crypto is the cryptographic capability implementation. Defaults to
	// DefaultCrypto().
	Crypto Crypto
}

// NewConfig composes a new relying party config.
//
// Supported options:
//
//	WithClientSecret
//	WithScopes
//	WithSupportedAlgs
//	WithAudiences
//	WithACRLevels
//	WithIdTokenDecryptionKey
//	WithProviderCA
//	WithLogger
//	WithCrypto
func NewConfig(issuer string, clientId string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientId:             clientId,
		ClientSecret:         opts.withClientSecret,
		Scopes:               opts.withScopes,
		SupportedSigningAlgs: opts.withSupportedAlgs,
		Audiences:            opts.withAudiences,
		ACRLevels:            opts.withACRLevels,
		IdTokenDecryptionKey: opts.withDecryptionKey,
		ProviderCA:           opts.withProviderCA,
		Logger:               opts.withLogger,
		Crypto:               opts.withCrypto,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// Validate the relying party configuration. Among other validations, it
// verifies the issuer is not empty, but it doesn't verify the issuer is
// discoverable via an http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientId == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid: %w", op, c.Issuer, err)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%s: issuer %s scheme is not http or https: %w", op, c.Issuer, ErrInvalidParameter)
	}
	if len(c.SupportedSigningAlgs) == 0 {
		return fmt.Errorf("%s: supported algorithms is empty: %w", op, ErrInvalidParameter)
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			return fmt.Errorf("%s: unsupported algorithm %s: %w", op, a, ErrInvalidParameter)
		}
	}
	if len(c.ACRLevels) == 0 {
		return fmt.Errorf("%s: acr levels is empty: %w", op, ErrInvalidParameter)
	}
	seen := map[string]bool{}
	for _, l := range c.ACRLevels {
		if l == "" || seen[l] {
			return fmt.Errorf("%s: acr levels must be non-empty and unique: %w", op, ErrInvalidParameter)
		}
		seen[l] = true
	}
	return nil
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := httputil.NewClient(c.ProviderCA)
	if err != nil {
		if errors.Is(err, httputil.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// configOptions is the set of available options.
type configOptions struct {
	withClientSecret  ClientSecret
	withScopes        []string
	withSupportedAlgs []Alg
	withAudiences     []string
	withACRLevels     []string
	withDecryptionKey interface{}
	withProviderCA    string
	withLogger        hclog.Logger
	withCrypto        Crypto
}

// configDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func configDefaults() configOptions {
	return configOptions{
		withSupportedAlgs: []Alg{RS256},
		withACRLevels:     DefaultACRLevels,
		withLogger:        hclog.NewNullLogger(),
		withCrypto:        DefaultCrypto(),
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithClientSecret provides an optional client secret for confidential
// clients.
func WithClientSecret(s ClientSecret) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClientSecret = s
		}
	}
}

// WithSupportedAlgs provides an optional list of accepted signing algorithms
// for the config.
func WithSupportedAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedAlgs = algs
		}
	}
}

// WithAudiences provides an optional list of audiences for the config.
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithACRLevels provides an optional ordered list (weakest to strongest) of
// provider acr values for the config.
func WithACRLevels(levels ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withACRLevels = levels
		}
	}
}

// WithIdTokenDecryptionKey provides an optional private key used to decrypt
// JWE id_tokens.
func WithIdTokenDecryptionKey(key interface{}) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withDecryptionKey = key
		}
	}
}

// WithProviderCA provides an optional CA cert for the config.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithLogger provides an optional logger for the config.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogger = l
		}
	}
}
