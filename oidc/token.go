package oidc

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpirySkew is applied when checking token expiration.
const DefaultExpirySkew = 10 * time.Second

// TokenBundle is the token response from a successful authorization code or
// refresh token exchange. It is immutable once received: a refresh or
// re-login replaces the whole bundle, never individual fields.
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	IdToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// ReceivedAt anchors ExpiresIn. It is set when the bundle is parsed
	// from a token endpoint response.
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// RedactedTokenBundle is the redacted string for a TokenBundle.
const RedactedTokenBundle = "[REDACTED: token bundle]"

// String will redact the bundle's tokens.
func (b *TokenBundle) String() string {
	return RedactedTokenBundle
}

// Expiry returns the access token's expiration time, or the zero time when
// the provider didn't include expires_in.
func (b *TokenBundle) Expiry() time.Time {
	if b.ExpiresIn == 0 || b.ReceivedAt.IsZero() {
		return time.Time{}
	}
	return b.ReceivedAt.Add(time.Duration(b.ExpiresIn) * time.Second)
}

// Expired reports whether the bundle's access token is expired.
//
// Supported options: WithExpirySkew
func (b *TokenBundle) Expired(opt ...Option) bool {
	opts := getTokenOpts(opt...)
	expiry := b.Expiry()
	if expiry.IsZero() {
		return false
	}
	return expiry.Round(0).Before(time.Now().Add(opts.withExpirySkew))
}

// Valid reports whether the bundle holds a usable access token.
func (b *TokenBundle) Valid() bool {
	if b == nil || b.AccessToken == "" {
		return false
	}
	return !b.Expired()
}

// StaticTokenSource returns an oauth2.TokenSource for the bundle's access
// token, suitable for the Client's bearer-authenticated operations.
func (b *TokenBundle) StaticTokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: b.AccessToken,
		TokenType:   b.TokenType,
		Expiry:      b.Expiry(),
	})
}

// tokenOptions is the set of available options for TokenBundle functions.
type tokenOptions struct {
	withExpirySkew time.Duration
}

// tokenDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultExpirySkew,
	}
}

func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// bearerToken resolves a bearer token from an oauth2.TokenSource.
func bearerToken(ts oauth2.TokenSource) (string, error) {
	if ts == nil {
		return "", fmt.Errorf("token source is nil: %w", ErrNilParameter)
	}
	t, err := ts.Token()
	if err != nil {
		return "", err
	}
	if t.AccessToken == "" {
		return "", fmt.Errorf("token source returned an empty access token: %w", ErrInvalidParameter)
	}
	return t.AccessToken, nil
}
