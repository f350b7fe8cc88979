package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tenantry/authkit/internal/strutils"
)

// IdToken is an oidc id_token.
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token.
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token.
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// Claims retrieves the IdToken claims without any verification. Most callers
// want Client.VerifyIdToken instead.
func (t IdToken) Claims(claims interface{}) error {
	const op = "IdToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	return UnmarshalClaims(string(t), claims)
}

// UnmarshalClaims will retrieve the claims from the payload of a compact
// serialized JWT.
func UnmarshalClaims(token string, claims interface{}) error {
	const op = "oidc.UnmarshalClaims"
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%s: malformed jwt, expected 3 parts got %d: %w", op, len(parts), ErrInvalidParameter)
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("%s: malformed jwt payload: %w", op, err)
	}
	if err := json.Unmarshal(raw, claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal claims: %w", op, err)
	}
	return nil
}

// audience is an id_token "aud" claim, which may be a single string or an
// array of strings on the wire.
type audience []string

func (a *audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = audience{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*a = audience(many)
	return nil
}

// idTokenClaims are the registered claims checked during verification.
type idTokenClaims struct {
	Issuer          string   `json:"iss"`
	Audience        audience `json:"aud"`
	Expiry          int64    `json:"exp"`
	CodeHash        string   `json:"c_hash"`
	AccessTokenHash string   `json:"at_hash"`
}

// VerifyIdToken validates an id_token: it decrypts the token first when the
// config carries a decryption key, verifies the signature against the cached
// key set, checks issuer/audience/expiry, and when the token carries c_hash
// or at_hash claims it recomputes the provider short hash over the code and
// access token from the same exchange (see WithAuthorizationCode and
// WithAccessToken) and requires both to match, binding the id_token to its
// exchange.
//
// Every failure collapses to ErrIdTokenInvalid; the underlying cause is only
// logged at debug level.
//
// Supported options: WithAuthorizationCode, WithAccessToken, WithExpirySkew
func (c *Client) VerifyIdToken(ctx context.Context, t IdToken, opt ...Option) (*IdentityClaims, error) {
	const op = "Client.VerifyIdToken"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getVerifyOpts(opt...)

	invalid := func(cause string, args ...interface{}) error {
		c.logger.Debug("id_token rejected: "+cause, args...)
		return fmt.Errorf("%s: %w", op, ErrIdTokenInvalid)
	}

	raw := string(t)
	if c.config.IdTokenDecryptionKey != nil {
		decrypted, err := c.crypto.DecryptJWE(raw, c.config.IdTokenDecryptionKey)
		if err != nil {
			return nil, invalid("decryption failed", "error", err)
		}
		raw = decrypted
	}

	keys, err := c.KeySet(ctx)
	if err != nil {
		// a key-set fetch failure is a request error, not a token error
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	payload, err := c.crypto.VerifyJWS(raw, keys, c.config.SupportedSigningAlgs)
	if err != nil {
		return nil, invalid("signature verification failed", "error", err)
	}

	var claims idTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, invalid("malformed claims", "error", err)
	}
	if claims.Issuer != c.config.Issuer {
		return nil, invalid("issuer mismatch", "iss", claims.Issuer)
	}
	auds := c.config.Audiences
	if len(auds) == 0 {
		auds = []string{c.config.ClientId}
	}
	var audOK bool
	for _, a := range auds {
		if strutils.StrListContains([]string(claims.Audience), a) {
			audOK = true
			break
		}
	}
	if !audOK {
		return nil, invalid("audience mismatch")
	}
	if claims.Expiry == 0 || time.Unix(claims.Expiry, 0).Before(time.Now().Add(-opts.withExpirySkew)) {
		return nil, invalid("token expired")
	}

	if claims.CodeHash != "" {
		if opts.withAuthorizationCode == "" || c.crypto.ShortHash(opts.withAuthorizationCode) != claims.CodeHash {
			return nil, invalid("c_hash mismatch")
		}
	}
	if claims.AccessTokenHash != "" {
		if opts.withAccessToken == "" || c.crypto.ShortHash(opts.withAccessToken) != claims.AccessTokenHash {
			return nil, invalid("at_hash mismatch")
		}
	}

	var identity IdentityClaims
	if err := json.Unmarshal(payload, &identity); err != nil {
		return nil, invalid("malformed identity claims", "error", err)
	}
	return &identity, nil
}

// verifyOptions is the set of available options for Client.VerifyIdToken.
type verifyOptions struct {
	withAuthorizationCode string
	withAccessToken       string
	withExpirySkew        time.Duration
}

// verifyDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func verifyDefaults() verifyOptions {
	return verifyOptions{
		withExpirySkew: DefaultExpirySkew,
	}
}

func getVerifyOpts(opt ...Option) verifyOptions {
	opts := verifyDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAuthorizationCode provides the authorization code from the exchange
// that produced the id_token, for c_hash binding.
func WithAuthorizationCode(code string) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifyOptions); ok {
			o.withAuthorizationCode = code
		}
	}
}

// WithAccessToken provides the access token from the exchange that produced
// the id_token, for at_hash binding.
func WithAccessToken(accessToken string) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifyOptions); ok {
			o.withAccessToken = accessToken
		}
	}
}
