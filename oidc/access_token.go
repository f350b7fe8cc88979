package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tenantry/authkit/internal/strutils"
)

// AccessTokenInfo is the result of validating an access token. It is only
// constructed after the token's signature, expiry and required claims have
// all been verified; every field traces to a verified claim.
type AccessTokenInfo struct {
	// Subject is the verified "sub" claim.
	Subject string

	// Scopes is the verified scope set.
	Scopes []string

	// ACR is the verified authentication context class.
	ACR string

	// Permissions is the verified permission list.
	Permissions []string

	// RawToken is the token string that was validated, kept so callers can
	// forward it (e.g. for a userinfo fetch).
	RawToken string
}

// HasScope reports whether the token carries the scope.
func (a *AccessTokenInfo) HasScope(scope string) bool {
	return strutils.StrListContains(a.Scopes, scope)
}

// HasPermission reports whether the token carries the permission.
func (a *AccessTokenInfo) HasPermission(permission string) bool {
	return strutils.StrListContains(a.Permissions, permission)
}

// accessTokenClaims are the claims checked during access token validation.
// Pointers distinguish absent claims, which are themselves invalid.
type accessTokenClaims struct {
	Subject     string    `json:"sub"`
	Expiry      *int64    `json:"exp"`
	Scope       *string   `json:"scope"`
	ACR         *string   `json:"acr"`
	Permissions *[]string `json:"permissions"`
}

// ValidateAccessToken verifies an access token's signature against the
// cached key set and its expiry, requires the scope, acr and permissions
// claims to be present, and enforces any scope/permission/ACR requirements.
//
// Failures are distinct: a structural or signature failure is
// ErrAccessTokenInvalid, a valid signature over a past exp is
// ErrAccessTokenExpired, and each unsatisfied requirement is its own
// ErrMissingScope / ErrMissingPermission / ErrACRTooLow so callers can choose
// unauthorized vs forbidden handling.
//
// Supported options: WithRequiredScopes, WithRequiredPermissions,
// WithRequiredACR, WithExpirySkew
func (c *Client) ValidateAccessToken(ctx context.Context, token string, opt ...Option) (*AccessTokenInfo, error) {
	const op = "Client.ValidateAccessToken"
	if token == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrAccessTokenInvalid)
	}
	opts := getValidateOpts(opt...)

	keys, err := c.KeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	payload, err := c.crypto.VerifyJWS(token, keys, c.config.SupportedSigningAlgs)
	if err != nil {
		c.logger.Debug("access token rejected", "error", err)
		return nil, fmt.Errorf("%s: %w", op, ErrAccessTokenInvalid)
	}

	var claims accessTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%s: malformed claims: %w", op, ErrAccessTokenInvalid)
	}
	if claims.Expiry == nil {
		return nil, fmt.Errorf("%s: exp claim is missing: %w", op, ErrAccessTokenInvalid)
	}
	if time.Unix(*claims.Expiry, 0).Before(time.Now().Add(-opts.withExpirySkew)) {
		return nil, fmt.Errorf("%s: %w", op, ErrAccessTokenExpired)
	}
	if claims.Scope == nil {
		return nil, fmt.Errorf("%s: scope claim is missing: %w", op, ErrAccessTokenInvalid)
	}
	if claims.ACR == nil {
		return nil, fmt.Errorf("%s: acr claim is missing: %w", op, ErrAccessTokenInvalid)
	}
	if claims.Permissions == nil {
		return nil, fmt.Errorf("%s: permissions claim is missing: %w", op, ErrAccessTokenInvalid)
	}

	scopes := strings.Fields(*claims.Scope)
	for _, required := range opts.withRequiredScopes {
		if !strutils.StrListContains(scopes, required) {
			return nil, fmt.Errorf("%s: %q: %w", op, required, ErrMissingScope)
		}
	}
	for _, required := range opts.withRequiredPermissions {
		if !strutils.StrListContains(*claims.Permissions, required) {
			return nil, fmt.Errorf("%s: %q: %w", op, required, ErrMissingPermission)
		}
	}
	if opts.withRequiredACR != "" {
		requiredLevel := c.acrLevel(opts.withRequiredACR)
		if requiredLevel < 0 {
			return nil, fmt.Errorf("%s: required acr %q is not a configured level: %w", op, opts.withRequiredACR, ErrInvalidParameter)
		}
		// a token acr outside the configured ordering fails closed
		if tokenLevel := c.acrLevel(*claims.ACR); tokenLevel < requiredLevel {
			return nil, fmt.Errorf("%s: acr %q below %q: %w", op, *claims.ACR, opts.withRequiredACR, ErrACRTooLow)
		}
	}

	return &AccessTokenInfo{
		Subject:     claims.Subject,
		Scopes:      scopes,
		ACR:         *claims.ACR,
		Permissions: *claims.Permissions,
		RawToken:    token,
	}, nil
}

// acrLevel returns the ordinal position of an acr value in the configured
// level ordering, or -1 when the value isn't a configured level.
func (c *Client) acrLevel(acr string) int {
	for i, l := range c.config.ACRLevels {
		if l == acr {
			return i
		}
	}
	return -1
}

// validateOptions is the set of available options for
// Client.ValidateAccessToken.
type validateOptions struct {
	withRequiredScopes      []string
	withRequiredPermissions []string
	withRequiredACR         string
	withExpirySkew          time.Duration
}

// validateDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func validateDefaults() validateOptions {
	return validateOptions{
		withExpirySkew: DefaultExpirySkew,
	}
}

func getValidateOpts(opt ...Option) validateOptions {
	opts := validateDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRequiredScopes provides scopes the access token must carry.
func WithRequiredScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*validateOptions); ok {
			o.withRequiredScopes = scopes
		}
	}
}

// WithRequiredPermissions provides permissions the access token must carry.
func WithRequiredPermissions(permissions ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*validateOptions); ok {
			o.withRequiredPermissions = permissions
		}
	}
}

// WithRequiredACR provides the minimum acr level (under the config's level
// ordering) the access token must carry.
func WithRequiredACR(acr string) Option {
	return func(o interface{}) {
		if o, ok := o.(*validateOptions); ok {
			o.withRequiredACR = acr
		}
	}
}
