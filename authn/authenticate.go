package authn

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/tenantry/authkit/oidc"
	"golang.org/x/oauth2"
)

var (
	// ErrUnauthorized means the request carried no usable credentials:
	// no token, an invalid token, or an expired one.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the request was authenticated but the token
	// doesn't satisfy a scope, permission or ACR requirement.
	ErrForbidden = errors.New("forbidden")
)

// TokenExtractor pulls a bearer token out of an arbitrary host request
// shape. It reports false when the request carries no token.
type TokenExtractor[R any] func(r R) (token string, ok bool)

// Result is the outcome of authenticating a request. Both fields are nil for
// an optional, unauthenticated request.
type Result struct {
	Token *oidc.AccessTokenInfo
	User  *oidc.IdentityClaims
}

// AuthenticateFunc authenticates one request.
type AuthenticateFunc[R any] func(ctx context.Context, r R) (*Result, error)

// New builds the authenticate-a-request function for a host request type:
// extract the token, validate it against the client's cached keys, classify
// failures as unauthorized or forbidden, and resolve the user's identity
// through the cache (or the provider on a miss or when WithRefresh is set).
//
// Supported options: WithOptional, WithScopeRequirement,
// WithPermissionRequirement, WithACRRequirement, WithIdentityCache,
// WithRefresh
func New[R any](client *oidc.Client, extract TokenExtractor[R], opt ...Option) (AuthenticateFunc[R], error) {
	const op = "authn.New"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, oidc.ErrNilParameter)
	}
	if extract == nil {
		return nil, fmt.Errorf("%s: token extractor is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getAuthnOpts(opt...)

	var validateOpts []oidc.Option
	if len(opts.withScopes) > 0 {
		validateOpts = append(validateOpts, oidc.WithRequiredScopes(opts.withScopes...))
	}
	if len(opts.withPermissions) > 0 {
		validateOpts = append(validateOpts, oidc.WithRequiredPermissions(opts.withPermissions...))
	}
	if opts.withACR != "" {
		validateOpts = append(validateOpts, oidc.WithRequiredACR(opts.withACR))
	}

	return func(ctx context.Context, r R) (*Result, error) {
		token, ok := extract(r)
		if !ok || token == "" {
			if opts.withOptional {
				return &Result{}, nil
			}
			return nil, fmt.Errorf("no bearer token: %w", ErrUnauthorized)
		}

		info, err := client.ValidateAccessToken(ctx, token, validateOpts...)
		if err != nil {
			switch {
			case errors.Is(err, oidc.ErrMissingScope),
				errors.Is(err, oidc.ErrMissingPermission),
				errors.Is(err, oidc.ErrACRTooLow):
				return nil, multierror.Append(ErrForbidden, err)
			case opts.withOptional:
				// an optional request with a bad token is simply
				// unauthenticated
				return &Result{}, nil
			default:
				return nil, multierror.Append(ErrUnauthorized, err)
			}
		}

		user, err := resolveIdentity(ctx, client, opts, info)
		if err != nil {
			return nil, err
		}
		return &Result{Token: info, User: user}, nil
	}, nil
}

func resolveIdentity(ctx context.Context, client *oidc.Client, opts authnOptions, info *oidc.AccessTokenInfo) (*oidc.IdentityClaims, error) {
	if opts.withCache != nil && !opts.withRefresh {
		cached, err := opts.withCache.Get(ctx, info.Subject)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}
	}

	user, err := client.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: info.RawToken}))
	if err != nil {
		return nil, err
	}
	if opts.withCache != nil {
		if err := opts.withCache.Set(ctx, info.Subject, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// authnOptions is the set of available options for New.
type authnOptions struct {
	withOptional    bool
	withScopes      []string
	withPermissions []string
	withACR         string
	withCache       IdentityCache
	withRefresh     bool
}

// authnDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func authnDefaults() authnOptions {
	return authnOptions{}
}

func getAuthnOpts(opt ...Option) authnOptions {
	opts := authnDefaults()
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// Option defines the functional options type for this package.
type Option func(*authnOptions)

// WithOptional makes authentication optional: a request without a usable
// token yields an empty Result instead of ErrUnauthorized. Scope, permission
// and ACR requirements still apply to tokens that are present.
func WithOptional() Option {
	return func(o *authnOptions) {
		o.withOptional = true
	}
}

// WithScopeRequirement requires the token to carry every listed scope.
func WithScopeRequirement(scopes ...string) Option {
	return func(o *authnOptions) {
		o.withScopes = scopes
	}
}

// WithPermissionRequirement requires the token to carry every listed
// permission.
func WithPermissionRequirement(permissions ...string) Option {
	return func(o *authnOptions) {
		o.withPermissions = permissions
	}
}

// WithACRRequirement requires the token's acr to be at or above the level.
func WithACRRequirement(acr string) Option {
	return func(o *authnOptions) {
		o.withACR = acr
	}
}

// WithIdentityCache provides a cache for resolved identities.
func WithIdentityCache(c IdentityCache) Option {
	return func(o *authnOptions) {
		o.withCache = c
	}
}

// WithRefresh bypasses the identity cache on reads, always fetching a fresh
// identity from the provider (the result is still written back).
func WithRefresh() Option {
	return func(o *authnOptions) {
		o.withRefresh = true
	}
}
