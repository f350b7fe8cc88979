package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/tenantry/authkit/oidc"
)

// Redirector performs the host-specific navigation to a URL: a browser host
// assigns window.location, a CLI opens the system browser, a server host
// writes a 302.
type Redirector func(url string) error

// Manager orchestrates login, callback, refresh and logout for one user
// session. It owns the PendingExchange set that guarantees an authorization
// code is exchanged at most once per instance, guarding against re-entrant
// callers re-submitting a single-use code.
type Manager struct {
	client   *oidc.Client
	store    Store
	redirect Redirector
	logger   hclog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a Manager over a client and a store.
//
// Supported options: WithRedirector, WithSessionLogger
func New(client *oidc.Client, store Store, opt ...Option) (*Manager, error) {
	const op = "session.New"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, oidc.ErrNilParameter)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getMgrOpts(opt...)
	return &Manager{
		client:   client,
		store:    store,
		redirect: opts.withRedirector,
		logger:   opts.withLogger,
		pending:  map[string]struct{}{},
	}, nil
}

// BeginLogin generates a fresh PKCE verifier, persists it, and returns the
// authorization URL carrying its S256 challenge. Each call replaces any
// previously stored verifier: PKCE state is per login attempt.
//
// Additional oidc options (WithState, WithScopes, WithUILocales,
// WithAuthParams) are passed through to the authorization URL.
func (m *Manager) BeginLogin(ctx context.Context, redirectURL string, opt ...oidc.Option) (string, error) {
	const op = "Manager.BeginLogin"
	v, err := m.client.NewCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := m.store.Set(ctx, KeyCodeVerifier, v.Verifier()); err != nil {
		return "", fmt.Errorf("%s: unable to persist code verifier: %w", op, err)
	}
	authURL, err := m.client.AuthURL(ctx, redirectURL, append(opt, oidc.WithPKCE(v))...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return authURL, nil
}

// Login is BeginLogin followed by the configured redirect.
func (m *Manager) Login(ctx context.Context, redirectURL string, opt ...oidc.Option) error {
	const op = "Manager.Login"
	if m.redirect == nil {
		return fmt.Errorf("%s: no redirector configured: %w", op, oidc.ErrInvalidParameter)
	}
	authURL, err := m.BeginLogin(ctx, redirectURL, opt...)
	if err != nil {
		return err
	}
	return m.redirect(authURL)
}

// Callback handles the provider redirect back to redirectURL. callbackURL is
// the full URL of the current request, carrying either a code or an error.
//
// A provider-reported error or a missing code raises *oidc.AuthorizeError. A
// code whose exchange is already in flight is a no-op returning (nil, nil,
// nil): authorization codes are single-use by provider contract, and
// re-entrant hosts (a double-fired browser effect, a double-clicked link)
// must not turn that into a spurious provider error. The stored PKCE
// verifier is read and cleared before the exchange, regardless of its
// outcome.
func (m *Manager) Callback(ctx context.Context, callbackURL string) (*oidc.TokenBundle, *oidc.IdentityClaims, error) {
	const op = "Manager.Callback"
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: invalid callback URL: %w", op, err)
	}
	qv := u.Query()
	if errCode := qv.Get("error"); errCode != "" {
		return nil, nil, &oidc.AuthorizeError{Code: errCode, Description: qv.Get("error_description")}
	}
	code := qv.Get("code")
	if code == "" {
		return nil, nil, &oidc.AuthorizeError{Code: "invalid_callback", Description: "no authorization code in callback"}
	}

	m.mu.Lock()
	if _, inFlight := m.pending[code]; inFlight {
		m.mu.Unlock()
		m.logger.Debug("duplicate callback for in-flight code ignored")
		return nil, nil, nil
	}
	m.pending[code] = struct{}{}
	m.mu.Unlock()
	// the entry must be removed however the exchange settles, including
	// cancellation, so a legitimate retry remains possible
	defer func() {
		m.mu.Lock()
		delete(m.pending, code)
		m.mu.Unlock()
	}()

	verifier, err := m.store.Get(ctx, KeyCodeVerifier)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to read code verifier: %w", op, err)
	}
	if err := m.store.Delete(ctx, KeyCodeVerifier); err != nil {
		return nil, nil, fmt.Errorf("%s: unable to clear code verifier: %w", op, err)
	}

	redirectURL := u.Scheme + "://" + u.Host + u.Path
	var exchangeOpts []oidc.Option
	if verifier != "" {
		exchangeOpts = append(exchangeOpts, oidc.WithCodeVerifier(verifier))
	}
	bundle, identity, err := m.client.Exchange(ctx, code, redirectURL, exchangeOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := m.persist(ctx, bundle, identity); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return bundle, identity, nil
}

// RefreshUserinfo re-fetches the user's identity from the provider using the
// stored access token and persists the result. It requires an existing
// session.
func (m *Manager) RefreshUserinfo(ctx context.Context) (*oidc.IdentityClaims, error) {
	const op = "Manager.RefreshUserinfo"
	bundle, err := m.Tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if bundle == nil {
		return nil, fmt.Errorf("%s: %w", op, oidc.ErrNotAuthenticated)
	}
	identity, err := m.client.UserInfo(ctx, bundle.StaticTokenSource())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.setIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return identity, nil
}

// RefreshTokens exchanges the stored refresh token for a new bundle,
// replacing the stored session wholesale. It requires an existing session
// with a refresh token.
func (m *Manager) RefreshTokens(ctx context.Context) (*oidc.TokenBundle, error) {
	const op = "Manager.RefreshTokens"
	bundle, err := m.Tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if bundle == nil || bundle.RefreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, oidc.ErrNotAuthenticated)
	}
	next, identity, err := m.client.RefreshToken(ctx, bundle.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := m.persist(ctx, next, identity); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return next, nil
}

// Logout clears every session slot and returns the provider logout URL
// (redirecting there when a redirector is configured). Clearing is
// best-effort across the slots; independent failures are combined.
func (m *Manager) Logout(ctx context.Context, redirectURL string) (string, error) {
	const op = "Manager.Logout"
	var errs *multierror.Error
	for _, key := range []string{KeyUserinfo, KeyTokens, KeyCodeVerifier} {
		if err := m.store.Delete(ctx, key); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return "", fmt.Errorf("%s: unable to clear session: %w", op, err)
	}
	logoutURL, err := m.client.LogoutURL(redirectURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if m.redirect != nil {
		if err := m.redirect(logoutURL); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}
	return logoutURL, nil
}

// Tokens returns the stored token bundle, or nil when no session exists.
func (m *Manager) Tokens(ctx context.Context) (*oidc.TokenBundle, error) {
	raw, err := m.store.Get(ctx, KeyTokens)
	if err != nil || raw == "" {
		return nil, err
	}
	var bundle oidc.TokenBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, fmt.Errorf("stored token bundle is corrupt: %w", err)
	}
	return &bundle, nil
}

// Userinfo returns the stored identity claims, or nil when no session
// exists.
func (m *Manager) Userinfo(ctx context.Context) (*oidc.IdentityClaims, error) {
	raw, err := m.store.Get(ctx, KeyUserinfo)
	if err != nil || raw == "" {
		return nil, err
	}
	var identity oidc.IdentityClaims
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return nil, fmt.Errorf("stored userinfo is corrupt: %w", err)
	}
	return &identity, nil
}

func (m *Manager) persist(ctx context.Context, bundle *oidc.TokenBundle, identity *oidc.IdentityClaims) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("unable to marshal token bundle: %w", err)
	}
	if err := m.store.Set(ctx, KeyTokens, string(data)); err != nil {
		return fmt.Errorf("unable to persist token bundle: %w", err)
	}
	return m.setIdentity(ctx, identity)
}

func (m *Manager) setIdentity(ctx context.Context, identity *oidc.IdentityClaims) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("unable to marshal userinfo: %w", err)
	}
	if err := m.store.Set(ctx, KeyUserinfo, string(data)); err != nil {
		return fmt.Errorf("unable to persist userinfo: %w", err)
	}
	return nil
}

// mgrOptions is the set of available options for New.
type mgrOptions struct {
	withRedirector Redirector
	withLogger     hclog.Logger
}

// mgrDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func mgrDefaults() mgrOptions {
	return mgrOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getMgrOpts(opt ...Option) mgrOptions {
	opts := mgrDefaults()
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// Option defines the functional options type for this package.
type Option func(*mgrOptions)

// WithRedirector provides the host navigation function used by Login and
// Logout.
func WithRedirector(r Redirector) Option {
	return func(o *mgrOptions) {
		o.withRedirector = r
	}
}

// WithSessionLogger provides an optional logger.
func WithSessionLogger(l hclog.Logger) Option {
	return func(o *mgrOptions) {
		o.withLogger = l
	}
}
