package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"gopkg.in/square/go-jose.v2"
)

// Client is the stable operation surface for a relying party: authorization
// URL assembly, code and refresh exchanges, token verification, userinfo and
// profile requests, and logout URL construction.
//
// A Client lazily fetches and then caches the provider's discovery document
// and key set for its lifetime; create a new Client to pick up rotated
// provider metadata.
type Client struct {
	config *Config
	crypto Crypto
	logger hclog.Logger
	client *http.Client

	mu             sync.Mutex
	sfg            singleflight.Group
	providerConfig *ProviderConfiguration
	keySet         *jose.JSONWebKeySet
}

// NewClient creates a Client for the configured provider. No network request
// is made until the first operation needs the provider's metadata.
func NewClient(c *Config) (*Client, error) {
	const op = "oidc.NewClient"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: config is invalid: %w", op, err)
	}
	httpClient, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	crypto := c.Crypto
	if crypto == nil {
		crypto = DefaultCrypto()
	}
	logger := c.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Client{
		config: c,
		crypto: crypto,
		logger: logger,
		client: httpClient,
	}, nil
}

// Config returns the client's config.
func (c *Client) Config() *Config { return c.config }

// NewCodeVerifier creates a CodeVerifier using the client's crypto
// implementation.
func (c *Client) NewCodeVerifier(opt ...Option) (*CodeVerifier, error) {
	return NewCodeVerifier(append([]Option{WithCrypto(c.crypto)}, opt...)...)
}

// AuthURL assembles the provider authorization URL for the given redirect
// URL. It is a pure combination of the cached provider configuration and the
// given options; absent optional parameters are omitted from the query.
//
// Supported options: WithState, WithScopes, WithPKCE, WithUILocales,
// WithAuthParams
func (c *Client) AuthURL(ctx context.Context, redirectURL string, opt ...Option) (string, error) {
	const op = "Client.AuthURL"
	if redirectURL == "" {
		return "", fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getAuthURLOpts(opt...)

	pc, err := c.Discover(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	scopes := opts.withScopes
	if len(scopes) == 0 {
		scopes = c.config.Scopes
	}

	// assembled in the provider's documented parameter order rather than
	// with url.Values, which would sort the keys
	var query []string
	add := func(key, value string) {
		query = append(query, key+"="+url.QueryEscape(value))
	}
	add("response_type", "code")
	add("client_id", c.config.ClientId)
	add("redirect_uri", redirectURL)
	if opts.withState != "" {
		add("state", opts.withState)
	}
	if len(scopes) > 0 {
		add("scope", strings.Join(scopes, " "))
	}
	if opts.withVerifier != nil {
		add("code_challenge", opts.withVerifier.Challenge())
		add("code_challenge_method", string(opts.withVerifier.Method()))
	}
	if len(opts.withUILocales) > 0 {
		tags := make([]string, 0, len(opts.withUILocales))
		for _, l := range opts.withUILocales {
			tags = append(tags, l.String())
		}
		add("ui_locales", strings.Join(tags, " "))
	}
	if len(opts.withAuthParams) > 0 {
		extra := make([]string, 0, len(opts.withAuthParams))
		for k := range opts.withAuthParams {
			extra = append(extra, k)
		}
		sort.Strings(extra)
		for _, k := range extra {
			add(k, opts.withAuthParams[k])
		}
	}

	return pc.AuthorizationEndpoint + "?" + strings.Join(query, "&"), nil
}

// Exchange performs the authorization code grant for code, verifies the
// returned id_token (including c_hash/at_hash binding to this exchange), and
// returns the token bundle together with the verified identity claims.
//
// A non-2xx token endpoint response surfaces as a *RequestError; any
// id_token verification failure surfaces as ErrIdTokenInvalid without
// exposing partially-trusted claims.
//
// Supported options: WithPKCE, WithCodeVerifier
func (c *Client) Exchange(ctx context.Context, code string, redirectURL string, opt ...Option) (*TokenBundle, *IdentityClaims, error) {
	const op = "Client.Exchange"
	if code == "" {
		return nil, nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	if redirectURL == "" {
		return nil, nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getExchangeOpts(opt...)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.config.ClientId)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURL)
	if c.config.ClientSecret != "" {
		form.Set("client_secret", string(c.config.ClientSecret))
	}
	switch {
	case opts.withCodeVerifier != "":
		form.Set("code_verifier", opts.withCodeVerifier)
	case opts.withVerifier != nil:
		form.Set("code_verifier", opts.withVerifier.Verifier())
	}

	bundle, err := c.tokenRequest(ctx, form)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	identity, err := c.VerifyIdToken(ctx, IdToken(bundle.IdToken),
		WithAuthorizationCode(code),
		WithAccessToken(bundle.AccessToken),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return bundle, identity, nil
}

// RefreshToken performs the refresh token grant and, like Exchange, verifies
// the returned id_token before handing anything back.
//
// Supported options: WithScopes
func (c *Client) RefreshToken(ctx context.Context, refreshToken string, opt ...Option) (*TokenBundle, *IdentityClaims, error) {
	const op = "Client.RefreshToken"
	if refreshToken == "" {
		return nil, nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getExchangeOpts(opt...)

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.config.ClientId)
	form.Set("refresh_token", refreshToken)
	if c.config.ClientSecret != "" {
		form.Set("client_secret", string(c.config.ClientSecret))
	}
	if len(opts.withScopes) > 0 {
		form.Set("scope", strings.Join(opts.withScopes, " "))
	}

	bundle, err := c.tokenRequest(ctx, form)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	identity, err := c.VerifyIdToken(ctx, IdToken(bundle.IdToken),
		WithAccessToken(bundle.AccessToken),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return bundle, identity, nil
}

// tokenRequest POSTs a form-encoded grant request to the token endpoint and
// parses the bundle from a 2xx response.
func (c *Client) tokenRequest(ctx context.Context, form url.Values) (*TokenBundle, error) {
	pc, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{Status: resp.StatusCode, Detail: string(body)}
	}

	var bundle TokenBundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, fmt.Errorf("unable to parse token response: %w", err)
	}
	if bundle.IdToken == "" {
		return nil, ErrMissingIdToken
	}
	bundle.ReceivedAt = time.Now()
	return &bundle, nil
}

// UserInfo gets the userinfo claims from the provider using the token
// produced by the tokenSource.
func (c *Client) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource) (*IdentityClaims, error) {
	const op = "Client.UserInfo"
	bearer, err := bearerToken(tokenSource)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pc, err := c.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var identity IdentityClaims
	if err := c.getJSON(ctx, pc.UserinfoEndpoint, bearer, &identity); err != nil {
		return nil, fmt.Errorf("%s: userinfo request failed: %w", op, err)
	}
	return &identity, nil
}

// UpdateProfile updates provider-side profile fields for the authenticated
// user.
func (c *Client) UpdateProfile(ctx context.Context, tokenSource oauth2.TokenSource, profile map[string]interface{}) error {
	const op = "Client.UpdateProfile"
	if len(profile) == 0 {
		return fmt.Errorf("%s: profile is empty: %w", op, ErrInvalidParameter)
	}
	return c.bearerJSON(ctx, op, http.MethodPatch, "/api/profile", tokenSource, profile)
}

// ChangePassword changes the authenticated user's password.
func (c *Client) ChangePassword(ctx context.Context, tokenSource oauth2.TokenSource, oldPassword, newPassword string) error {
	const op = "Client.ChangePassword"
	if oldPassword == "" || newPassword == "" {
		return fmt.Errorf("%s: password is empty: %w", op, ErrInvalidParameter)
	}
	return c.bearerJSON(ctx, op, http.MethodPatch, "/api/password", tokenSource, map[string]interface{}{
		"old_password": oldPassword,
		"new_password": newPassword,
	})
}

// ChangeEmail starts an email change for the authenticated user. The
// provider sends a verification code to the new address; complete the change
// with VerifyEmail.
func (c *Client) ChangeEmail(ctx context.Context, tokenSource oauth2.TokenSource, newEmail string) error {
	const op = "Client.ChangeEmail"
	if newEmail == "" {
		return fmt.Errorf("%s: email is empty: %w", op, ErrInvalidParameter)
	}
	return c.bearerJSON(ctx, op, http.MethodPatch, "/api/email/change", tokenSource, map[string]interface{}{
		"email": newEmail,
	})
}

// VerifyEmail completes an email change with the verification code the
// provider sent.
func (c *Client) VerifyEmail(ctx context.Context, tokenSource oauth2.TokenSource, code string) error {
	const op = "Client.VerifyEmail"
	if code == "" {
		return fmt.Errorf("%s: verification code is empty: %w", op, ErrInvalidParameter)
	}
	return c.bearerJSON(ctx, op, http.MethodPost, "/api/email/verify", tokenSource, map[string]interface{}{
		"code": code,
	})
}

// LogoutURL returns the provider logout URL which, when visited, ends the
// provider session and redirects back to redirectURL.
func (c *Client) LogoutURL(redirectURL string) (string, error) {
	const op = "Client.LogoutURL"
	if redirectURL == "" {
		return "", fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	return strings.TrimSuffix(c.config.Issuer, "/") + "/logout?redirect_uri=" + url.QueryEscape(redirectURL), nil
}

// bearerJSON sends a bearer-authenticated JSON request rooted at the issuer,
// surfacing any non-2xx response as a *RequestError.
func (c *Client) bearerJSON(ctx context.Context, op string, method, path string, tokenSource oauth2.TokenSource, payload interface{}) error {
	bearer, err := bearerToken(tokenSource)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: unable to marshal request: %w", op, err)
	}
	endpoint := strings.TrimSuffix(c.config.Issuer, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %w", op, &RequestError{Status: resp.StatusCode, Detail: string(body)})
	}
	return nil
}

// authURLOptions is the set of available options for Client.AuthURL.
type authURLOptions struct {
	withState      string
	withScopes     []string
	withVerifier   *CodeVerifier
	withUILocales  []language.Tag
	withAuthParams map[string]string
}

// authURLDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func authURLDefaults() authURLOptions {
	return authURLOptions{}
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithState provides an optional state parameter for an authorization URL.
func WithState(s string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withState = s
		}
	}
}

// WithUILocales provides optional BCP47 language tags for the provider's
// login UI.
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withUILocales = locales
		}
	}
}

// WithAuthParams provides optional provider-specific extra parameters for an
// authorization URL. They are appended after the standard parameters, in key
// order.
func WithAuthParams(params map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withAuthParams = params
		}
	}
}

// exchangeOptions is the set of available options for Client.Exchange and
// Client.RefreshToken.
type exchangeOptions struct {
	withVerifier     *CodeVerifier
	withCodeVerifier string
	withScopes       []string
}

// exchangeDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func exchangeDefaults() exchangeOptions {
	return exchangeOptions{}
}

func getExchangeOpts(opt ...Option) exchangeOptions {
	opts := exchangeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithCodeVerifier provides the raw PKCE code verifier string for a code
// exchange, for callers that persisted the verifier across the login
// redirect rather than holding a *CodeVerifier.
func WithCodeVerifier(verifier string) Option {
	return func(o interface{}) {
		if o, ok := o.(*exchangeOptions); ok {
			o.withCodeVerifier = verifier
		}
	}
}
