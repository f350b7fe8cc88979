package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gopkg.in/square/go-jose.v2"
)

// WellKnownPath is the provider discovery document path, relative to the
// issuer.
const WellKnownPath = "/.well-known/openid-configuration"

// ProviderConfiguration is the subset of the provider's discovery document
// the client needs. It is fetched lazily, at most once per Client, and cached
// for the Client's lifetime; recreating the Client is the only way to refresh
// it.
type ProviderConfiguration struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// Discover returns the provider's cached configuration, fetching it on first
// use. A failed fetch leaves the cache empty so a later call retries;
// concurrent first callers share a single fetch.
func (c *Client) Discover(ctx context.Context) (*ProviderConfiguration, error) {
	const op = "Client.Discover"
	c.mu.Lock()
	cached := c.providerConfig
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := c.sfg.Do("discovery", func() (interface{}, error) {
		var pc ProviderConfiguration
		wellKnown := strings.TrimSuffix(c.config.Issuer, "/") + WellKnownPath
		if err := c.getJSON(ctx, wellKnown, "", &pc); err != nil {
			return nil, err
		}
		c.logger.Debug("fetched provider configuration", "issuer", pc.Issuer)
		c.mu.Lock()
		c.providerConfig = &pc
		c.mu.Unlock()
		return &pc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to fetch provider configuration: %w", op, err)
	}
	return v.(*ProviderConfiguration), nil
}

// KeySet returns the provider's cached JSON Web Key Set, fetching it on first
// use from the discovered jwks_uri. Like the discovery document it is cached
// only on success and shared between concurrent first callers.
func (c *Client) KeySet(ctx context.Context) (*jose.JSONWebKeySet, error) {
	const op = "Client.KeySet"
	c.mu.Lock()
	cached := c.keySet
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	pc, err := c.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	v, err, _ := c.sfg.Do("jwks", func() (interface{}, error) {
		var keys jose.JSONWebKeySet
		if err := c.getJSON(ctx, pc.JWKSURI, "", &keys); err != nil {
			return nil, err
		}
		c.logger.Debug("fetched provider key set", "keys", len(keys.Keys))
		c.mu.Lock()
		c.keySet = &keys
		c.mu.Unlock()
		return &keys, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to fetch key set: %w", op, err)
	}
	return v.(*jose.JSONWebKeySet), nil
}

// getJSON performs a GET, optionally bearer-authenticated, decoding a 2xx
// JSON response into out and surfacing any non-2xx response as a
// *RequestError.
func (c *Client) getJSON(ctx context.Context, rawURL string, bearer string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Status: resp.StatusCode, Detail: string(body)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
