package oidc

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	t.Run("nil-config", func(t *testing.T) {
		t.Parallel()
		_, err := NewClient(nil)
		assert.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("invalid-config", func(t *testing.T) {
		t.Parallel()
		_, err := NewClient(&Config{Issuer: "https://idp.example.com"})
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		c, err := NewConfig("https://idp.example.com", "client-id")
		require.NoError(t, err)
		client, err := NewClient(c)
		require.NoError(t, err)
		assert.Same(t, c, client.Config())
	})
}

func TestClient_AuthURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := StartTestProvider(t)
	client, err := NewClient(p.ClientConfig(t, "test-rp", WithScopes("openid")))
	require.NoError(t, err)

	const redirectURL = "https://example.com/callback"
	escapedRedirect := url.QueryEscape(redirectURL)

	t.Run("parameter-order", func(t *testing.T) {
		t.Parallel()
		got, err := client.AuthURL(ctx, redirectURL, WithState("st_123"))
		require.NoError(t, err)
		assert.Equal(t,
			p.Addr()+"/authorize?response_type=code&client_id=test-rp&redirect_uri="+escapedRedirect+"&state=st_123&scope=openid",
			got)
	})

	t.Run("with-pkce", func(t *testing.T) {
		t.Parallel()
		v, err := client.NewCodeVerifier()
		require.NoError(t, err)
		got, err := client.AuthURL(ctx, redirectURL, WithPKCE(v))
		require.NoError(t, err)
		assert.Equal(t,
			p.Addr()+"/authorize?response_type=code&client_id=test-rp&redirect_uri="+escapedRedirect+"&scope=openid&code_challenge="+v.Challenge()+"&code_challenge_method=S256",
			got)
	})

	t.Run("scope-override-and-locales", func(t *testing.T) {
		t.Parallel()
		got, err := client.AuthURL(ctx, redirectURL,
			WithScopes("openid", "profile"),
			WithUILocales(language.AmericanEnglish, language.German),
		)
		require.NoError(t, err)
		assert.Equal(t,
			p.Addr()+"/authorize?response_type=code&client_id=test-rp&redirect_uri="+escapedRedirect+"&scope=openid+profile&ui_locales=en-US+de",
			got)
	})

	t.Run("extra-params-sorted-last", func(t *testing.T) {
		t.Parallel()
		got, err := client.AuthURL(ctx, redirectURL, WithAuthParams(map[string]string{
			"prompt":  "consent",
			"max_age": "60",
		}))
		require.NoError(t, err)
		assert.Equal(t,
			p.Addr()+"/authorize?response_type=code&client_id=test-rp&redirect_uri="+escapedRedirect+"&scope=openid&max_age=60&prompt=consent",
			got)
	})

	t.Run("empty-redirect", func(t *testing.T) {
		t.Parallel()
		_, err := client.AuthURL(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestClient_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const redirectURL = "https://example.com/callback"

	newClient := func(t *testing.T) (*TestProvider, *Client) {
		t.Helper()
		p := StartTestProvider(t)
		p.SetClientCreds("test-rp", "test-secret")
		p.SetExpectedAuthCode("CODE")
		client, err := NewClient(p.ClientConfig(t, "test-rp", WithClientSecret("test-secret")))
		require.NoError(t, err)
		return p, client
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		p, client := newClient(t)
		p.SetReplySubject("U1")

		bundle, identity, err := client.Exchange(ctx, "CODE", redirectURL, WithCodeVerifier("stored-verifier"))
		require.NoError(err)
		assert.Equal("U1", identity.Subject)
		assert.True(bundle.Valid())
		assert.Equal(int64(60), bundle.ExpiresIn)
		assert.Equal("test-refresh-token", bundle.RefreshToken)
		assert.False(bundle.ReceivedAt.IsZero())

		form := p.LastTokenForm()
		assert.Equal("authorization_code", form.Get("grant_type"))
		assert.Equal("CODE", form.Get("code"))
		assert.Equal(redirectURL, form.Get("redirect_uri"))
		assert.Equal("test-secret", form.Get("client_secret"))
		assert.Equal("stored-verifier", form.Get("code_verifier"))
	})

	t.Run("pkce-verifier-from-struct", func(t *testing.T) {
		t.Parallel()
		p, client := newClient(t)
		v, err := client.NewCodeVerifier()
		require.NoError(t, err)
		_, _, err = client.Exchange(ctx, "CODE", redirectURL, WithPKCE(v))
		require.NoError(t, err)
		assert.Equal(t, v.Verifier(), p.LastTokenForm().Get("code_verifier"))
	})

	t.Run("provider-rejection-is-a-request-error", func(t *testing.T) {
		t.Parallel()
		_, client := newClient(t)
		_, _, err := client.Exchange(ctx, "WRONG-CODE", redirectURL)
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	})

	t.Run("missing-id-token", func(t *testing.T) {
		t.Parallel()
		p, client := newClient(t)
		p.OmitIDTokens()
		_, _, err := client.Exchange(ctx, "CODE", redirectURL)
		assert.ErrorIs(t, err, ErrMissingIdToken)
	})

	t.Run("id-token-without-hash-claims-is-accepted", func(t *testing.T) {
		t.Parallel()
		p, client := newClient(t)
		p.OmitHashClaims()
		_, _, err := client.Exchange(ctx, "CODE", redirectURL)
		require.NoError(t, err)
	})

	t.Run("empty-parameters", func(t *testing.T) {
		t.Parallel()
		_, client := newClient(t)
		_, _, err := client.Exchange(ctx, "", redirectURL)
		assert.ErrorIs(t, err, ErrInvalidParameter)
		_, _, err = client.Exchange(ctx, "CODE", "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestClient_RefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := StartTestProvider(t)
	p.SetClientCreds("test-rp", "test-secret")
	p.SetExpectedRefreshToken("RT")
	client, err := NewClient(p.ClientConfig(t, "test-rp", WithClientSecret("test-secret")))
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		bundle, identity, err := client.RefreshToken(ctx, "RT", WithScopes("openid", "profile"))
		require.NoError(err)
		assert.Equal("alice@example.com", identity.Subject)
		assert.True(bundle.Valid())

		form := p.LastTokenForm()
		assert.Equal("refresh_token", form.Get("grant_type"))
		assert.Equal("RT", form.Get("refresh_token"))
		assert.Equal("openid profile", form.Get("scope"))
	})

	t.Run("rejected", func(t *testing.T) {
		_, _, err := client.RefreshToken(ctx, "WRONG")
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := client.RefreshToken(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestClient_UserInfo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := StartTestProvider(t)
	client, err := NewClient(p.ClientConfig(t, "test-rp"))
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at"})
		identity, err := client.UserInfo(ctx, ts)
		require.NoError(err)
		assert.Equal("alice@example.com", identity.Subject)
		assert.Equal("alice@example.com", identity.Email)
		assert.Equal("t_default", identity.TenantId)
	})

	t.Run("nil-token-source", func(t *testing.T) {
		_, err := client.UserInfo(ctx, nil)
		assert.ErrorIs(t, err, ErrNilParameter)
	})

	t.Run("disabled-endpoint", func(t *testing.T) {
		p.DisableUserInfo()
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at"})
		_, err := client.UserInfo(ctx, ts)
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusNotFound, reqErr.Status)
	})
}

func TestClient_ProfileAPI(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := StartTestProvider(t)
	client, err := NewClient(p.ClientConfig(t, "test-rp"))
	require.NoError(t, err)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at"})

	t.Run("update-profile", func(t *testing.T) {
		require.NoError(t, client.UpdateProfile(ctx, ts, map[string]interface{}{"name": "Alice"}))
		path, body := p.LastAPIRequest()
		assert.Equal(t, "/api/profile", path)
		assert.Equal(t, "Alice", body["name"])
	})

	t.Run("change-password", func(t *testing.T) {
		require.NoError(t, client.ChangePassword(ctx, ts, "old-pass", "new-pass"))
		path, body := p.LastAPIRequest()
		assert.Equal(t, "/api/password", path)
		assert.Equal(t, "old-pass", body["old_password"])
		assert.Equal(t, "new-pass", body["new_password"])
	})

	t.Run("change-email", func(t *testing.T) {
		require.NoError(t, client.ChangeEmail(ctx, ts, "new@example.com"))
		path, body := p.LastAPIRequest()
		assert.Equal(t, "/api/email/change", path)
		assert.Equal(t, "new@example.com", body["email"])
	})

	t.Run("verify-email", func(t *testing.T) {
		require.NoError(t, client.VerifyEmail(ctx, ts, "123456"))
		path, body := p.LastAPIRequest()
		assert.Equal(t, "/api/email/verify", path)
		assert.Equal(t, "123456", body["code"])
	})

	t.Run("input-validation", func(t *testing.T) {
		assert.ErrorIs(t, client.UpdateProfile(ctx, ts, nil), ErrInvalidParameter)
		assert.ErrorIs(t, client.ChangePassword(ctx, ts, "", "new"), ErrInvalidParameter)
		assert.ErrorIs(t, client.ChangeEmail(ctx, ts, ""), ErrInvalidParameter)
		assert.ErrorIs(t, client.VerifyEmail(ctx, ts, ""), ErrInvalidParameter)
	})

	t.Run("provider-failure", func(t *testing.T) {
		p.SetAPIFailStatus(http.StatusBadRequest)
		defer p.SetAPIFailStatus(0)
		err := client.UpdateProfile(ctx, ts, map[string]interface{}{"name": "Alice"})
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusBadRequest, reqErr.Status)
	})
}

func TestClient_LogoutURL(t *testing.T) {
	t.Parallel()
	p := StartTestProvider(t)
	client, err := NewClient(p.ClientConfig(t, "test-rp"))
	require.NoError(t, err)

	got, err := client.LogoutURL("https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, p.Addr()+"/logout?redirect_uri="+url.QueryEscape("https://example.com/"), got)

	_, err = client.LogoutURL("")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
