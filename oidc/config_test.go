package oidc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		c, err := NewConfig("https://idp.example.com", "client-id")
		require.NoError(t, err)
		assert.Equal(t, []Alg{RS256}, c.SupportedSigningAlgs)
		assert.Equal(t, DefaultACRLevels, c.ACRLevels)
		assert.NotNil(t, c.Logger)
		assert.NotNil(t, c.Crypto)
	})
	t.Run("options", func(t *testing.T) {
		t.Parallel()
		c, err := NewConfig("https://idp.example.com", "client-id",
			WithClientSecret("s3cr3t"),
			WithScopes("openid", "profile"),
			WithSupportedAlgs(ES256, ES384),
			WithAudiences("aud1", "aud2"),
			WithACRLevels("bronze", "silver", "gold"),
		)
		require.NoError(t, err)
		assert.Equal(t, ClientSecret("s3cr3t"), c.ClientSecret)
		assert.Equal(t, []string{"openid", "profile"}, c.Scopes)
		assert.Equal(t, []Alg{ES256, ES384}, c.SupportedSigningAlgs)
		assert.Equal(t, []string{"aud1", "aud2"}, c.Audiences)
		assert.Equal(t, []string{"bronze", "silver", "gold"}, c.ACRLevels)
	})

	tests := []struct {
		name     string
		issuer   string
		clientId string
		opt      []Option
	}{
		{"empty-issuer", "", "client-id", nil},
		{"empty-client-id", "https://idp.example.com", "", nil},
		{"bad-issuer-scheme", "ldap://idp.example.com", "client-id", nil},
		{"unsupported-alg", "https://idp.example.com", "client-id", []Option{WithSupportedAlgs("none")}},
		{"empty-acr-levels", "https://idp.example.com", "client-id", []Option{WithACRLevels()}},
		{"duplicate-acr-levels", "https://idp.example.com", "client-id", []Option{WithACRLevels("1", "1")}},
		{"empty-acr-level", "https://idp.example.com", "client-id", []Option{WithACRLevels("1", "")}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewConfig(tt.issuer, tt.clientId, tt.opt...)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestConfig_HTTPClient(t *testing.T) {
	t.Parallel()

	t.Run("no-ca", func(t *testing.T) {
		t.Parallel()
		c, err := NewConfig("https://idp.example.com", "client-id")
		require.NoError(t, err)
		client, err := c.HTTPClient()
		require.NoError(t, err)
		assert.NotNil(t, client)
	})
	t.Run("bad-ca", func(t *testing.T) {
		t.Parallel()
		c, err := NewConfig("https://idp.example.com", "client-id", WithProviderCA("not-a-pem"))
		require.NoError(t, err)
		_, err = c.HTTPClient()
		assert.ErrorIs(t, err, ErrInvalidCACert)
	})
}

func TestClientSecret_Redaction(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	secret := ClientSecret("s3cr3t")
	assert.Equal(RedactedClientSecret, secret.String())

	data, err := json.Marshal(secret)
	require.NoError(err)
	assert.NotContains(string(data), "s3cr3t")
}
