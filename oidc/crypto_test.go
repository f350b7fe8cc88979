package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2/jwt"
)

func TestShortHash(t *testing.T) {
	t.Parallel()
	crypto := DefaultCrypto()

	t.Run("half-digest", func(t *testing.T) {
		t.Parallel()
		sum := sha256.Sum256([]byte("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
		want := base64.RawURLEncoding.EncodeToString(sum[:16])
		assert.Equal(t, want, crypto.ShortHash("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
	})
	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, crypto.ShortHash("value"), crypto.ShortHash("value"))
		assert.NotEqual(t, crypto.ShortHash("value"), crypto.ShortHash("other"))
	})
	t.Run("decodes-to-16-bytes", func(t *testing.T) {
		t.Parallel()
		raw, err := base64.RawURLEncoding.DecodeString(crypto.ShortHash("value"))
		require.NoError(t, err)
		assert.Len(t, raw, 16)
	})
}

func TestRandomVerifier(t *testing.T) {
	t.Parallel()
	crypto := DefaultCrypto()

	v1, err := crypto.RandomVerifier()
	require.NoError(t, err)
	v2, err := crypto.RandomVerifier()
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
	raw, err := base64.RawURLEncoding.DecodeString(v1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(raw), minVerifierBytes)
}

func TestVerifyJWS(t *testing.T) {
	t.Parallel()
	crypto := DefaultCrypto()
	pub, priv := TestGenerateKeys(t)
	keys := TestJWKS(t, pub)
	token := TestSignJWT(t, priv, jwt.Claims{Subject: "alice"}, nil)

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		payload, err := crypto.VerifyJWS(token, keys, []Alg{ES256})
		require.NoError(t, err)
		assert.Contains(t, string(payload), `"sub":"alice"`)
	})
	t.Run("alg-not-allowed", func(t *testing.T) {
		t.Parallel()
		_, err := crypto.VerifyJWS(token, keys, []Alg{RS256})
		assert.ErrorIs(t, err, ErrUnsupportedAlg)
	})
	t.Run("wrong-key", func(t *testing.T) {
		t.Parallel()
		otherPub, _ := TestGenerateKeys(t)
		_, err := crypto.VerifyJWS(token, TestJWKS(t, otherPub), []Alg{ES256})
		assert.Error(t, err)
	})
	t.Run("nil-keys", func(t *testing.T) {
		t.Parallel()
		_, err := crypto.VerifyJWS(token, nil, []Alg{ES256})
		assert.ErrorIs(t, err, ErrNilParameter)
	})
	t.Run("garbage", func(t *testing.T) {
		t.Parallel()
		_, err := crypto.VerifyJWS("not-a-jwt", keys, []Alg{ES256})
		assert.Error(t, err)
	})
}

func TestDecryptJWE(t *testing.T) {
	t.Parallel()
	crypto := DefaultCrypto()
	_, priv := TestGenerateKeys(t)
	inner := TestSignJWT(t, priv, jwt.Claims{Subject: "alice"}, nil)
	key := make([]byte, 32)
	encrypted := TestEncryptJWT(t, inner, key)

	t.Run("round-trip", func(t *testing.T) {
		t.Parallel()
		got, err := crypto.DecryptJWE(encrypted, key)
		require.NoError(t, err)
		assert.Equal(t, inner, got)
	})
	t.Run("wrong-key", func(t *testing.T) {
		t.Parallel()
		wrong := make([]byte, 32)
		wrong[0] = 1
		_, err := crypto.DecryptJWE(encrypted, wrong)
		assert.Error(t, err)
	})
	t.Run("nil-key", func(t *testing.T) {
		t.Parallel()
		_, err := crypto.DecryptJWE(encrypted, nil)
		assert.ErrorIs(t, err, ErrNilParameter)
	})
}
