package oidc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityClaims_UnmarshalJSON(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	var c IdentityClaims
	require.NoError(json.Unmarshal([]byte(`{
		"sub": "alice@example.com",
		"email": "alice@example.com",
		"tid": "t_acme",
		"name": "Alice",
		"groups": ["eng", "ops"]
	}`), &c))

	assert.Equal("alice@example.com", c.Subject)
	assert.Equal("alice@example.com", c.Email)
	assert.Equal("t_acme", c.TenantId)
	assert.Equal("Alice", c.Custom["name"])
	assert.Len(c.Custom, 2)
	assert.NotContains(c.Custom, "sub")
}

func TestIdentityClaims_RoundTrip(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	orig := IdentityClaims{
		Subject:  "alice@example.com",
		Email:    "alice@example.com",
		TenantId: "t_acme",
		Custom: map[string]interface{}{
			"name": "Alice",
		},
	}
	data, err := json.Marshal(orig)
	require.NoError(err)

	var got IdentityClaims
	require.NoError(json.Unmarshal(data, &got))
	assert.Equal(orig, got)
}

func TestIdentityClaims_NonStringReserved(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	// a non-string value for a reserved claim stays in the custom bag
	// instead of being silently coerced
	var c IdentityClaims
	require.NoError(json.Unmarshal([]byte(`{"sub": 42}`), &c))
	assert.Empty(c.Subject)
	assert.Equal(float64(42), c.Custom["sub"])
}
