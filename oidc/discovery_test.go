package oidc

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Discover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("fetched-at-most-once", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		client, err := NewClient(p.ClientConfig(t, "test-rp"))
		require.NoError(err)

		pc, err := client.Discover(ctx)
		require.NoError(err)
		assert.Equal(p.Addr(), pc.Issuer)
		assert.Equal(p.Addr()+"/token", pc.TokenEndpoint)
		assert.Equal(p.Addr()+"/certs", pc.JWKSURI)

		_, err = client.Discover(ctx)
		require.NoError(err)
		assert.Equal(1, p.DiscoveryCount())
	})

	t.Run("concurrent-first-callers-share-one-fetch", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		client, err := NewClient(p.ClientConfig(t, "test-rp"))
		require.NoError(err)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := client.Discover(ctx)
				assert.NoError(err)
			}()
		}
		wg.Wait()
		assert.Equal(1, p.DiscoveryCount())
	})

	t.Run("failed-fetch-is-not-cached", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		client, err := NewClient(p.ClientConfig(t, "test-rp"))
		require.NoError(err)

		p.SetDiscoveryFailStatus(http.StatusServiceUnavailable)
		_, err = client.Discover(ctx)
		require.Error(err)
		var reqErr *RequestError
		require.ErrorAs(err, &reqErr)
		assert.Equal(http.StatusServiceUnavailable, reqErr.Status)

		// the failure left the cache empty, so the next call retries
		p.SetDiscoveryFailStatus(0)
		pc, err := client.Discover(ctx)
		require.NoError(err)
		assert.Equal(p.Addr(), pc.Issuer)
		assert.Equal(2, p.DiscoveryCount())
	})
}

func TestClient_KeySet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("fetched-at-most-once", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		client, err := NewClient(p.ClientConfig(t, "test-rp"))
		require.NoError(err)

		keys, err := client.KeySet(ctx)
		require.NoError(err)
		assert.Len(keys.Keys, 1)

		_, err = client.KeySet(ctx)
		require.NoError(err)
		assert.Equal(1, p.JWKSCount())
		assert.Equal(1, p.DiscoveryCount())
	})

	t.Run("discovery-failure-propagates", func(t *testing.T) {
		t.Parallel()
		require := require.New(t)
		p := StartTestProvider(t)
		client, err := NewClient(p.ClientConfig(t, "test-rp"))
		require.NoError(err)

		p.SetDiscoveryFailStatus(http.StatusInternalServerError)
		_, err = client.KeySet(ctx)
		var reqErr *RequestError
		require.ErrorAs(err, &reqErr)
	})
}
