package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testJWKSURL = "https://token.actions.githubusercontent.com/.well-known/jwks"

// fakeClock is a manually advanced clock so TTL expiry is deterministic.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func rsaJWKS(t *testing.T, kid string, pub *rsa.PublicKey) []byte {
	t.Helper()
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	return []byte(fmt.Sprintf(`{"keys":[{"kty":"RSA","kid":%q,"use":"sig","n":%q,"e":%q}]}`, kid, n, e))
}

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestKeySetCacheGetKey(t *testing.T) {
	ctx := context.Background()
	key := generateRSAKey(t)

	t.Run("populates lazily and serves from cache within TTL", func(t *testing.T) {
		clock := newFakeClock()
		var fetches atomic.Int32
		fetch := func(ctx context.Context, url string) ([]byte, error) {
			fetches.Add(1)
			assert.Equal(t, testJWKSURL, url)
			return rsaJWKS(t, "kid-1", &key.PublicKey), nil
		}

		cache := NewKeySetCache(testJWKSURL, 10*time.Minute, time.Second, 100, clock.Now, fetch, zap.NewNop())

		got, err := cache.GetKey(ctx, "kid-1")
		require.NoError(t, err)
		require.IsType(t, &rsa.PublicKey{}, got)
		assert.Zero(t, got.(*rsa.PublicKey).N.Cmp(key.PublicKey.N))

		_, err = cache.GetKey(ctx, "kid-1")
		require.NoError(t, err)
		assert.Equal(t, int32(1), fetches.Load(), "fresh cache hit must not refetch")
	})

	t.Run("refetches after TTL expiry", func(t *testing.T) {
		clock := newFakeClock()
		var fetches atomic.Int32
		fetch := func(ctx context.Context, url string) ([]byte, error) {
			fetches.Add(1)
			return rsaJWKS(t, "kid-1", &key.PublicKey), nil
		}

		cache := NewKeySetCache(testJWKSURL, 10*time.Minute, time.Second, 100, clock.Now, fetch, zap.NewNop())

		_, err := cache.GetKey(ctx, "kid-1")
		require.NoError(t, err)
		clock.Advance(10*time.Minute + time.Second)
		_, err = cache.GetKey(ctx, "kid-1")
		require.NoError(t, err)
		assert.Equal(t, int32(2), fetches.Load())
	})

	t.Run("rotation replaces the key set wholesale", func(t *testing.T) {
		clock := newFakeClock()
		rotated := generateRSAKey(t)
		var fetches atomic.Int32
		fetch := func(ctx context.Context, url string) ([]byte, error) {
			if fetches.Add(1) == 1 {
				return rsaJWKS(t, "kid-old", &key.PublicKey), nil
			}
			return rsaJWKS(t, "kid-new", &rotated.PublicKey), nil
		}

		cache := NewKeySetCache(testJWKSURL, 10*time.Minute, time.Second, 100, clock.Now, fetch, zap.NewNop())

		_, err := cache.GetKey(ctx, "kid-old")
		require.NoError(t, err)

		// Unknown kid on a fresh cache triggers exactly one refetch.
		_, err = cache.GetKey(ctx, "kid-new")
		require.NoError(t, err)
		assert.Equal(t, int32(2), fetches.Load())

		// The rotated-out key is gone, not served alongside its replacement.
		clock.Advance(11 * time.Minute)
		_, err = cache.GetKey(ctx, "kid-old")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("failed refresh fails the lookup instead of serving stale keys", func(t *testing.T) {
		clock := newFakeClock()
		fetchErr := errors.New("provider unreachable")
		var fetches atomic.Int32
		fetch := func(ctx context.Context, url string) ([]byte, error) {
			if fetches.Add(1) == 1 {
				return rsaJWKS(t, "kid-1", &key.PublicKey), nil
			}
			return nil, fetchErr
		}

		cache := NewKeySetCache(testJWKSURL, 10*time.Minute, time.Second, 100, clock.Now, fetch, zap.NewNop())

		_, err := cache.GetKey(ctx, "kid-1")
		require.NoError(t, err)

		clock.Advance(11 * time.Minute)
		_, err = cache.GetKey(ctx, "kid-1")
		require.Error(t, err)
		assert.ErrorIs(t, err, fetchErr, "stale keys must never be served past their TTL")
	})

	t.Run("refresh rate is limited", func(t *testing.T) {
		clock := newFakeClock()
		fetch := func(ctx context.Context, url string) ([]byte, error) {
			return rsaJWKS(t, "kid-1", &key.PublicKey), nil
		}

		// Near-zero refill: only the burst allowance is available.
		cache := NewKeySetCache(testJWKSURL, 10*time.Minute, time.Second, 0.0001, clock.Now, fetch, zap.NewNop())

		// Each miss for an absent kid forces a refresh attempt.
		_, err := cache.GetKey(ctx, "kid-missing")
		assert.ErrorIs(t, err, ErrKeyNotFound)
		_, err = cache.GetKey(ctx, "kid-missing")
		assert.ErrorIs(t, err, ErrKeyNotFound)

		_, err = cache.GetKey(ctx, "kid-missing")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrKeyNotFound, "exhausted limiter should reject the refresh itself")
		assert.Contains(t, err.Error(), "rate limit")
	})
}

func TestKeySetCacheCollapsesConcurrentRefreshes(t *testing.T) {
	ctx := context.Background()
	key := generateRSAKey(t)
	clock := newFakeClock()

	gate := make(chan struct{})
	var fetches atomic.Int32
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		fetches.Add(1)
		<-gate
		return rsaJWKS(t, "kid-1", &key.PublicKey), nil
	}

	cache := NewKeySetCache(testJWKSURL, 10*time.Minute, time.Second, 100, clock.Now, fetch, zap.NewNop())

	const callers = 8
	var started, done sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			_, errs[i] = cache.GetKey(ctx, "kid-1")
		}(i)
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond) // let every caller reach the in-flight refresh
	close(gate)
	done.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), fetches.Load(), "concurrent misses must share one fetch")
}

func TestParseJWKS(t *testing.T) {
	t.Run("skips malformed entries", func(t *testing.T) {
		key := generateRSAKey(t)
		n := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes())
		raw := fmt.Sprintf(`{"keys":[
			{"kty":"RSA","kid":"good","n":%q,"e":%q},
			{"kty":"RSA","kid":"bad-encoding","n":"!!!","e":"AQAB"},
			{"kty":"RSA","n":%q,"e":%q},
			{"kty":"OKP","kid":"unsupported"}
		]}`, n, e, n, e)

		keys, err := parseJWKS([]byte(raw))
		require.NoError(t, err)
		assert.Len(t, keys, 1)
		assert.Contains(t, keys, "good")
	})

	t.Run("errors when no key is usable", func(t *testing.T) {
		_, err := parseJWKS([]byte(`{"keys":[{"kty":"RSA","kid":"bad","n":"!!!","e":"AQAB"}]}`))
		require.Error(t, err)
	})

	t.Run("reconstructs EC keys", func(t *testing.T) {
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		x := base64.RawURLEncoding.EncodeToString(priv.PublicKey.X.Bytes())
		y := base64.RawURLEncoding.EncodeToString(priv.PublicKey.Y.Bytes())
		raw := fmt.Sprintf(`{"keys":[{"kty":"EC","kid":"ec-1","crv":"P-256","x":%q,"y":%q}]}`, x, y)

		keys, err := parseJWKS([]byte(raw))
		require.NoError(t, err)
		require.Contains(t, keys, "ec-1")
		pub, ok := keys["ec-1"].(*ecdsa.PublicKey)
		require.True(t, ok)
		assert.Zero(t, pub.X.Cmp(priv.PublicKey.X))
	})
}
