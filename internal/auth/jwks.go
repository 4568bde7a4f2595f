// File: internal/auth/jwks.go
package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrKeyNotFound is returned when the requested key ID is absent from the key
// set even after a refresh.
var ErrKeyNotFound = errors.New("auth: key id not found in JWKS")

// FetchFunc retrieves the raw JWKS document from the identity provider.
// Injected so tests can substitute a fake without any network access.
type FetchFunc func(ctx context.Context, jwksURL string) ([]byte, error)

// KeySetCache is a process-wide, time-bounded cache of the OIDC provider's
// public signing keys. It is an explicit component instance, never a hidden
// singleton: the process owns one and passes it by reference to the Verifier.
//
// Policy decisions, per the security posture of this cache:
//   - the cache is replaced wholesale on refresh, never merged per-key, so a
//     rotated-out key can never be served next to its replacement;
//   - a failed refresh fails the lookup rather than serving keys past their
//     TTL (correctness over availability);
//   - concurrent refreshes are collapsed into a single in-flight fetch.
type KeySetCache struct {
	url     string
	ttl     time.Duration
	now     func() time.Time
	fetch   FetchFunc
	limiter *rate.Limiter
	group   singleflight.Group
	log     *zap.Logger

	mu        sync.RWMutex
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time
}

// NewKeySetCache creates an empty cache for the given JWKS endpoint. The
// clock and fetch function may be nil, in which case time.Now and an HTTP
// fetch bounded by fetchTimeout are used.
func NewKeySetCache(jwksURL string, ttl time.Duration, fetchTimeout time.Duration, fetchRate float64, clock func() time.Time, fetch FetchFunc, logger *zap.Logger) *KeySetCache {
	if clock == nil {
		clock = time.Now
	}
	if fetch == nil {
		fetch = httpFetch(fetchTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetchRate <= 0 {
		fetchRate = 2.0
	}
	return &KeySetCache{
		url:     jwksURL,
		ttl:     ttl,
		now:     clock,
		fetch:   fetch,
		limiter: rate.NewLimiter(rate.Limit(fetchRate), 2),
		log:     logger.Named("jwks"),
	}
}

// GetKey returns the public key for the given key ID. A lookup against a
// fresh, populated cache takes only a read lock; a miss or an expired cache
// triggers exactly one refresh fetch regardless of how many goroutines are
// waiting on it.
func (c *KeySetCache) GetKey(ctx context.Context, kid string) (any, error) {
	c.mu.RLock()
	fresh := c.keys != nil && c.now().Sub(c.fetchedAt) < c.ttl
	key, present := c.keys[kid]
	c.mu.RUnlock()

	if fresh && present {
		return key, nil
	}
	// A fresh cache without the kid may mean the provider rotated keys just
	// now; refetch once before giving up.

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	key, present = c.keys[kid]
	c.mu.RUnlock()
	if !present {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	return key, nil
}

// refresh fetches the key set and replaces the cache wholesale. Collapsed via
// singleflight so concurrent callers share one network fetch and its result.
func (c *KeySetCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		if !c.limiter.Allow() {
			return nil, fmt.Errorf("auth: JWKS refresh rate limit exceeded for %s", c.url)
		}

		raw, err := c.fetch(ctx, c.url)
		if err != nil {
			return nil, fmt.Errorf("auth: failed to fetch JWKS from %s: %w", c.url, err)
		}
		keys, err := parseJWKS(raw)
		if err != nil {
			return nil, fmt.Errorf("auth: failed to parse JWKS from %s: %w", c.url, err)
		}

		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = c.now()
		c.mu.Unlock()

		c.log.Debug("JWKS refreshed", zap.Int("keys", len(keys)))
		return nil, nil
	})
	return err
}

// httpFetch returns the default FetchFunc: a GET bounded by the given timeout,
// with the response body capped at 1 MB.
func httpFetch(timeout time.Duration) FetchFunc {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context, jwksURL string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	}
}

// jwksDocument is the JSON structure of a JWKS endpoint response.
type jwksDocument struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey is a single key entry. Only the fields needed for RSA and EC key
// reconstruction are included.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// parseJWKS decodes a JWKS document into a kid-keyed map of public keys.
// Malformed individual keys are skipped; an empty result is an error since a
// key set with no usable keys can never verify anything.
func parseJWKS(raw []byte) (map[string]any, error) {
	var doc jwksDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	keys := make(map[string]any, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pub, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue
			}
			keys[k.Kid] = pub
		case "EC":
			pub, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue
			}
			keys[k.Kid] = pub
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("no usable keys in JWKS document")
	}
	return keys, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || e.Sign() <= 0 {
		return nil, errors.New("non-positive RSA parameters")
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded x and y coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
