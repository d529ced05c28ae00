package apple

import (
	"context"
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

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/idbroker/internal/cache"
)

// Apple signs ID tokens with RS256; the JWKS document rotates rarely. Keys
// are cached with a TTL and revalidated with ETag, and concurrent refreshes
// collapse into a single fetch.

const (
	jwksCacheKey = "apple:jwks"
	jwksCacheTTL = time.Hour
)

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"` // base64url modulus
	E   string `json:"e"` // base64url exponent
}

type jwksDoc struct {
	Keys []jwk `json:"keys"`
}

type keySource struct {
	url   string
	http  *http.Client
	cache cache.Cache
	group singleflight.Group

	mu   sync.Mutex
	etag string
}

func newKeySource(url string, hc *http.Client, c cache.Cache) *keySource {
	if c == nil {
		c = cache.NewMemory(jwksCacheTTL)
	}
	return &keySource{url: url, http: hc, cache: c}
}

// rsaKey resolves the public key for a kid, fetching the JWKS if the cache
// misses or the kid is unknown (rotation).
func (k *keySource) rsaKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if b, ok := k.cache.Get(jwksCacheKey); ok {
		if key, err := keyFromDoc(b, kid); err == nil {
			return key, nil
		}
	}
	b, err := k.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return keyFromDoc(b, kid)
}

func (k *keySource) fetch(ctx context.Context) ([]byte, error) {
	v, err, _ := k.group.Do(jwksCacheKey, func() (any, error) {
		// The fetch is shared by every deduplicated waiter; a cancelled
		// first caller must not fail the rest. The HTTP client timeout
		// still bounds it.
		ctx := context.WithoutCancel(ctx)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
		if err != nil {
			return nil, err
		}
		k.mu.Lock()
		if k.etag != "" {
			req.Header.Set("If-None-Match", k.etag)
		}
		k.mu.Unlock()

		resp, err := k.http.Do(req)
		if err != nil {
			return nil, &NetworkError{Op: "jwks fetch", Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotModified {
			if b, ok := k.cache.Get(jwksCacheKey); ok {
				k.cache.Set(jwksCacheKey, b, jwksCacheTTL)
				return b, nil
			}
			// 304 with a cold cache: drop the etag and refetch next round
			k.mu.Lock()
			k.etag = ""
			k.mu.Unlock()
			return nil, errors.New("jwks not modified but cache empty")
		}
		if resp.StatusCode/100 != 2 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return nil, &ProviderError{Status: resp.StatusCode, Body: string(body)}
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &NetworkError{Op: "jwks read", Err: err}
		}
		k.cache.Set(jwksCacheKey, b, jwksCacheTTL)
		k.mu.Lock()
		k.etag = resp.Header.Get("ETag")
		k.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func keyFromDoc(b []byte, kid string) (*rsa.PublicKey, error) {
	var doc jwksDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("apple: jwks decode: %w", err)
	}
	for _, k := range doc.Keys {
		if k.Kid != kid || k.Kty != "RSA" {
			continue
		}
		nb, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("apple: jwks modulus: %w", err)
		}
		eb, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("apple: jwks exponent: %w", err)
		}
		e := 0
		for _, x := range eb {
			e = e<<8 | int(x)
		}
		if e == 0 {
			e = 65537
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
	}
	return nil, fmt.Errorf("apple: jwks: kid %q not found", kid)
}
