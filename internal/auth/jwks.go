package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/fedgraph/fedgraph/internal/cache"
)

// ErrKeyNotFound reports a kid absent from a fetched key set.
var ErrKeyNotFound = errors.New("auth: key not found in remote key set")

// keySet fetches and caches the RSA keys of a remote JWKS endpoint.
//
// Keys are refreshed in the background once past the fresh window; the
// previously fetched set keeps serving requests for a long stale window,
// so a flaky key endpoint degrades gracefully instead of failing auth.
type keySet struct {
	url    string
	client *http.Client
	loader *cache.Loader[map[string]*rsa.PublicKey]
}

func newKeySet(url string, client *http.Client) *keySet {
	ks := &keySet{url: url, client: client}
	ks.loader = cache.NewLoader(
		func(ctx context.Context, _ string) (map[string]*rsa.PublicKey, error) {
			return ks.fetch(ctx)
		},
		cache.WithFreshFor(time.Hour),
		cache.WithStaleFor(24*time.Hour),
	)
	return ks
}

// get returns the key for kid. With an empty kid and exactly one key in
// the set, that key is returned.
func (ks *keySet) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	keys, err := ks.loader.Get(ctx, ks.url)
	if err != nil {
		return nil, err
	}
	if kid == "" {
		if len(keys) == 1 {
			for _, key := range keys {
				return key, nil
			}
		}
		return nil, ErrKeyNotFound
	}
	key, ok := keys[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

func (ks *keySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch key set: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, k := range body.Keys {
		if k.Kty != "RSA" {
			continue
		}
		key, err := k.rsaPublicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = key
	}
	if len(keys) == 0 {
		return nil, errors.New("key set contains no usable RSA keys")
	}
	return keys, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k jwk) rsaPublicKey() (*rsa.PublicKey, error) {
	if k.N == "" || k.E == "" {
		return nil, errors.New("missing n or e parameter")
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
