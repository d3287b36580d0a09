// Package jwks fetches and caches the RSA signing keys an OIDC issuer
// publishes at its JWKS endpoint.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownKey is returned when no published key matches the token's kid.
var ErrUnknownKey = errors.New("no matching signing key")

// minRefetch bounds how often an unknown kid can trigger a fetch.
const minRefetch = 30 * time.Second

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type KeySet struct {
	url     string
	client  *http.Client
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

// New creates a key set for url. Keys are refetched after ttl, or earlier
// when a token names a kid that is not cached.
func New(url string, ttl time.Duration, logger *zap.Logger) *KeySet {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &KeySet{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		keys:   map[string]*rsa.PublicKey{},
	}
}

// Key returns the public key for kid. An empty kid matches the only key
// when exactly one is published.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	key, ok := k.lookup(kid)
	fetched := k.fetched
	k.mu.RUnlock()

	age := k.now().Sub(fetched)
	if ok && age < k.ttl {
		return key, nil
	}
	if !ok && !fetched.IsZero() && age < minRefetch {
		return nil, ErrUnknownKey
	}

	if err := k.refresh(ctx); err != nil {
		if ok {
			k.logger.Warn("JWKS refresh failed, using cached key", zap.Error(err))
			return key, nil
		}
		return nil, err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if key, ok := k.lookup(kid); ok {
		return key, nil
	}
	return nil, ErrUnknownKey
}

func (k *KeySet) lookup(kid string) (*rsa.PublicKey, bool) {
	if kid == "" && len(k.keys) == 1 {
		for _, key := range k.keys {
			return key, true
		}
	}
	key, ok := k.keys[kid]
	return key, ok
}

func (k *KeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, key := range set.Keys {
		if key.Kty != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		pub, err := parseJWK(key.N, key.E)
		if err != nil {
			k.logger.Warn("Skipping unparsable JWK", zap.String("kid", key.Kid), zap.Error(err))
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("no suitable RSA signing key found")
	}

	k.mu.Lock()
	k.keys = keys
	k.fetched = k.now()
	k.mu.Unlock()

	k.logger.Debug("JWKS refreshed", zap.Int("keys", len(keys)))
	return nil
}

func parseJWK(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
