// Package jwks fetches and exposes an issuer's JSON Web Key Set.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

// ErrFetchFailed indicates the key set could not be retrieved or decoded.
var ErrFetchFailed = errors.New("jwks: fetch failed")

// WellKnownPath is where issuers publish their key set.
const WellKnownPath = "/.well-known/jwks.json"

// Key is the minimal record kept for each published key.
type Key struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// KeySet mirrors the {"keys": [...]} document.
type KeySet struct {
	Keys []Key `json:"keys"`
}

// Provider returns the current signing key set.
type Provider interface {
	KeySet(ctx context.Context) (*KeySet, error)
}

// Refresher is implemented by providers that may serve a stale set and can
// be asked to bypass it.
type Refresher interface {
	Refresh(ctx context.Context) (*KeySet, error)
}

// Lookup scans the set for kid and returns a copy of the matching record.
func (s *KeySet) Lookup(kid string) (Key, bool) {
	if s == nil {
		return Key{}, false
	}
	for _, k := range s.Keys {
		if k.Kid == kid {
			return Key{Kty: k.Kty, Kid: k.Kid, Use: k.Use, Alg: k.Alg, N: k.N, E: k.E}, true
		}
	}
	return Key{}, false
}

// PublicKey decodes the modulus and exponent into an RSA public key.
func (k Key) PublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("jwks: unsupported key type %q", k.Kty)
	}
	if k.Use != "" && k.Use != "sig" {
		return nil, fmt.Errorf("jwks: key %q is not a signing key (use=%q)", k.Kid, k.Use)
	}
	raw, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("jwks: invalid key %q: %w", k.Kid, err)
	}
	pub, ok := jwk.Key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwks: key %q is not an RSA public key", k.Kid)
	}
	return pub, nil
}

// Decode parses a JSON Web Key Set document.
func Decode(data []byte) (*KeySet, error) {
	var set KeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("%w: invalid key set document: %v", ErrFetchFailed, err)
	}
	return &set, nil
}

// BaseURL normalizes an issuer domain into an origin. A bare host gets the
// https scheme; values that already carry a scheme are kept as-is.
func BaseURL(domain string) string {
	d := strings.TrimRight(strings.TrimSpace(domain), "/")
	if strings.HasPrefix(d, "https://") || strings.HasPrefix(d, "http://") {
		return d
	}
	return "https://" + d
}

// IssuerURL is the issuer value tokens from domain must carry.
func IssuerURL(domain string) string { return BaseURL(domain) + "/" }

// URLForDomain returns the well-known key set location for domain.
func URLForDomain(domain string) string { return BaseURL(domain) + WellKnownPath }
