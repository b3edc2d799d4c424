// Package authtest provides a fake token issuer for tests: an httptest server
// publishing a JSON Web Key Set (and an OpenID discovery document) backed by
// freshly generated RSA keys, plus helpers to mint signed tokens.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultAudience is the audience used by Claims.
const DefaultAudience = "CoffeeShopApp"

// Issuer is a fake authorization server.
type Issuer struct {
	Server *httptest.Server

	mu      sync.Mutex
	keys    map[string]*rsa.PrivateKey
	order   []string
	current string
	status  int
	fetches int
}

// NewIssuer starts an issuer with a single signing key. The server is closed
// when the test finishes.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	iss := &Issuer{keys: map[string]*rsa.PrivateKey{}}
	iss.Rotate(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/jwks.json", iss.handleJWKS)
	mux.HandleFunc("GET /.well-known/openid-configuration", iss.handleDiscovery)
	iss.Server = httptest.NewServer(mux)
	t.Cleanup(iss.Server.Close)
	return iss
}

// Domain is the value to configure as the issuer domain.
func (i *Issuer) Domain() string { return i.Server.URL }

// URL is the issuer claim value ("<domain>/").
func (i *Issuer) URL() string { return i.Server.URL + "/" }

// JWKSURL is the published key set location.
func (i *Issuer) JWKSURL() string { return i.Server.URL + "/.well-known/jwks.json" }

// KeyID returns the kid of the current signing key.
func (i *Issuer) KeyID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// Fetches reports how many times the key set was served.
func (i *Issuer) Fetches() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fetches
}

// FailWith makes the key set endpoint answer with status. Zero restores
// normal behavior.
func (i *Issuer) FailWith(status int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = status
}

// Rotate adds a new signing key and makes it current. Older keys stay
// published until Retire is called.
func (i *Issuer) Rotate(t testing.TB) string {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	kid := fmt.Sprintf("test-key-%d", len(i.order)+1)
	i.keys[kid] = pk
	i.order = append(i.order, kid)
	i.current = kid
	return kid
}

// Retire stops publishing kid. Tokens can still be minted with it through
// MintWithKey.
func (i *Issuer) Retire(kid string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for n, k := range i.order {
		if k == kid {
			i.order = append(i.order[:n], i.order[n+1:]...)
			break
		}
	}
}

// PrivateKey returns the private key for kid.
func (i *Issuer) PrivateKey(kid string) *rsa.PrivateKey {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.keys[kid]
}

// Claims returns a valid claim set for aud carrying perms, expiring in an hour.
func (i *Issuer) Claims(aud string, perms ...string) jwt.MapClaims {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": i.URL(),
		"sub": "auth0|test-user",
		"aud": aud,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if perms != nil {
		list := make([]any, 0, len(perms))
		for _, p := range perms {
			list = append(list, p)
		}
		claims["permissions"] = list
	}
	return claims
}

// Mint signs claims with the current key using RS256.
func (i *Issuer) Mint(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	kid := i.KeyID()
	return i.MintWithKey(t, kid, claims)
}

// MintWithKey signs claims with the key registered under kid and sets that
// kid in the header.
func (i *Issuer) MintWithKey(t testing.TB, kid string, claims jwt.MapClaims) string {
	t.Helper()
	pk := i.PrivateKey(kid)
	if pk == nil {
		t.Fatalf("unknown kid %q", kid)
	}
	return Sign(t, jwt.SigningMethodRS256, pk, kid, claims)
}

// Sign signs claims with an arbitrary method and key. An empty kid omits the
// header entirely.
func Sign(t testing.TB, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// KeySetJSON renders the published key set.
func (i *Issuer) KeySetJSON() ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{}
	for _, kid := range i.order {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       &i.keys[kid].PublicKey,
			KeyID:     kid,
			Algorithm: "RS256",
			Use:       "sig",
		})
	}
	return json.Marshal(set)
}

func (i *Issuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	i.mu.Lock()
	i.fetches++
	status := i.status
	i.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	b, err := i.KeySetJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (i *Issuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                i.URL(),
		"jwks_uri":                              i.JWKSURL(),
		"authorization_endpoint":                i.URL() + "authorize",
		"token_endpoint":                        i.URL() + "oauth/token",
		"response_types_supported":              []string{"code"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}
