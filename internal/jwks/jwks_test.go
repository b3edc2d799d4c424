package jwks_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggoodman/coffeeshop-go/auth/authtest"
	"github.com/ggoodman/coffeeshop-go/internal/jwks"
	"github.com/ggoodman/coffeeshop-go/storage/memory"
)

func TestURLForDomain(t *testing.T) {
	cases := []struct {
		domain, jwksURL, issuer string
	}{
		{"example.auth0.com", "https://example.auth0.com/.well-known/jwks.json", "https://example.auth0.com/"},
		{"example.auth0.com/", "https://example.auth0.com/.well-known/jwks.json", "https://example.auth0.com/"},
		{"http://127.0.0.1:9999", "http://127.0.0.1:9999/.well-known/jwks.json", "http://127.0.0.1:9999/"},
	}
	for _, tc := range cases {
		if got := jwks.URLForDomain(tc.domain); got != tc.jwksURL {
			t.Errorf("URLForDomain(%q): want %q got %q", tc.domain, tc.jwksURL, got)
		}
		if got := jwks.IssuerURL(tc.domain); got != tc.issuer {
			t.Errorf("IssuerURL(%q): want %q got %q", tc.domain, tc.issuer, got)
		}
	}
}

func TestHTTPProvider_FetchAndLookup(t *testing.T) {
	iss := authtest.NewIssuer(t)
	p := jwks.NewHTTPProvider(iss.JWKSURL())

	set, err := p.KeySet(context.Background())
	if err != nil {
		t.Fatalf("KeySet: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("want 1 key got %d", len(set.Keys))
	}

	key, ok := set.Lookup(iss.KeyID())
	if !ok {
		t.Fatalf("kid %q not found", iss.KeyID())
	}
	if key.Kty != "RSA" || key.Use != "sig" || key.N == "" || key.E == "" {
		t.Fatalf("incomplete key record: %+v", key)
	}

	pub, err := key.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if !pub.Equal(&iss.PrivateKey(iss.KeyID()).PublicKey) {
		t.Fatal("decoded public key does not match issuer key")
	}

	if _, ok := set.Lookup("nope"); ok {
		t.Fatal("lookup of unknown kid should fail")
	}
}

func TestHTTPProvider_FetchesEveryCall(t *testing.T) {
	iss := authtest.NewIssuer(t)
	p := jwks.NewHTTPProvider(iss.JWKSURL())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.KeySet(ctx); err != nil {
			t.Fatalf("KeySet: %v", err)
		}
	}
	if want, got := 3, iss.Fetches(); want != got {
		t.Fatalf("want %d fetches got %d", want, got)
	}
}

func TestHTTPProvider_Failures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		iss := authtest.NewIssuer(t)
		iss.FailWith(http.StatusServiceUnavailable)
		_, err := jwks.NewHTTPProvider(iss.JWKSURL()).KeySet(context.Background())
		if !errors.Is(err, jwks.ErrFetchFailed) {
			t.Fatalf("want ErrFetchFailed got %v", err)
		}
	})

	t.Run("garbage body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>not json</html>"))
		}))
		defer srv.Close()
		_, err := jwks.NewHTTPProvider(srv.URL).KeySet(context.Background())
		if !errors.Is(err, jwks.ErrFetchFailed) {
			t.Fatalf("want ErrFetchFailed got %v", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := jwks.NewHTTPProvider(url).KeySet(context.Background())
		if !errors.Is(err, jwks.ErrFetchFailed) {
			t.Fatalf("want ErrFetchFailed got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		p := jwks.NewHTTPProvider(srv.URL, jwks.WithFetchTimeout(50*time.Millisecond))
		start := time.Now()
		_, err := p.KeySet(context.Background())
		if !errors.Is(err, jwks.ErrFetchFailed) {
			t.Fatalf("want ErrFetchFailed got %v", err)
		}
		if time.Since(start) > 2*time.Second {
			t.Fatalf("fetch was not bounded by the timeout")
		}
	})
}

func TestKeyPublicKey_Rejects(t *testing.T) {
	cases := map[string]jwks.Key{
		"non-rsa":     {Kty: "EC", Kid: "ec"},
		"encryption":  {Kty: "RSA", Kid: "enc", Use: "enc", N: "AQAB", E: "AQAB"},
		"bad modulus": {Kty: "RSA", Kid: "bad", Use: "sig", N: "!!!", E: "AQAB"},
	}
	for name, k := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := k.PublicKey(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	iss := authtest.NewIssuer(t)
	got, err := jwks.Discover(context.Background(), iss.URL(), nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got != iss.JWKSURL() {
		t.Fatalf("want %q got %q", iss.JWKSURL(), got)
	}
}

func TestDiscover_IssuerMismatch(t *testing.T) {
	iss := authtest.NewIssuer(t)
	// Discovery document advertises "<url>/" so asking without the slash fails.
	if _, err := jwks.Discover(context.Background(), iss.Domain(), nil); err == nil {
		t.Fatal("expected issuer mismatch error")
	}
}

func TestCachingProvider(t *testing.T) {
	iss := authtest.NewIssuer(t)
	store, err := memory.New(16)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer store.Close()

	cp, err := jwks.NewCachingProvider(jwks.NewHTTPProvider(iss.JWKSURL()), store, iss.Domain(), time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCachingProvider: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		set, err := cp.KeySet(ctx)
		if err != nil {
			t.Fatalf("KeySet: %v", err)
		}
		if _, ok := set.Lookup(iss.KeyID()); !ok {
			t.Fatal("cached set lost the current key")
		}
	}
	if want, got := 1, iss.Fetches(); want != got {
		t.Fatalf("want %d fetch got %d", want, got)
	}

	kid := iss.Rotate(t)
	set, err := cp.KeySet(ctx)
	if err != nil {
		t.Fatalf("KeySet: %v", err)
	}
	if _, ok := set.Lookup(kid); ok {
		t.Fatal("cached set should not know the rotated key yet")
	}

	set, err = cp.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := set.Lookup(kid); !ok {
		t.Fatal("refresh should pick up the rotated key")
	}
	if want, got := 2, iss.Fetches(); want != got {
		t.Fatalf("want %d fetches got %d", want, got)
	}
}

func TestCachingProvider_DoesNotCacheFailures(t *testing.T) {
	iss := authtest.NewIssuer(t)
	store, _ := memory.New(16)
	defer store.Close()
	cp, err := jwks.NewCachingProvider(jwks.NewHTTPProvider(iss.JWKSURL()), store, "k", time.Minute, nil)
	if err != nil {
		t.Fatalf("NewCachingProvider: %v", err)
	}

	iss.FailWith(http.StatusBadGateway)
	if _, err := cp.KeySet(context.Background()); !errors.Is(err, jwks.ErrFetchFailed) {
		t.Fatalf("want ErrFetchFailed got %v", err)
	}
	iss.FailWith(0)
	if _, err := cp.KeySet(context.Background()); err != nil {
		t.Fatalf("KeySet after recovery: %v", err)
	}
}

func TestNewCachingProvider_Validation(t *testing.T) {
	store, _ := memory.New(1)
	defer store.Close()
	p := jwks.NewHTTPProvider("http://unused")

	if _, err := jwks.NewCachingProvider(nil, store, "k", time.Minute, nil); err == nil {
		t.Error("nil provider should fail")
	}
	if _, err := jwks.NewCachingProvider(p, nil, "k", time.Minute, nil); err == nil {
		t.Error("nil storage should fail")
	}
	if _, err := jwks.NewCachingProvider(p, store, "k", 0, nil); err == nil {
		t.Error("zero ttl should fail")
	}
	if _, err := jwks.NewCachingProvider(p, store, "k", jwks.MaxCacheTTL+time.Second, nil); err == nil {
		t.Error("ttl above MaxCacheTTL should fail")
	}
	if _, err := jwks.NewCachingProvider(p, store, "k", jwks.MaxCacheTTL, nil); err != nil {
		t.Errorf("ttl at MaxCacheTTL: %v", err)
	}
}
