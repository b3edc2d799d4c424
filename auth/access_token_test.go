package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ggoodman/coffeeshop-go/auth/authtest"
	"github.com/ggoodman/coffeeshop-go/internal/jwtauth"
	"github.com/ggoodman/coffeeshop-go/storage/memory"
)

func TestNewFromConfig_Validation(t *testing.T) {
	ctx := context.Background()
	cases := map[string]SecurityConfig{
		"missing domain":     {Audience: "a"},
		"missing audience":   {Domain: "tenant.auth0.com"},
		"hmac algorithm":     {Domain: "tenant.auth0.com", Audience: "a", AllowedAlgs: []string{"HS256"}},
		"negative leeway":    {Domain: "tenant.auth0.com", Audience: "a", Leeway: -time.Second},
		"cache w/o store":    {Domain: "tenant.auth0.com", Audience: "a", CacheTTL: time.Minute},
		"cache ttl too long": {Domain: "tenant.auth0.com", Audience: "a", CacheTTL: time.Hour},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewFromConfig(ctx, cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewFromConfig_Resolution(t *testing.T) {
	ctx := context.Background()

	sp, err := NewFromConfig(ctx, SecurityConfig{Domain: "tenant.auth0.com", Audience: "CoffeeShopApp"})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if got := sp.KeySetURL(); got != "https://tenant.auth0.com/.well-known/jwks.json" {
		t.Fatalf("default jwks url: %q", got)
	}
	sec := sp.SecurityConfig()
	if sec.Issuer() != "https://tenant.auth0.com/" {
		t.Fatalf("issuer: %q", sec.Issuer())
	}
	if len(sec.AllowedAlgs) != 1 || sec.AllowedAlgs[0] != "RS256" {
		t.Fatalf("algs: %v", sec.AllowedAlgs)
	}
	sec.AllowedAlgs[0] = "mutated"
	if sp.SecurityConfig().AllowedAlgs[0] != "RS256" {
		t.Fatal("SecurityConfig must return a copy")
	}

	sp, err = NewFromConfig(ctx, SecurityConfig{Domain: "tenant.auth0.com", Audience: "a", JWKSURL: "https://keys.example/jwks"})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if got := sp.KeySetURL(); got != "https://keys.example/jwks" {
		t.Fatalf("override ignored: %q", got)
	}
}

func TestNewFromConfig_Discovery(t *testing.T) {
	iss := authtest.NewIssuer(t)
	sp, err := NewFromConfig(context.Background(), SecurityConfig{Domain: iss.Domain(), Audience: authtest.DefaultAudience, Discovery: true})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if sp.KeySetURL() != iss.JWKSURL() {
		t.Fatalf("want %q got %q", iss.JWKSURL(), sp.KeySetURL())
	}
	claims, err := sp.VerifyToken(context.Background(), iss.Mint(t, iss.Claims(authtest.DefaultAudience, "get:drinks-detail")))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := claims.Permissions(); len(got) != 1 || got[0] != "get:drinks-detail" {
		t.Fatalf("permissions: %v", got)
	}
}

func TestNewFromConfig_KeySetCache(t *testing.T) {
	iss := authtest.NewIssuer(t)
	store, err := memory.New(8)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	defer store.Close()

	sp, err := NewFromConfig(context.Background(),
		SecurityConfig{Domain: iss.Domain(), Audience: authtest.DefaultAudience, CacheTTL: time.Minute},
		WithKeySetCache(store),
	)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := sp.VerifyToken(context.Background(), iss.Mint(t, iss.Claims(authtest.DefaultAudience))); err != nil {
			t.Fatalf("verify: %v", err)
		}
	}
	if n := iss.Fetches(); n != 1 {
		t.Fatalf("want 1 fetch with cache enabled, got %d", n)
	}
}

func TestVerifyToken_ErrorMapping(t *testing.T) {
	tests := []struct {
		internal error
		public   *Error
	}{
		{jwtauth.ErrInvalidToken, ErrInvalidToken},
		{jwtauth.ErrMissingKeyID, ErrMissingKeyID},
		{jwtauth.ErrKeyFetch, ErrKeyFetchFailed},
		{jwtauth.ErrKeyNotFound, ErrKeyNotFound},
		{jwtauth.ErrInvalidSignature, ErrInvalidSignature},
		{jwtauth.ErrTokenExpired, ErrTokenExpired},
		{jwtauth.ErrInvalidClaims, ErrInvalidClaims},
		{jwtauth.ErrInvalidHeader, ErrInvalidHeader},
		{errors.New("anything else"), ErrInvalidHeader},
	}
	for _, tt := range tests {
		t.Run(tt.public.Code, func(t *testing.T) {
			err := mapVerifyError(fmt.Errorf("%w: detail", tt.internal))
			if !errors.Is(err, tt.public) {
				t.Fatalf("want %s, got %v", tt.public.Code, err)
			}
			if !errors.Is(err, tt.internal) {
				t.Fatal("internal cause should stay reachable")
			}
		})
	}
}

func TestSecurityConfig_Normalize(t *testing.T) {
	c := SecurityConfig{Domain: " tenant.auth0.com ", Audience: " CoffeeShopApp", AllowedAlgs: []string{" RS256 ", ""}}
	c.Normalize()
	if c.Domain != "tenant.auth0.com" || c.Audience != "CoffeeShopApp" {
		t.Fatalf("trim: %+v", c)
	}
	if len(c.AllowedAlgs) != 1 || c.AllowedAlgs[0] != "RS256" {
		t.Fatalf("algs: %v", c.AllowedAlgs)
	}
	if c.FetchTimeout != 5*time.Second {
		t.Fatalf("fetch timeout default: %v", c.FetchTimeout)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
