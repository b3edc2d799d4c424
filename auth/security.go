package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ggoodman/coffeeshop-go/internal/jwks"
)

// SecurityConfig describes how this resource validates bearer tokens. A zero
// value is invalid; populate Domain and Audience, then call Normalize and
// Validate (NewFromConfig does both).
type SecurityConfig struct {
	// Domain is the authorization server host, e.g. "tenant.auth0.com". A
	// full URL is accepted for non-TLS development issuers.
	Domain   string
	Audience string

	AllowedAlgs []string // default: ["RS256"]

	// JWKSURL overrides the key set location. When empty it is resolved via
	// OIDC discovery if Discovery is set, else the well-known path on Domain.
	JWKSURL   string
	Discovery bool

	Leeway       time.Duration // clock skew tolerance (default 0)
	FetchTimeout time.Duration // default jwks.DefaultFetchTimeout
	// CacheTTL enables the key set cache when positive. Requires a store
	// passed through WithKeySetCache. A key retired by the issuer keeps
	// verifying for up to CacheTTL, so it is capped at jwks.MaxCacheTTL.
	CacheTTL time.Duration
}

// Issuer is the exact "iss" value tokens must carry.
func (c SecurityConfig) Issuer() string { return jwks.IssuerURL(c.Domain) }

// Normalize fills defaults.
func (c *SecurityConfig) Normalize() {
	c.Domain = strings.TrimSpace(c.Domain)
	c.Audience = strings.TrimSpace(c.Audience)
	algs := c.AllowedAlgs[:0:0]
	for _, a := range c.AllowedAlgs {
		if a = strings.TrimSpace(a); a != "" {
			algs = append(algs, a)
		}
	}
	c.AllowedAlgs = algs
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = jwks.DefaultFetchTimeout
	}
}

// Validate returns an error if required invariants are not met.
func (c SecurityConfig) Validate() error {
	if c.Domain == "" {
		return errors.New("security: domain required")
	}
	if c.Audience == "" {
		return errors.New("security: audience required")
	}
	if c.Leeway < 0 {
		return errors.New("security: leeway must not be negative")
	}
	if c.CacheTTL < 0 {
		return errors.New("security: cache ttl must not be negative")
	}
	if c.CacheTTL > jwks.MaxCacheTTL {
		return fmt.Errorf("security: cache ttl must not exceed %s", jwks.MaxCacheTTL)
	}
	return nil
}

// Copy returns a deep copy safe for mutation by the caller.
func (c SecurityConfig) Copy() SecurityConfig {
	dup := c
	dup.AllowedAlgs = append([]string(nil), c.AllowedAlgs...)
	return dup
}

// SecurityDescriptor exposes security configuration for handlers to advertise.
type SecurityDescriptor interface {
	SecurityConfig() SecurityConfig
	// KeySetURL is the resolved JWKS location.
	KeySetURL() string
}

// SecurityProvider combines validation + descriptor. Returned by constructors.
type SecurityProvider interface {
	TokenVerifier
	SecurityDescriptor
}
