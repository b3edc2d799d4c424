package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/coffeeshop-go/internal/jwks"
)

// Config controls validation behavior for access tokens.
type Config struct {
	// Issuer is the exact value the "iss" claim must carry, including the
	// trailing slash Auth0 issues.
	Issuer string
	// Audience must be present in the "aud" claim.
	Audience    string
	AllowedAlgs []string
	Leeway      time.Duration
	// Now overrides the verification clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config restricted to RS256 with no clock skew.
func DefaultConfig() *Config {
	return &Config{AllowedAlgs: []string{"RS256"}}
}

// Sentinels classifying verification failures. Callers match them with
// errors.Is; the returned errors wrap the underlying cause.
var (
	ErrInvalidToken     = errors.New("jwtauth: invalid token")
	ErrMissingKeyID     = errors.New("jwtauth: missing kid")
	ErrKeyFetch         = errors.New("jwtauth: key set fetch failed")
	ErrKeyNotFound      = errors.New("jwtauth: key not found")
	ErrInvalidSignature = errors.New("jwtauth: invalid signature")
	ErrTokenExpired     = errors.New("jwtauth: token expired")
	ErrInvalidClaims    = errors.New("jwtauth: invalid claims")
	ErrInvalidHeader    = errors.New("jwtauth: unable to verify token")
)

// Verifier validates RS256 access tokens against the key set served by a
// jwks.Provider. It keeps no per-token state and is safe for concurrent use.
type Verifier struct {
	cfg      Config
	provider jwks.Provider
	parser   *jwt.Parser
}

// New constructs a Verifier. Issuer, audience and provider are required.
func New(cfg *Config, provider jwks.Provider) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if provider == nil {
		return nil, errors.New("key provider is required")
	}
	c := *cfg
	c.AllowedAlgs = append([]string(nil), cfg.AllowedAlgs...)
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	for _, alg := range c.AllowedAlgs {
		if _, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unsupported algorithm %q: only RSA signatures are verified", alg)
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(c.AllowedAlgs),
		jwt.WithIssuer(c.Issuer),
		jwt.WithAudience(c.Audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.Leeway),
	}
	if c.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(c.Now))
	}
	return &Verifier{cfg: c, provider: provider, parser: jwt.NewParser(opts...)}, nil
}

// Config returns a copy of the verifier configuration.
func (v *Verifier) Config() Config {
	c := v.cfg
	c.AllowedAlgs = append([]string(nil), v.cfg.AllowedAlgs...)
	return c
}

// VerifyToken checks tok and returns its claims. The key set is obtained
// from the provider on every call; only the key whose kid matches the token
// header is ever used.
func (v *Verifier) VerifyToken(ctx context.Context, tok string) (jwt.MapClaims, error) {
	unverified, _, err := v.parser.ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, ErrMissingKeyID
	}

	key, err := v.lookup(ctx, kid)
	if err != nil {
		return nil, err
	}
	pub, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, err)
	}

	claims := jwt.MapClaims{}
	_, err = v.parser.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) { return pub, nil })
	if err != nil {
		return nil, classify(err)
	}
	// Parsing only checks exp when present; a token without one never expires,
	// which we refuse.
	if exp, _ := claims.GetExpirationTime(); exp == nil {
		return nil, fmt.Errorf("%w: exp claim is required", ErrTokenExpired)
	}
	return claims, nil
}

func (v *Verifier) lookup(ctx context.Context, kid string) (jwks.Key, error) {
	set, err := v.provider.KeySet(ctx)
	if err != nil {
		return jwks.Key{}, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	if key, ok := set.Lookup(kid); ok {
		return key, nil
	}
	r, ok := v.provider.(jwks.Refresher)
	if !ok {
		return jwks.Key{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}
	set, err = r.Refresh(ctx)
	if err != nil {
		return jwks.Key{}, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	if key, ok := set.Lookup(kid); ok {
		return key, nil
	}
	return jwks.Key{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// classify maps golang-jwt errors onto our sentinels. Order matters: an
// expired token that also fails audience checks reports expiry.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
}
