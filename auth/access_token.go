package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ggoodman/coffeeshop-go/internal/jwks"
	"github.com/ggoodman/coffeeshop-go/internal/jwtauth"
	"github.com/ggoodman/coffeeshop-go/storage"
)

// AccessTokenAuthOption configures collaborators of the verifier built by
// NewFromConfig. Validation policy lives in SecurityConfig.
type AccessTokenAuthOption func(*accessTokenOptions)

type accessTokenOptions struct {
	client *http.Client
	cache  storage.Storage
	log    *slog.Logger
}

// WithHTTPClient sets the client used for key set fetches and discovery.
func WithHTTPClient(c *http.Client) AccessTokenAuthOption {
	return func(o *accessTokenOptions) { o.client = c }
}

// WithKeySetCache supplies the storage backing the key set cache. It is only
// used when SecurityConfig.CacheTTL is positive.
func WithKeySetCache(s storage.Storage) AccessTokenAuthOption {
	return func(o *accessTokenOptions) { o.cache = s }
}

// WithKeySetLogger sets the logger for key set fetch diagnostics.
func WithKeySetLogger(l *slog.Logger) AccessTokenAuthOption {
	return func(o *accessTokenOptions) { o.log = l }
}

// NewFromConfig builds the key provider and token verifier described by cfg.
// With Discovery set and no JWKSURL, the issuer's OpenID configuration is
// fetched once here to learn jwks_uri.
func NewFromConfig(ctx context.Context, cfg SecurityConfig, opts ...AccessTokenAuthOption) (SecurityProvider, error) {
	o := accessTokenOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	sec := cfg.Copy()
	sec.Normalize()
	if err := sec.Validate(); err != nil {
		return nil, err
	}

	jwksURL := sec.JWKSURL
	switch {
	case jwksURL != "":
	case sec.Discovery:
		u, err := jwks.Discover(ctx, sec.Issuer(), o.client)
		if err != nil {
			return nil, err
		}
		jwksURL = u
	default:
		jwksURL = jwks.URLForDomain(sec.Domain)
	}
	sec.JWKSURL = jwksURL

	var provider jwks.Provider = jwks.NewHTTPProvider(jwksURL,
		jwks.WithHTTPClient(o.client),
		jwks.WithFetchTimeout(sec.FetchTimeout),
		jwks.WithLogger(o.log),
	)
	if sec.CacheTTL > 0 {
		if o.cache == nil {
			return nil, errors.New("security: cache ttl set but no key set cache storage supplied")
		}
		cp, err := jwks.NewCachingProvider(provider, o.cache, sec.Domain, sec.CacheTTL, o.log)
		if err != nil {
			return nil, err
		}
		provider = cp
	}

	jc := jwtauth.DefaultConfig()
	jc.Issuer = sec.Issuer()
	jc.Audience = sec.Audience
	jc.AllowedAlgs = append([]string(nil), sec.AllowedAlgs...)
	jc.Leeway = sec.Leeway
	v, err := jwtauth.New(jc, provider)
	if err != nil {
		return nil, fmt.Errorf("security: %w", err)
	}
	return &adapter{v: v, sec: sec}, nil
}

// adapter wraps the internal verifier to satisfy the public interface.
type adapter struct {
	v   *jwtauth.Verifier
	sec SecurityConfig
}

func (ad *adapter) VerifyToken(ctx context.Context, tok string) (Claims, error) {
	claims, err := ad.v.VerifyToken(ctx, tok)
	if err != nil {
		// Map internal sentinel errors to the public taxonomy.
		return nil, mapVerifyError(err)
	}
	return Claims(claims), nil
}

func (ad *adapter) SecurityConfig() SecurityConfig { return ad.sec.Copy() }
func (ad *adapter) KeySetURL() string              { return ad.sec.JWKSURL }

var verifyErrors = []struct {
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
}

func mapVerifyError(err error) error {
	for _, m := range verifyErrors {
		if errors.Is(err, m.internal) {
			return m.public.Wrap(err)
		}
	}
	return ErrInvalidHeader.Wrap(err)
}
