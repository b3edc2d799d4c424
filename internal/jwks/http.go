package jwks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultFetchTimeout bounds a single key set fetch.
const DefaultFetchTimeout = 5 * time.Second

// maxDocumentSize caps the key set body we are willing to read.
const maxDocumentSize = 1 << 20

// HTTPProvider fetches the key set on every call. It holds no state beyond
// its configuration and is safe for concurrent use.
type HTTPProvider struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient overrides the client used for fetches.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithFetchTimeout overrides DefaultFetchTimeout. Non-positive values are ignored.
func WithFetchTimeout(d time.Duration) HTTPOption {
	return func(p *HTTPProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger used for fetch diagnostics.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(p *HTTPProvider) {
		if l != nil {
			p.log = l
		}
	}
}

// NewHTTPProvider returns a provider reading the key set at url.
func NewHTTPProvider(url string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		url:     url,
		client:  http.DefaultClient,
		timeout: DefaultFetchTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// URL returns the key set location.
func (p *HTTPProvider) URL() string { return p.url }

// KeySet performs a GET against the key set URL.
func (p *HTTPProvider) KeySet(ctx context.Context) (*KeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		p.log.WarnContext(ctx, "jwks.fetch.fail", slog.String("url", p.url), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		p.log.WarnContext(ctx, "jwks.fetch.fail", slog.String("url", p.url), slog.Int("status", res.StatusCode))
		return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrFetchFailed, res.StatusCode, p.url)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrFetchFailed, err)
	}

	set, err := Decode(body)
	if err != nil {
		return nil, err
	}
	p.log.DebugContext(ctx, "jwks.fetch.ok", slog.Int("keys", len(set.Keys)), slog.Duration("dur", time.Since(start)))
	return set, nil
}

var _ Provider = (*HTTPProvider)(nil)
