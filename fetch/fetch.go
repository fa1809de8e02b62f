// Package fetch retrieves content from arbitrary URLs.
//
// Open issues a single GET and returns once response headers arrive, so the
// caller can inspect type and length before committing to the body.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/pithecene-io/tgdrop/iox"
	"github.com/pithecene-io/tgdrop/types"
)

// DefaultTimeout bounds how long a fetch may wait for response headers.
const DefaultTimeout = 60 * time.Second

// Config configures a Fetcher.
type Config struct {
	// Timeout bounds the wait for response headers (default 60s).
	// The body is bounded only by the caller's context.
	Timeout time.Duration
	// Rate limits requests per second across all callers. Zero disables limiting.
	Rate float64
	// Burst is the limiter burst size (default 1).
	Burst int
	// UserAgent is sent on every request when non-empty.
	UserAgent string
	// Proxy chooses an outbound proxy per request, as http.Transport.Proxy.
	// Nil uses the environment (HTTP_PROXY and friends).
	Proxy func(*http.Request) (*url.URL, error)
	// Client overrides the HTTP client. Mainly for tests.
	Client *http.Client
}

// Fetcher performs URL GETs. Safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// Response is an open GET whose headers have been read.
type Response struct {
	// URL is the final URL after redirects.
	URL string
	// MimeType is the media type without parameters, lowercased. Empty if absent.
	MimeType string
	// ContentLength is nil when the server did not declare a length.
	ContentLength *int64
	// Body must be closed by the caller.
	Body io.ReadCloser
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	client := cfg.Client
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = cfg.Timeout
		if cfg.Proxy != nil {
			transport.Proxy = cfg.Proxy
		}
		client = &http.Client{Transport: transport}
	}

	return &Fetcher{
		client:    client,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		userAgent: cfg.UserAgent,
	}
}

// Open sends a GET for rawURL and returns the response with its body unread.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (*Response, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch: rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		iox.DiscardClose(resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}

	out := &Response{
		URL:      resp.Request.URL.String(),
		MimeType: mediaType(resp.Header.Get("Content-Type")),
		Body:     resp.Body,
	}
	if resp.ContentLength >= 0 {
		n := resp.ContentLength
		out.ContentLength = &n
	}
	return out, nil
}

// Metadata returns the remote metadata view of the response.
func (r *Response) Metadata() types.RemoteFileMetadata {
	return types.RemoteFileMetadata{SourcePath: r.URL, Size: r.ContentLength}
}

// CloseIdleConnections releases pooled connections.
func (f *Fetcher) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mt
}
