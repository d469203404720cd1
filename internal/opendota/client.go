package opendota

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the public OpenDota API root
	DefaultBaseURL = "https://api.opendota.com/api"

	// Free tier allows 60 calls/min; stay under it
	DefaultRequestsPerMinute = 55

	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "dota-ingest/1.0"
)

// Client is a rate-limited OpenDota API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client

	// Rate limiting
	mu                sync.Mutex
	requestsPerMinute int
	window            []time.Time // Requests in the last minute
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing)
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithAPIKey sets the api_key query parameter sent with API requests
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRequestsPerMinute sets the client-side pacing limit. Zero disables pacing.
func WithRequestsPerMinute(n int) Option {
	return func(c *Client) {
		c.requestsPerMinute = n
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a new OpenDota client
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		requestsPerMinute: DefaultRequestsPerMinute,
		window:            make([]time.Time, 0),
	}

	for _, opt := range opts {
		opt(c)
	}

	if len(c.apiKey) > 10 {
		log.Printf("[OpenDota] Using API key: %s...%s", c.apiKey[:4], c.apiKey[len(c.apiKey)-4:])
	}

	return c
}

// waitForRateLimit blocks until another request fits in the window or ctx is done
func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.requestsPerMinute <= 0 {
		return nil
	}

	for {
		c.mu.Lock()

		now := time.Now()
		oneMinuteAgo := now.Add(-time.Minute)

		kept := c.window[:0]
		for _, t := range c.window {
			if t.After(oneMinuteAgo) {
				kept = append(kept, t)
			}
		}
		c.window = kept

		if len(c.window) < c.requestsPerMinute {
			c.window = append(c.window, now)
			c.mu.Unlock()
			return nil
		}

		waitTime := c.window[0].Add(time.Minute).Sub(now) + 100*time.Millisecond
		c.mu.Unlock()

		log.Printf("[OpenDota] Rate limit: %d req/min, waiting %.1fs...", c.requestsPerMinute, waitTime.Seconds())
		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Open issues a GET and returns the response body for streaming, along with the
// advertised content length (-1 if unknown). The caller must close the body.
// Any non-2xx status is returned as a *TransportError.
func (c *Client) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, 0, fmt.Errorf("%q: %w", redact(rawURL), ErrInvalidURL)
	}
	display := redact(rawURL)

	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, 0, classify(display, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, classify(display, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, 0, &TransportError{Kind: KindStatus, StatusCode: resp.StatusCode, URL: display}
	}

	return &classifyingBody{ReadCloser: resp.Body, url: display}, resp.ContentLength, nil
}

// Fetch issues a GET and returns the full response body
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	body, _, err := c.Open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// endpoint builds an API URL from a path and query, adding the API key if set
func (c *Client) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if c.apiKey != "" {
		query.Set("api_key", c.apiKey)
	}
	u := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// classifyingBody turns body read failures (e.g. a timeout after partial
// delivery) into *TransportError
type classifyingBody struct {
	io.ReadCloser
	url string
}

func (b *classifyingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		return n, classify(b.url, err)
	}
	return n, err
}

// redact hides the api_key query parameter so URLs can be logged
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Get("api_key") == "" {
		return rawURL
	}
	q.Set("api_key", "REDACTED")
	u.RawQuery = q.Encode()
	return u.String()
}
