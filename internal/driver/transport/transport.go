// Package transport builds the shared HTTP client real driver
// implementations use to talk to their servers: a bounded timeout, optional
// TLS hostname-verification bypass, and light outbound rate limiting.
// Adapted from the teacher's internal/httputil, generalized with the
// pacing internal/tmdb.Client already applies to its own outbound calls.
package transport

import (
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout is the minimum per-request timeout spec §5 requires for
// driver transports.
const DefaultTimeout = 120 * time.Second

// MaxResponseBody caps how much of a response body callers should read.
const MaxResponseBody = 8 << 20 // 8 MiB

// Options configures a driver's HTTP client.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	// RateLimit, if positive, bounds outbound requests per second. Zero
	// disables rate limiting.
	RateLimit float64
	RateBurst int
}

// Client wraps *http.Client with an optional outbound rate limiter.
type Client struct {
	HTTP    *http.Client
	limiter *rate.Limiter
}

// New builds a Client from opts, filling in defaults for zero values.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{}
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c := &Client{
		HTTP: &http.Client{Timeout: timeout, Transport: transport},
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// Do waits for rate-limiter permission (if configured) and issues req.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return c.HTTP.Do(req)
}

// DrainBody discards and closes resp.Body so the connection can be reused.
func DrainBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseBody))
		resp.Body.Close()
	}
}
