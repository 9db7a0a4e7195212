// Package httpclient provides an HTTP client instrumented with the o11y package, it
// includes resiliency behaviour such as configurable timeouts, retries, authentication
// and connection pooling, with support for backing off when a 429 response code is seen.
//
// The transport is pluggable, so a client can run over a recorder.Transport and have its
// calls recorded or replayed.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/http/httpproxy"

	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/recorder"
)

const (
	// defaultAttemptTimeout applies to each attempt of a Request without a Timeout.
	defaultAttemptTimeout = 5 * time.Second
	// serverBackoff is how long calls are refused after a 429 without a Retry-After header.
	serverBackoff = 10 * time.Second
)

type Config struct {
	// Name identifies the client in spans and metrics.
	Name string
	// BaseURL is the scheme, host and optional path prefix every route is appended to.
	BaseURL string
	// AuthHeader names the header AuthToken is sent in. When empty the token is sent as a
	// bearer token in the Authorization header.
	AuthHeader string
	AuthToken  string
	// AcceptType sets the Accept header when not empty.
	AcceptType string
	// Timeout bounds a call including all its retries. Zero retries indefinitely.
	Timeout time.Duration
	// MaxConnectionsPerHost sizes the pool of the default transport, 10 when zero.
	MaxConnectionsPerHost int
	// Transport replaces the default transport, e.g. with a recorder.Transport wrapping
	// DefaultTransport.
	Transport http.RoundTripper
}

// Client is the o11y instrumented http client.
type Client struct {
	cfg  Config
	http *http.Client

	mu           sync.RWMutex
	backoffUntil time.Time

	now func() time.Time
}

func New(cfg Config) *Client {
	t := cfg.Transport
	if t == nil {
		t = DefaultTransport(cfg.MaxConnectionsPerHost)
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: t},
		now:  time.Now,
	}
}

// DefaultTransport returns a pooled transport. Proxy settings are read from the environment
// on every request rather than once per process, so tests can change them.
func DefaultTransport(maxConnsPerHost int) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if maxConnsPerHost == 0 {
		maxConnsPerHost = 10
	}
	t.MaxConnsPerHost = maxConnsPerHost
	t.MaxIdleConnsPerHost = maxConnsPerHost
	t.Proxy = func(req *http.Request) (*url.URL, error) {
		return httpproxy.FromEnvironment().ProxyFunc()(req.URL)
	}
	return t
}

// CloseIdleConnections closes pooled connections, tests use it to avoid leaking them.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

// Call sends r, retrying while the server answers 5xx or cannot be reached, with a span per
// attempt. A non 2xx response ends in an *HTTPError. A replay miss is never retried, since
// the cassette will not change between attempts.
func (c *Client) Call(ctx context.Context, r Request) error {
	p, err := c.prepare(r)
	if err != nil {
		return err
	}

	n := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = c.cfg.Timeout
	err = backoff.Retry(func() error {
		n++
		return c.attempt(ctx, p, n)
	}, backoff.WithContext(bo, ctx))

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		httpErr.final = true
	}
	return err
}

func (c *Client) attempt(ctx context.Context, p *prepared, n int) (err error) {
	ctx, span := o11y.StartSpan(ctx, fmt.Sprintf("httpclient: %s %s", c.cfg.Name, p.route))
	defer o11y.End(span, &err)

	if until, ok := c.backingOff(); ok {
		span.AddRawField("http.backoff_until", until)
		return backoff.Permanent(ErrServerBackoff)
	}

	timeout := p.timeout
	if timeout == 0 {
		timeout = defaultAttemptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := p.build(ctx)
	if err != nil {
		return backoff.Permanent(err)
	}

	span.RecordMetric(o11y.Timing("httpclient",
		"http.client_name", "http.route", "http.method", "http.status_code", "http.retry"))
	for k, v := range map[string]interface{}{
		"meta.type":                   "http_client",
		"span.kind":                   "Client",
		"http.client_name":            c.cfg.Name,
		"http.route":                  p.route,
		"http.base_url":               c.cfg.BaseURL,
		"http.scheme":                 req.URL.Scheme,
		"http.host":                   req.URL.Host,
		"http.target":                 req.URL.Path,
		"http.method":                 req.Method,
		"http.attempt":                n,
		"http.retry":                  n > 1,
		"http.user_agent":             req.UserAgent(),
		"http.request_content_length": req.ContentLength,
	} {
		span.AddRawField(k, v)
	}

	res, err := c.http.Do(req)
	if err != nil {
		// url errors repeat the method and url, which clutters metrics and logging
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		err = fmt.Errorf("call: %s %s failed with: %w after %d attempt(s)", req.Method, p.route, err, n)
		if recorder.IsCassetteMiss(err) || errors.Is(err, recorder.ErrNoActiveCassette) {
			return backoff.Permanent(err)
		}
		return err
	}
	defer func() {
		// drain what is left so the connection can be reused
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()

	span.AddRawField("http.status_code", res.StatusCode)
	if v := res.Header.Get("Content-Length"); v != "" {
		span.AddRawField("http.response_content_length", v)
	}
	if v := res.Header.Get("Content-Type"); v != "" {
		span.AddRawField("http.response_content_type", v)
	}
	if res.Header.Get(recorder.ReplayedHeader) != "" {
		span.AddRawField("http.replayed", true)
	}

	if err := statusError(req.Method, p.route, res.StatusCode, n); err != nil {
		if res.StatusCode == http.StatusTooManyRequests {
			c.backoffFor(retryAfter(res.Header.Get("Retry-After")))
		}
		return err
	}
	if p.decoder == nil {
		return nil
	}
	if err := p.decoder(res.Body); err != nil {
		return backoff.Permanent(fmt.Errorf("call: %s %s decoding failed with: %w after %d attempt(s)",
			req.Method, p.route, err, n))
	}
	return nil
}

func (c *Client) backingOff() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backoffUntil, c.now().Before(c.backoffUntil)
}

func (c *Client) backoffFor(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoffUntil = c.now().Add(d)
}

// retryAfter reads a Retry-After header given in seconds. Dates are not supported.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return serverBackoff
	}
	return time.Duration(secs) * time.Second
}
