package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const JSON = "application/json; charset=utf-8"

// Request is one call for a Client to make. Create it with NewRequest.
type Request struct {
	Method string
	// Route is the path pattern, used for span names and metric tags.
	Route string
	// Body is sent JSON encoded.
	Body interface{}
	// RawBody is sent as is, set its Content-Type in Headers.
	RawBody []byte
	// Decoder reads a 2xx response body.
	Decoder Decoder
	Cookie  *http.Cookie
	Headers map[string]string
	// Timeout bounds each attempt, 5 seconds when zero.
	Timeout time.Duration
	Query   url.Values

	path string
}

// NewRequest formats route with routeParams into the request path and keeps the
// unformatted route for tracing, so spans and metrics do not get a tag value per id.
func NewRequest(method, route string, timeout time.Duration, routeParams ...interface{}) Request {
	return Request{
		Method:  method,
		Route:   route,
		Timeout: timeout,
		path:    fmt.Sprintf(route, routeParams...),
	}
}

// prepared is a Request resolved against a client, ready to build one http.Request per
// attempt.
type prepared struct {
	method  string
	route   string
	url     string
	body    []byte
	header  http.Header
	cookie  *http.Cookie
	timeout time.Duration
	decoder Decoder
}

func (c *Client) prepare(r Request) (*prepared, error) {
	path := r.path
	if path == "" {
		path = r.Route
	}
	u, err := url.Parse(c.cfg.BaseURL + path)
	if err != nil {
		return nil, err
	}
	u.RawQuery = r.Query.Encode()

	p := &prepared{
		method:  r.Method,
		route:   r.Route,
		url:     u.String(),
		header:  http.Header{},
		cookie:  r.Cookie,
		timeout: r.Timeout,
		decoder: r.Decoder,
	}

	switch {
	case r.Body != nil:
		if p.body, err = json.Marshal(r.Body); err != nil {
			return nil, fmt.Errorf("could not json encode request: %w", err)
		}
		p.header.Set("Content-Type", JSON)
	case r.RawBody != nil:
		p.body = r.RawBody
	}

	if c.cfg.AuthToken != "" {
		if c.cfg.AuthHeader != "" {
			p.header.Set(c.cfg.AuthHeader, c.cfg.AuthToken)
		} else {
			p.header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
		}
	}
	for k, v := range r.Headers {
		p.header.Set(k, v)
	}
	if c.cfg.AcceptType != "" {
		p.header.Set("Accept", c.cfg.AcceptType)
	}
	return p, nil
}

func (p *prepared) build(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}
	req, err := http.NewRequestWithContext(ctx, p.method, p.url, body)
	if err != nil {
		return nil, err
	}
	req.Header = p.header.Clone()
	if p.cookie != nil {
		req.AddCookie(p.cookie)
	}
	return req, nil
}
