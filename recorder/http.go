package recorder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/circleci/vcr/cassette"
)

// HTTPConverter is the Converter for net/http.
type HTTPConverter struct{}

func (HTTPConverter) Request(req *http.Request) (cassette.Request, error) {
	body, err := drain(&req.Body)
	if err != nil {
		return cassette.Request{}, fmt.Errorf("read request body: %w", err)
	}
	if body != nil {
		b := body
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return cassette.Request{
		Method: method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	}, nil
}

func (HTTPConverter) Response(res *http.Response) (cassette.Response, error) {
	body, err := drain(&res.Body)
	if err != nil {
		return cassette.Response{}, fmt.Errorf("read response body: %w", err)
	}
	return cassette.Response{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
		Body:       body,
	}, nil
}

func (HTTPConverter) Replay(req *http.Request, res cassette.Response) (*http.Response, error) {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", res.StatusCode, http.StatusText(res.StatusCode)),
		StatusCode:    res.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        res.Header,
		Body:          io.NopCloser(bytes.NewReader(res.Body)),
		ContentLength: int64(len(res.Body)),
		Request:       req,
	}, nil
}

// drain reads a body fully and replaces it with an in-memory copy.
func drain(rc *io.ReadCloser) ([]byte, error) {
	if *rc == nil || *rc == http.NoBody {
		return nil, nil
	}
	b, err := io.ReadAll(*rc)
	_ = (*rc).Close()
	if err != nil {
		return nil, err
	}
	*rc = io.NopCloser(bytes.NewReader(b))
	return b, nil
}

type roundTripSender struct {
	rt http.RoundTripper
}

func (s roundTripSender) Send(_ context.Context, req *http.Request) (*http.Response, error) {
	return s.rt.RoundTrip(req)
}

// Transport is an http.RoundTripper that records and replays through an Engine.
type Transport struct {
	*Engine[*http.Request, *http.Response]
}

// NewTransport wraps real, which defaults to http.DefaultTransport.
func NewTransport(real http.RoundTripper, opts Options) *Transport {
	if real == nil {
		real = http.DefaultTransport
	}
	return &Transport{
		Engine: New[*http.Request, *http.Response](roundTripSender{rt: real}, HTTPConverter{}, opts),
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.Do(req.Context(), req)
	if err != nil {
		if res != nil && res.Body != nil {
			_ = res.Body.Close()
		}
		return nil, err
	}
	return res, nil
}

// Client returns an http.Client using the transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}
