package httprecorder

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
)

// Request is a received request with its body already read.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

func (r Request) StringBody() string {
	return string(r.Body)
}

// Decode decodes the JSON from the request into the supplied pointer
func (r Request) Decode(x interface{}) error {
	return json.Unmarshal(r.Body, x)
}

type Recorder struct {
	mu       sync.RWMutex
	requests []Request
}

func New() *Recorder {
	return &Recorder{}
}

// Record stores a copy of the incoming request ensuring the body can still
// be consumed by the handler
func (r *Recorder) Record(request *http.Request) error {
	req := Request{
		Method: request.Method,
		Path:   request.URL.Path,
		Query:  request.URL.Query(),
		Header: request.Header.Clone(),
	}
	if request.Body != nil {
		b, err := io.ReadAll(request.Body)
		if err != nil {
			return err
		}
		req.Body = b
		request.Body = io.NopCloser(bytes.NewReader(b))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return nil
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
}

func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.requests)
}

func (r *Recorder) AllRequests() []Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	requests := make([]Request, len(r.requests))
	copy(requests, r.requests)
	return requests
}

func (r *Recorder) LastRequest() *Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.requests) == 0 {
		return nil
	}
	req := r.requests[len(r.requests)-1]
	return &req
}

// Count returns how many requests had the method and path. An empty method matches any.
func (r *Recorder) Count(method, path string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, req := range r.requests {
		if (method == "" || req.Method == method) && req.Path == path {
			n++
		}
	}
	return n
}
