package cassette

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Request is the transport independent form of an outgoing call. Header keys are kept in
// canonical form so lookups are case-insensitive.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Interaction is one recorded exchange. It is never modified once appended to a cassette.
type Interaction struct {
	Request    Request       `json:"request" yaml:"request"`
	Response   Response      `json:"response" yaml:"response"`
	RecordedAt time.Time     `json:"recorded_at" yaml:"recorded_at"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Clone returns a deep copy, so callers can never alias a stored interaction's header or body.
func (i Interaction) Clone() Interaction {
	i.Request = i.Request.Clone()
	i.Response = i.Response.Clone()
	return i
}

func (r Request) Clone() Request {
	r.Header = r.Header.Clone()
	r.Body = cloneBytes(r.Body)
	return r
}

func (r Response) Clone() Response {
	r.Header = r.Header.Clone()
	r.Body = cloneBytes(r.Body)
	return r
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// Bodies are written as plain strings when they are valid UTF-8, which keeps cassettes
// readable and diffable, and base64 otherwise.
const base64Encoding = "base64"

type wireRequest struct {
	Method       string      `json:"method" yaml:"method"`
	URL          string      `json:"url" yaml:"url"`
	Header       http.Header `json:"header,omitempty" yaml:"header,omitempty"`
	Body         string      `json:"body,omitempty" yaml:"body,omitempty"`
	BodyEncoding string      `json:"body_encoding,omitempty" yaml:"body_encoding,omitempty"`
}

type wireResponse struct {
	StatusCode   int         `json:"status_code" yaml:"status_code"`
	Header       http.Header `json:"header,omitempty" yaml:"header,omitempty"`
	Body         string      `json:"body,omitempty" yaml:"body,omitempty"`
	BodyEncoding string      `json:"body_encoding,omitempty" yaml:"body_encoding,omitempty"`
}

func encodeBody(b []byte) (string, string) {
	if utf8.Valid(b) {
		return string(b), ""
	}
	return base64.StdEncoding.EncodeToString(b), base64Encoding
}

func decodeBody(s, encoding string) ([]byte, error) {
	switch encoding {
	case "":
		if s == "" {
			return nil, nil
		}
		return []byte(s), nil
	case base64Encoding:
		return base64.StdEncoding.DecodeString(s)
	}
	return nil, fmt.Errorf("unknown body encoding %q", encoding)
}

func (r Request) wire() wireRequest {
	body, enc := encodeBody(r.Body)
	return wireRequest{Method: r.Method, URL: r.URL, Header: r.Header, Body: body, BodyEncoding: enc}
}

func (w wireRequest) request() (Request, error) {
	body, err := decodeBody(w.Body, w.BodyEncoding)
	if err != nil {
		return Request{}, err
	}
	return Request{Method: w.Method, URL: w.URL, Header: canonical(w.Header), Body: body}, nil
}

func (r Response) wire() wireResponse {
	body, enc := encodeBody(r.Body)
	return wireResponse{StatusCode: r.StatusCode, Header: r.Header, Body: body, BodyEncoding: enc}
}

func (w wireResponse) response() (Response, error) {
	body, err := decodeBody(w.Body, w.BodyEncoding)
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: w.StatusCode, Header: canonical(w.Header), Body: body}, nil
}

// canonical re-keys a header read from a hand edited cassette.
func canonical(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := make(http.Header, len(h))
	for k, vs := range h {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}

func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

func (r *Request) UnmarshalJSON(b []byte) (err error) {
	var w wireRequest
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r, err = w.request()
	return err
}

func (r Request) MarshalYAML() (interface{}, error) {
	return r.wire(), nil
}

func (r *Request) UnmarshalYAML(n *yaml.Node) (err error) {
	var w wireRequest
	if err := n.Decode(&w); err != nil {
		return err
	}
	*r, err = w.request()
	return err
}

func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

func (r *Response) UnmarshalJSON(b []byte) (err error) {
	var w wireResponse
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r, err = w.response()
	return err
}

func (r Response) MarshalYAML() (interface{}, error) {
	return r.wire(), nil
}

func (r *Response) UnmarshalYAML(n *yaml.Node) (err error) {
	var w wireResponse
	if err := n.Decode(&w); err != nil {
		return err
	}
	*r, err = w.response()
	return err
}
