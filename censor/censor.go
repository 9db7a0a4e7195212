// Package censor strips credentials from interactions before they are stored or matched.
//
// Headers are matched by name. Parameters are matched by name in URL query strings, in
// form encoded bodies and as object keys at any depth of JSON bodies. Every match is
// replaced with Marker. Redaction is idempotent and record bytes are only rewritten when
// something was actually redacted.
package censor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/circleci/vcr/cassette"
)

const Marker = "REDACTED"

// Censors configures what is redacted. A nil *Censors is treated as Default by the
// recorder, use Nop to disable censoring.
type Censors struct {
	// Headers are header names, matched case-insensitively.
	Headers []string
	// Params are query, form and JSON key names, matched case-insensitively.
	Params []string
	// Patterns are applied to request and response bodies, each match becomes Marker.
	Patterns []*regexp.Regexp
}

var (
	defaultHeaders = []string{"authorization"}
	defaultParams  = []string{
		"api_key", "apiKey", "key", "api_token", "apiToken", "token",
		"access_token", "client_id", "client_secret", "password", "secret", "username",
	}
)

// Default returns a fresh copy of the default rules.
func Default() *Censors {
	return &Censors{
		Headers: append([]string{}, defaultHeaders...),
		Params:  append([]string{}, defaultParams...),
	}
}

// Nop redacts nothing.
var Nop = &Censors{}

// Extend returns a copy of c with extra rules added.
func (c *Censors) Extend(headers, params []string, patterns ...*regexp.Regexp) *Censors {
	out := &Censors{}
	if c != nil {
		out.Headers = append(out.Headers, c.Headers...)
		out.Params = append(out.Params, c.Params...)
		out.Patterns = append(out.Patterns, c.Patterns...)
	}
	out.Headers = append(out.Headers, headers...)
	out.Params = append(out.Params, params...)
	out.Patterns = append(out.Patterns, patterns...)
	return out
}

// RedactRequest returns r with every configured field replaced. r itself is not modified.
func (c *Censors) RedactRequest(r cassette.Request) cassette.Request {
	if c == nil {
		return r
	}
	r.Header = c.redactHeader(r.Header)
	r.URL = c.redactURL(r.URL)
	r.Body = c.redactBody(r.Header, r.Body)
	return r
}

// RedactResponse returns r with every configured field replaced. r itself is not modified.
func (c *Censors) RedactResponse(r cassette.Response) cassette.Response {
	if c == nil {
		return r
	}
	r.Header = c.redactHeader(r.Header)
	r.Body = c.redactBody(r.Header, r.Body)
	return r
}

// redactHeader compares every key case-insensitively, since callers can set non canonical
// keys directly on the header map and net/http sends them as they are.
func (c *Censors) redactHeader(h http.Header) http.Header {
	var out http.Header
	for key, vals := range h {
		if !c.isHeader(key) || allMarkers(vals) {
			continue
		}
		if out == nil {
			out = h.Clone()
		}
		redacted := make([]string, len(vals))
		for i := range redacted {
			redacted[i] = Marker
		}
		out[key] = redacted
	}
	if out == nil {
		return h
	}
	return out
}

func (c *Censors) isHeader(name string) bool {
	for _, h := range c.Headers {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

func allMarkers(vals []string) bool {
	for _, v := range vals {
		if v != Marker {
			return false
		}
	}
	return true
}

func (c *Censors) redactURL(raw string) string {
	if len(c.Params) == 0 {
		return raw
	}
	rest, fragment := raw, ""
	if f := strings.IndexByte(raw, '#'); f >= 0 {
		rest, fragment = raw[:f], raw[f:]
	}
	q := strings.IndexByte(rest, '?')
	if q < 0 {
		return raw
	}
	redacted, changed := c.redactPairs(rest[q+1:])
	if !changed {
		return raw
	}
	return rest[:q+1] + redacted + fragment
}

func (c *Censors) redactBody(h http.Header, body []byte) []byte {
	if len(body) == 0 {
		return body
	}
	out := body
	if len(c.Params) > 0 {
		switch kind(h, body) {
		case formBody:
			if s, changed := c.redactPairs(string(body)); changed {
				out = []byte(s)
			}
		case jsonBody:
			if b, changed := c.redactJSON(body); changed {
				out = b
			}
		}
	}
	for _, p := range c.Patterns {
		replaced := p.ReplaceAll(out, []byte(Marker))
		if !bytes.Equal(replaced, out) {
			out = replaced
		}
	}
	return out
}

type bodyKind int

const (
	otherBody bodyKind = iota
	formBody
	jsonBody
)

func kind(h http.Header, body []byte) bodyKind {
	ct := strings.ToLower(headerValue(h, "Content-Type"))
	switch {
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		return formBody
	case strings.Contains(ct, "json"):
		return jsonBody
	case ct == "":
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
			return jsonBody
		}
	}
	return otherBody
}

// headerValue is http.Header.Get for maps that may hold non canonical keys.
func headerValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	for k, vals := range h {
		if strings.EqualFold(k, name) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

func (c *Censors) isParam(name string) bool {
	for _, p := range c.Params {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// redactPairs rewrites an encoded k=v&k=v string in place, keeping the order and encoding of
// everything it does not redact.
func (c *Censors) redactPairs(s string) (string, bool) {
	parts := strings.Split(s, "&")
	changed := false
	for i, part := range parts {
		key, val, found := strings.Cut(part, "=")
		if !found || val == Marker {
			continue
		}
		if !c.isParam(unescape(key)) {
			continue
		}
		parts[i] = key + "=" + Marker
		changed = true
	}
	if !changed {
		return s, false
	}
	return strings.Join(parts, "&"), true
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// redactJSON handles a single document as well as streams of them, such as
// application/x-ndjson. Every value is redacted on its own and the bytes between values are
// kept. Anything after the last value that parses is kept as sent.
func (c *Censors) redactJSON(body []byte) ([]byte, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	out := &bytes.Buffer{}
	changed := false
	prev := 0
	for {
		var doc interface{}
		if err := dec.Decode(&doc); err != nil {
			break
		}
		end := int(dec.InputOffset())
		seg := body[prev:end]
		prev = end
		if !c.walk(doc) {
			out.Write(seg)
			continue
		}
		b, err := encodeJSON(doc)
		if err != nil {
			return body, false
		}
		lead := len(seg) - len(bytes.TrimLeft(seg, " \t\r\n"))
		out.Write(seg[:lead])
		out.Write(b)
		changed = true
	}
	if !changed {
		return body, false
	}
	out.Write(body[prev:])
	return out.Bytes(), true
}

func encodeJSON(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// walk redacts matching keys in place and reports whether anything changed.
func (c *Censors) walk(v interface{}) bool {
	changed := false
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if c.isParam(k) {
				if s, ok := child.(string); ok && s == Marker {
					continue
				}
				t[k] = Marker
				changed = true
				continue
			}
			if c.walk(child) {
				changed = true
			}
		}
	case []interface{}:
		for _, child := range t {
			if c.walk(child) {
				changed = true
			}
		}
	}
	return changed
}
