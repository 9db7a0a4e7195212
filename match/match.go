// Package match decides which recorded interaction answers an outgoing request.
//
// A Rules set is an ordered list of facets. An interaction matches when every rule is
// satisfied, and the first matching interaction in recording order wins, so duplicates
// resolve deterministically to the oldest recording.
package match

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/circleci/vcr/cassette"
)

// Rule compares one facet of a recorded request with an outgoing one. Both requests have
// already been through the same censoring.
type Rule interface {
	Name() string
	Matches(recorded, outgoing cassette.Request) bool
}

type ruleFunc struct {
	name string
	fn   func(recorded, outgoing cassette.Request) bool
}

func (r ruleFunc) Name() string { return r.name }

func (r ruleFunc) Matches(recorded, outgoing cassette.Request) bool {
	return r.fn(recorded, outgoing)
}

// New builds a custom rule.
func New(name string, fn func(recorded, outgoing cassette.Request) bool) Rule {
	return ruleFunc{name: name, fn: fn}
}

// Rules is an ordered rule set. An empty set matches every interaction.
type Rules []Rule

// Default compares method and URL.
func Default() Rules {
	return Rules{Method(), URL()}
}

// Matches reports whether every rule accepts the pair.
func (rs Rules) Matches(recorded, outgoing cassette.Request) bool {
	for _, r := range rs {
		if !r.Matches(recorded, outgoing) {
			return false
		}
	}
	return true
}

// Index returns the position of the first interaction matching outgoing.
func (rs Rules) Index(outgoing cassette.Request, interactions []cassette.Interaction) (int, bool) {
	for i, in := range interactions {
		if rs.Matches(in.Request, outgoing) {
			return i, true
		}
	}
	return 0, false
}

func (rs Rules) Names() []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name()
	}
	return names
}

// FindMatch returns the first interaction matching outgoing under rules. No match is not an
// error, the caller decides what a miss means.
func FindMatch(outgoing cassette.Request, interactions []cassette.Interaction, rules Rules) (cassette.Interaction, bool) {
	i, ok := rules.Index(outgoing, interactions)
	if !ok {
		return cassette.Interaction{}, false
	}
	return interactions[i], true
}

func Method() Rule {
	return New("method", func(recorded, outgoing cassette.Request) bool {
		return strings.EqualFold(recorded.Method, outgoing.Method)
	})
}

// URL compares scheme, host, path and query. Scheme and host are case-insensitive, query
// parameter order is ignored but the order of repeated values is not.
func URL() Rule {
	return New("url", func(recorded, outgoing cassette.Request) bool {
		r, err1 := url.Parse(recorded.URL)
		o, err2 := url.Parse(outgoing.URL)
		if err1 != nil || err2 != nil {
			return recorded.URL == outgoing.URL
		}
		return strings.EqualFold(r.Scheme, o.Scheme) &&
			strings.EqualFold(r.Host, o.Host) &&
			r.User.String() == o.User.String() &&
			r.EscapedPath() == o.EscapedPath() &&
			sameQuery(r.Query(), o.Query(), nil)
	})
}

func Host() Rule {
	return New("host", func(recorded, outgoing cassette.Request) bool {
		r, o := parse(recorded.URL), parse(outgoing.URL)
		return strings.EqualFold(r.Host, o.Host)
	})
}

func Path() Rule {
	return New("path", func(recorded, outgoing cassette.Request) bool {
		return parse(recorded.URL).EscapedPath() == parse(outgoing.URL).EscapedPath()
	})
}

// Query compares query parameters regardless of order, skipping the named parameters.
// Names are case sensitive as they are on the wire.
func Query(ignore ...string) Rule {
	skip := map[string]bool{}
	for _, n := range ignore {
		skip[n] = true
	}
	return New("query", func(recorded, outgoing cassette.Request) bool {
		return sameQuery(parse(recorded.URL).Query(), parse(outgoing.URL).Query(), skip)
	})
}

// Headers compares the named headers. With no names, every header on the recorded request
// must be present with the same values on the outgoing request.
func Headers(names ...string) Rule {
	return New("headers", func(recorded, outgoing cassette.Request) bool {
		keys := names
		if len(keys) == 0 {
			for k := range recorded.Header {
				keys = append(keys, k)
			}
		}
		for _, k := range keys {
			if !cmp.Equal(headerValues(recorded.Header, k), headerValues(outgoing.Header, k), cmpopts.EquateEmpty()) {
				return false
			}
		}
		return true
	})
}

func Body() Rule {
	return New("body", func(recorded, outgoing cassette.Request) bool {
		return bytes.Equal(recorded.Body, outgoing.Body)
	})
}

// JSONBody compares bodies as JSON documents, ignoring formatting, key order and the named
// top level or nested keys. Bodies that are not JSON are compared byte for byte.
func JSONBody(ignore ...string) Rule {
	skip := map[string]bool{}
	for _, n := range ignore {
		skip[n] = true
	}
	opts := cmp.Options{
		cmpopts.EquateEmpty(),
		cmpopts.IgnoreMapEntries(func(k string, _ interface{}) bool { return skip[k] }),
	}
	return New("json_body", func(recorded, outgoing cassette.Request) bool {
		r, rerr := decodeJSON(recorded.Body)
		o, oerr := decodeJSON(outgoing.Body)
		if rerr != nil || oerr != nil {
			return bytes.Equal(recorded.Body, outgoing.Body)
		}
		return cmp.Equal(r, o, opts)
	})
}

func decodeJSON(b []byte) (interface{}, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v interface{}
	err := dec.Decode(&v)
	return v, err
}

// headerValues collects name's values under every spelling of the key, since recorded
// cassettes may hold keys that were never canonicalized.
func headerValues(h http.Header, name string) []string {
	var vs []string
	for k, v := range h {
		if strings.EqualFold(k, name) {
			vs = append(vs, v...)
		}
	}
	return vs
}

func sameQuery(a, b url.Values, skip map[string]bool) bool {
	strip := func(v url.Values) map[string][]string {
		out := map[string][]string{}
		for k, vs := range v {
			if !skip[k] {
				out[k] = vs
			}
		}
		return out
	}
	return cmp.Equal(strip(a), strip(b), cmpopts.EquateEmpty())
}

func parse(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{Path: raw}
	}
	return u
}

// Describe lists the rules that reject recorded for outgoing, for miss diagnostics.
func Describe(rules Rules, recorded, outgoing cassette.Request) []string {
	var failed []string
	for _, r := range rules {
		if !r.Matches(recorded, outgoing) {
			failed = append(failed, r.Name())
		}
	}
	sort.Strings(failed)
	return failed
}
