package match

import (
	"fmt"
	"net/http"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"

	"github.com/circleci/vcr/cassette"
)

func get(url string) cassette.Request {
	return cassette.Request{Method: http.MethodGet, URL: url}
}

func recorded(reqs ...cassette.Request) []cassette.Interaction {
	out := make([]cassette.Interaction, len(reqs))
	for i, r := range reqs {
		out[i] = cassette.Interaction{
			Request:  r,
			Response: cassette.Response{StatusCode: 200, Body: []byte(fmt.Sprint(i))},
		}
	}
	return out
}

func TestFindMatch(t *testing.T) {
	interactions := recorded(
		get("https://api.example.com/albums/1"),
		get("https://api.example.com/albums/2"),
		get("https://api.example.com/albums/1"),
	)

	t.Run("first match wins", func(t *testing.T) {
		got, ok := FindMatch(get("https://api.example.com/albums/1"), interactions, Default())
		assert.Assert(t, ok)
		assert.Check(t, cmp.Equal(string(got.Response.Body), "0"))
	})

	t.Run("no match", func(t *testing.T) {
		got, ok := FindMatch(get("https://api.example.com/albums/3"), interactions, Default())
		assert.Check(t, !ok)
		assert.Check(t, cmp.DeepEqual(got, cassette.Interaction{}))
	})

	t.Run("method matters", func(t *testing.T) {
		req := get("https://api.example.com/albums/2")
		req.Method = http.MethodDelete
		_, ok := FindMatch(req, interactions, Default())
		assert.Check(t, !ok)
	})

	t.Run("empty rules match the first interaction", func(t *testing.T) {
		i, ok := Rules{}.Index(get("https://anything"), interactions)
		assert.Check(t, ok)
		assert.Check(t, cmp.Equal(i, 0))
	})

	t.Run("empty cassette", func(t *testing.T) {
		_, ok := FindMatch(get("https://api.example.com/albums/1"), nil, Default())
		assert.Check(t, !ok)
	})
}

func TestURL(t *testing.T) {
	tests := []struct {
		name     string
		recorded string
		outgoing string
		want     bool
	}{
		{name: "identical", recorded: "https://a.com/x?b=1", outgoing: "https://a.com/x?b=1", want: true},
		{name: "host case", recorded: "https://API.example.com/x", outgoing: "https://api.example.com/x", want: true},
		{name: "scheme case", recorded: "HTTPS://a.com/x", outgoing: "https://a.com/x", want: true},
		{name: "query order", recorded: "https://a.com/x?a=1&b=2", outgoing: "https://a.com/x?b=2&a=1", want: true},
		{name: "repeated value order", recorded: "https://a.com/x?a=1&a=2", outgoing: "https://a.com/x?a=2&a=1", want: false},
		{name: "path case", recorded: "https://a.com/X", outgoing: "https://a.com/x", want: false},
		{name: "scheme", recorded: "http://a.com/x", outgoing: "https://a.com/x", want: false},
		{name: "port", recorded: "https://a.com:8443/x", outgoing: "https://a.com/x", want: false},
		{name: "extra query", recorded: "https://a.com/x", outgoing: "https://a.com/x?page=2", want: false},
		{name: "censored on both sides", recorded: "https://a.com/x?token=REDACTED", outgoing: "https://a.com/x?token=REDACTED", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := URL().Matches(get(tt.recorded), get(tt.outgoing))
			assert.Check(t, cmp.Equal(got, tt.want))
		})
	}
}

func TestFacets(t *testing.T) {
	t.Run("host and path", func(t *testing.T) {
		a, b := get("https://a.com/albums?page=1"), get("https://A.com/albums?page=2")
		assert.Check(t, Host().Matches(a, b))
		assert.Check(t, Path().Matches(a, b))
		assert.Check(t, !Query().Matches(a, b))
		assert.Check(t, !Path().Matches(a, get("https://a.com/artists")))
	})

	t.Run("query ignore", func(t *testing.T) {
		a := get("https://a.com/albums?page=1&ts=100")
		b := get("https://a.com/albums?ts=200&page=1")
		assert.Check(t, Query("ts").Matches(a, b))
		assert.Check(t, !Query().Matches(a, b))
	})

	t.Run("named headers", func(t *testing.T) {
		a := get("https://a.com")
		a.Header = http.Header{"Accept": {"application/json"}, "X-Request-Id": {"1"}}
		b := get("https://a.com")
		b.Header = http.Header{"Accept": {"application/json"}, "X-Request-Id": {"2"}}
		assert.Check(t, Headers("accept").Matches(a, b))
		assert.Check(t, !Headers("accept", "x-request-id").Matches(a, b))
	})

	t.Run("recorded headers are a subset", func(t *testing.T) {
		a := get("https://a.com")
		a.Header = http.Header{"Accept": {"application/json"}}
		b := get("https://a.com")
		b.Header = http.Header{"Accept": {"application/json"}, "User-Agent": {"go"}}
		assert.Check(t, Headers().Matches(a, b))
		assert.Check(t, !Headers().Matches(b, a))
	})

	t.Run("header keys in any case", func(t *testing.T) {
		a := get("https://a.com")
		a.Header = http.Header{"x-tenant": {"acme"}}
		b := get("https://a.com")
		b.Header = http.Header{"X-Tenant": {"acme"}}
		c := get("https://a.com")
		c.Header = http.Header{"X-Tenant": {"globex"}}
		assert.Check(t, Headers("X-Tenant").Matches(a, b))
		assert.Check(t, Headers().Matches(a, b))
		assert.Check(t, !Headers("x-tenant").Matches(a, c))
		assert.Check(t, !Headers().Matches(a, c))
	})

	t.Run("body", func(t *testing.T) {
		a, b := get("https://a.com"), get("https://a.com")
		a.Body, b.Body = []byte("x"), []byte("x")
		assert.Check(t, Body().Matches(a, b))
		b.Body = []byte("y")
		assert.Check(t, !Body().Matches(a, b))
	})

	t.Run("json body", func(t *testing.T) {
		a, b := get("https://a.com"), get("https://a.com")
		a.Body = []byte(`{"title":"Blue Train","year":1957,"meta":{"nonce":"1"}}`)
		b.Body = []byte(`{ "year": 1957, "title": "Blue Train", "meta": {"nonce": "2"} }`)
		assert.Check(t, JSONBody("nonce").Matches(a, b))
		assert.Check(t, !JSONBody().Matches(a, b))

		b.Body = []byte(`not json`)
		assert.Check(t, !JSONBody().Matches(a, b))

		a.Body, b.Body = nil, []byte("  ")
		assert.Check(t, JSONBody().Matches(a, b))
	})

	t.Run("custom", func(t *testing.T) {
		r := New("same-length", func(recorded, outgoing cassette.Request) bool {
			return len(recorded.URL) == len(outgoing.URL)
		})
		assert.Check(t, cmp.Equal(r.Name(), "same-length"))
		assert.Check(t, r.Matches(get("https://a.com/1"), get("https://a.com/2")))
	})
}

func TestDescribe(t *testing.T) {
	rules := Rules{Method(), URL(), Body()}
	a := get("https://a.com/x")
	b := cassette.Request{Method: http.MethodPost, URL: "https://a.com/y"}
	assert.Check(t, cmp.DeepEqual(Describe(rules, a, b), []string{"method", "url"}))
	assert.Check(t, cmp.DeepEqual(rules.Names(), []string{"method", "url", "body"}))
}

func TestFindMatch_FirstMatchWins(t *testing.T) {
	urls := []string{"https://a.com/1", "https://a.com/2", "https://a.com/3"}
	rapid.Check(t, func(t *rapid.T) {
		picked := rapid.SliceOfN(rapid.SampledFrom(urls), 0, 8).Draw(t, "recorded")
		reqs := make([]cassette.Request, len(picked))
		for i, u := range picked {
			reqs[i] = get(u)
		}
		interactions := recorded(reqs...)
		target := rapid.SampledFrom(urls).Draw(t, "target")

		got, ok := FindMatch(get(target), interactions, Default())
		first := -1
		for i, u := range picked {
			if u == target {
				first = i
				break
			}
		}
		if first < 0 {
			if ok {
				t.Fatalf("unexpected match for %s", target)
			}
			return
		}
		if !ok || string(got.Response.Body) != fmt.Sprint(first) {
			t.Fatalf("expected interaction %d, got %v %q", first, ok, got.Response.Body)
		}
	})
}
