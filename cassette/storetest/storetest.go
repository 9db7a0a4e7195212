// Package storetest checks cassette.Store implementations behave the same way.
package storetest

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/vcr/cassette"
)

// Interaction returns a distinct interaction for n, with a binary body for odd n.
func Interaction(n int) cassette.Interaction {
	body := []byte(fmt.Sprintf(`{"n":%d}`, n))
	if n%2 == 1 {
		body = []byte{0xff, 0xfe, byte(n)}
	}
	return cassette.Interaction{
		Request: cassette.Request{
			Method: http.MethodPost,
			URL:    fmt.Sprintf("https://api.example.com/albums/%d?q=x", n),
			Header: http.Header{"Content-Type": {"application/json"}},
			Body:   []byte(`{"title":"x"}`),
		},
		Response: cassette.Response{
			StatusCode: http.StatusCreated,
			Header:     http.Header{"Content-Type": {"application/json"}, "X-Request-Id": {"a", "b"}},
			Body:       body,
		},
		RecordedAt: time.Date(2022, 10, 4, 12, 0, n, 0, time.UTC),
		Duration:   time.Duration(n) * time.Millisecond,
	}
}

// Run exercises s, which must start empty.
func Run(ctx context.Context, t *testing.T, s cassette.Store) {
	t.Run("unknown cassette is empty", func(t *testing.T) {
		got, err := s.LoadAll(ctx, "unknown")
		assert.Assert(t, err)
		assert.Check(t, cmp.Len(got, 0))
	})

	in := []cassette.Interaction{Interaction(0), Interaction(1), Interaction(2)}

	t.Run("save then load keeps order", func(t *testing.T) {
		assert.Assert(t, s.Save(ctx, "albums", in))
		got, err := s.LoadAll(ctx, "albums")
		assert.Assert(t, err)
		assert.Check(t, cmp.DeepEqual(got, in))
	})

	t.Run("save replaces", func(t *testing.T) {
		assert.Assert(t, s.Save(ctx, "albums", in[:1]))
		got, err := s.LoadAll(ctx, "albums")
		assert.Assert(t, err)
		assert.Check(t, cmp.DeepEqual(got, in[:1]))
	})

	t.Run("save empty", func(t *testing.T) {
		assert.Assert(t, s.Save(ctx, "empty", nil))
		got, err := s.LoadAll(ctx, "empty")
		assert.Assert(t, err)
		assert.Check(t, cmp.Len(got, 0))
	})

	if a, ok := s.(cassette.Appender); ok {
		t.Run("append", func(t *testing.T) {
			assert.Assert(t, s.Save(ctx, "appended", nil))
			for _, i := range in {
				assert.Assert(t, a.Append(ctx, "appended", i))
			}
			got, err := s.LoadAll(ctx, "appended")
			assert.Assert(t, err)
			assert.Check(t, cmp.DeepEqual(got, in))
		})

		t.Run("concurrent appends are all kept", func(t *testing.T) {
			g, ctx := errgroup.WithContext(ctx)
			for n := 0; n < 10; n++ {
				n := n
				g.Go(func() error {
					return a.Append(ctx, "concurrent", Interaction(n))
				})
			}
			assert.Assert(t, g.Wait())
			got, err := s.LoadAll(ctx, "concurrent")
			assert.Assert(t, err)
			assert.Check(t, cmp.Len(got, 10))
		})
	}

	t.Run("cassettes with the same name share appends", func(t *testing.T) {
		a := cassette.New("shared", s)
		b := cassette.New("shared", s)
		assert.Assert(t, a.Load(ctx))
		assert.Assert(t, b.Load(ctx))
		assert.Assert(t, a.Append(ctx, Interaction(0)))
		assert.Assert(t, b.Append(ctx, Interaction(1)))

		fresh := cassette.New("shared", s)
		assert.Assert(t, fresh.Load(ctx))
		assert.Check(t, cmp.DeepEqual(fresh.Interactions(), []cassette.Interaction{Interaction(0), Interaction(1)}))
	})

	t.Run("concurrent appends through separate cassettes are all kept", func(t *testing.T) {
		g, ctx := errgroup.WithContext(ctx)
		for n := 0; n < 10; n++ {
			n := n
			g.Go(func() error {
				return cassette.New("separate", s).Append(ctx, Interaction(n))
			})
		}
		assert.Assert(t, g.Wait())
		got, err := s.LoadAll(ctx, "separate")
		assert.Assert(t, err)
		assert.Check(t, cmp.Len(got, 10))
	})

	if l, ok := s.(cassette.Lister); ok {
		t.Run("list", func(t *testing.T) {
			names, err := l.List(ctx)
			assert.Assert(t, err)
			assert.Check(t, cmp.Contains(names, "albums"))
			assert.Check(t, !contains(names, "unknown"))
		})
	}

	t.Run("delete", func(t *testing.T) {
		assert.Assert(t, s.Delete(ctx, "albums"))
		assert.Assert(t, s.Delete(ctx, "albums"), "deleting a missing cassette is fine")
		got, err := s.LoadAll(ctx, "albums")
		assert.Assert(t, err)
		assert.Check(t, cmp.Len(got, 0))
	})
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
