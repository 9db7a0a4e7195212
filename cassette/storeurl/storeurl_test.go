package storeurl

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/cassette/filestore"
	"github.com/circleci/vcr/cassette/redisstore"
	"github.com/circleci/vcr/cassette/sqlstore"
	"github.com/circleci/vcr/cassette/storetest"
	"github.com/circleci/vcr/testing/redisfixture"
	"github.com/circleci/vcr/testing/testcontext"
)

func TestOpen(t *testing.T) {
	ctx := testcontext.Background()
	dir := t.TempDir()

	tests := []struct {
		dsn  string
		want cassette.Store
	}{
		{dsn: "mem:", want: &cassette.MemoryStore{}},
		{dsn: "file:" + filepath.ToSlash(dir) + "?format=json&compress=zstd", want: &filestore.Store{}},
		{dsn: "file://" + filepath.ToSlash(dir), want: &filestore.Store{}},
		{dsn: "sqlite::memory:", want: &sqlstore.Store{}},
		{dsn: "sqlite:" + filepath.ToSlash(filepath.Join(dir, "c.db")), want: &sqlstore.Store{}},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			s, err := Open(ctx, tt.dsn)
			assert.Assert(t, err)
			t.Cleanup(func() { assert.Check(t, s.Close(ctx)) })

			assert.Check(t, cmp.Equal(fmt.Sprintf("%T", s.Store), fmt.Sprintf("%T", tt.want)))

			storetest.Run(ctx, t, s.Store)

			names, err := s.List(ctx)
			assert.Assert(t, err)
			assert.Check(t, !contains(names, "albums"), "deleted by the store tests")
		})
	}
}

func TestOpen_FileFormat(t *testing.T) {
	ctx := testcontext.Background()
	dir := t.TempDir()
	s, err := Open(ctx, "file:"+filepath.ToSlash(dir)+"?format=json")
	assert.Assert(t, err)

	fs := s.Store.(*filestore.Store)
	p, err := fs.Path("albums")
	assert.Assert(t, err)
	assert.Check(t, cmp.Equal(p, filepath.Join(dir, "albums.json")))
}

func TestOpen_Redis(t *testing.T) {
	ctx := testcontext.Background()
	fix := redisfixture.Setup(ctx, t, redisfixture.Connection{})

	s, err := Open(ctx, "redis://"+fix.Addr+"/0?prefix="+url.QueryEscape(fix.Prefix))
	assert.Assert(t, err)
	t.Cleanup(func() { assert.Check(t, s.Close(ctx)) })

	_, ok := s.Store.(*redisstore.Store)
	assert.Check(t, ok)
	assert.Assert(t, s.HealthCheck != nil)
	_, ready, _ := s.HealthCheck.HealthChecks()
	assert.Check(t, ready(ctx))

	storetest.Run(ctx, t, s.Store)
}

func TestOpen_Errors(t *testing.T) {
	ctx := testcontext.Background()

	t.Run("unknown scheme", func(t *testing.T) {
		_, err := Open(ctx, "ftp://example.com/cassettes")
		assert.Check(t, errors.Is(err, ErrUnknownScheme))
	})

	t.Run("invalid url hides the password", func(t *testing.T) {
		_, err := Open(ctx, "redis://user:hunter2@%zz")
		assert.Assert(t, err != nil)
		assert.Check(t, !strings.Contains(err.Error(), "hunter2"))
		assert.Check(t, cmp.ErrorContains(err, "invalid store url"))
	})

	t.Run("mongo needs a database", func(t *testing.T) {
		_, err := Open(ctx, "mongodb://localhost:27017")
		assert.Check(t, cmp.ErrorContains(err, "must name a database"))
	})

	t.Run("s3 path style must be a bool", func(t *testing.T) {
		_, err := Open(ctx, "s3://bucket/prefix?path_style=maybe")
		assert.Check(t, cmp.ErrorContains(err, "invalid path_style"))
	})
}

func TestOpened_ListUnsupported(t *testing.T) {
	s := &Opened{Store: struct{ cassette.Store }{cassette.NewMemoryStore()}, Scheme: "custom"}
	_, err := s.List(testcontext.Background())
	assert.Check(t, cmp.ErrorContains(err, "custom store cannot list cassettes"))
}

func TestDropParam(t *testing.T) {
	assert.Check(t, cmp.Equal(dropParam("redis://h:1/0?prefix=x", "prefix"), "redis://h:1/0"))
	assert.Check(t, cmp.Equal(dropParam("redis://h:1/0", "prefix"), "redis://h:1/0"))
	assert.Check(t, cmp.Equal(dropParam("mongodb://h/db?collection=c&w=1", "collection"), "mongodb://h/db?w=1"))
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
