package s3store

import (
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/cassette/storetest"
	"github.com/circleci/vcr/testing/miniofixture"
	"github.com/circleci/vcr/testing/testcontext"
)

func TestStore(t *testing.T) {
	for _, c := range []struct {
		name     string
		format   cassette.Format
		compress bool
	}{
		{name: "json"},
		{name: "yaml zstd", format: cassette.FormatYAML, compress: true},
	} {
		t.Run(c.name, func(t *testing.T) {
			ctx := testcontext.Background()
			fix := miniofixture.Default(ctx, t)

			s, err := New(ctx, Config{
				Bucket:    fix.Bucket,
				Prefix:    "cassettes/",
				Format:    c.format,
				Compress:  c.compress,
				Endpoint:  fix.URL,
				Region:    fix.Region,
				Key:       fix.Key.Raw(),
				Secret:    fix.Secret,
				PathStyle: true,
			})
			assert.Assert(t, err)

			storetest.Run(ctx, t, s)
		})
	}
}

func TestNewWithClient_Errors(t *testing.T) {
	_, err := NewWithClient(nil, Config{})
	assert.Check(t, cmp.ErrorContains(err, "bucket is required"))
	_, err = NewWithClient(nil, Config{Bucket: "b", Format: "toml"})
	assert.Check(t, cmp.ErrorContains(err, "unknown format"))
}

func TestStore_Keys(t *testing.T) {
	s, err := NewWithClient(nil, Config{Bucket: "b", Prefix: "p/", Compress: true})
	assert.Assert(t, err)
	assert.Check(t, cmp.Equal(s.key("albums"), "p/albums.json.zst"))
	assert.Check(t, cmp.Equal(s.contentType(), "application/zstd"))
}
