// Package redisfixture connects tests to a local Redis, isolating each test under its own
// key prefix. Tests are skipped when Redis is not running, unless CI is set.
package redisfixture

import (
	"context"
	"os"
	"strings"

	"github.com/go-redis/redis/v8"
	"gotest.tools/v3/assert"

	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/testing/testrand"
	"github.com/circleci/vcr/testing/internal/types"
)

type Fixture struct {
	*redis.Client
	Addr string
	// Prefix is unique to the test, keys under it are removed on cleanup
	Prefix string
}

type Connection struct {
	Addr string
}

func Setup(ctx context.Context, t types.TestingTB, con Connection) *Fixture {
	t.Helper()
	ctx, span := o11y.StartSpan(ctx, "redisfixture: setup")
	defer span.End()

	if con.Addr == "" {
		con.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: con.Addr})
	t.Cleanup(func() {
		assert.Check(t, client.Close())
	})

	if err := client.Ping(ctx).Err(); err != nil {
		if !strings.EqualFold(os.Getenv("CI"), "true") {
			t.Skip("Redis not available")
		}
		assert.Assert(t, err)
	}

	prefix := testrand.Name(t.Name(), ":", 0) + ":"
	span.AddField("prefix", prefix)

	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			assert.Check(t, client.Del(ctx, iter.Val()).Err())
		}
		assert.Check(t, iter.Err())
	})

	return &Fixture{
		Client: client,
		Addr:   con.Addr,
		Prefix: prefix,
	}
}
