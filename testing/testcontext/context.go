package testcontext

import (
	"context"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/o11y/honeycomb"
)

// ctx is a global singleton, initialised at package time so parallel tests share one provider
var ctx = newContext()

// Background returns a context for use in tests which contains a working o11y, so you get logs.
func Background() context.Context {
	return ctx
}

func newContext() context.Context {
	p := honeycomb.New(honeycomb.Config{
		Format:  "color",
		Metrics: &statsd.NoOpClient{},
	})
	p.AddGlobalField("service", "test-service")
	return o11y.WithProvider(context.Background(), p)
}
