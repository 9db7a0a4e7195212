package testcontext

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/circleci/vcr/o11y"
)

func TestBackground_MetricsProvider(t *testing.T) {
	ctx := Background()
	metrics := o11y.FromContext(ctx).MetricsProvider()

	err := metrics.Gauge("gauge", 1, nil, 1)
	assert.Assert(t, err)
}

func TestBackground_Span(t *testing.T) {
	ctx, span := o11y.StartSpan(Background(), "testcontext: span")
	span.AddField("key", "value")
	span.End()
	assert.Check(t, o11y.FromContext(ctx) == o11y.FromContext(Background()))
}
