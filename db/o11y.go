package db

import (
	"context"
	"fmt"

	"github.com/circleci/vcr/o11y"
)

// Span starts a span for one query against entity, recording a db.query timing metric.
func Span(ctx context.Context, driverName, entity, queryName string) (context.Context, o11y.Span) {
	ctx, span := o11y.StartSpan(ctx, fmt.Sprintf("db: %s.%s", entity, queryName))
	span.RecordMetric(o11y.Timing("db.query", "db.entity", "db.query_name", "result"))
	span.AddRawField("db.system", System(driverName))
	span.AddRawField("db.entity", entity)
	span.AddRawField("db.query_name", queryName)
	return ctx, span
}
