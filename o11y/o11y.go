// Package o11y is the observability facade used throughout the module. Code never talks to
// a logging or metrics backend directly, it asks the context for a Provider and starts spans
// or emits log events on it. Without a provider in the context everything is a no-op, so
// library users do not need any setup.
package o11y

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strconv"
	"time"

	"github.com/DataDog/datadog-go/statsd"
)

type Provider interface {
	// AddGlobalField adds data which should apply to every span in the application
	//
	// eg. version, service
	AddGlobalField(key string, val interface{})

	// StartSpan begins a new span that'll represent a unit of work.
	//
	// The caller is responsible for ending it, usually via defer:
	//
	//   ctx, span := o11y.StartSpan(ctx, "cassette: load")
	//   defer o11y.End(span, &err)
	StartSpan(ctx context.Context, name string) (context.Context, Span)

	// GetSpan returns the active span in the given context, or a noop span.
	GetSpan(ctx context.Context) Span

	// AddField adds application-level information to the currently active span.
	// Any field name will be prefixed with "app."
	AddField(ctx context.Context, key string, val interface{})

	// Log sends a zero duration event.
	Log(ctx context.Context, name string, fields ...Pair)

	Close(ctx context.Context)

	// MetricsProvider gives access to the raw metrics client.
	MetricsProvider() MetricsProvider
}

type Span interface {
	// AddField adds application-level information to the span, prefixed with "app."
	AddField(key string, val interface{})

	// AddRawField adds a field without any prefix. Library code uses this for
	// well known fields such as result, http.status_code, vcr.mode etc.
	AddRawField(key string, val interface{})

	// RecordMetric asks the provider to emit a metric when the span ends
	RecordMetric(metric Metric)

	// End completes the span. The span should not be used afterwards.
	End()
}

type MetricType string

const (
	MetricTimer MetricType = "timer"
	MetricGauge MetricType = "gauge"
	MetricCount MetricType = "count"
)

type Metric struct {
	Type MetricType
	// Name is the metric name that will be emitted
	Name string
	// Field is the span field to use as the metric's value
	Field string
	// TagFields are additional span fields to use as metric tags
	TagFields []string
}

func Timing(name string, fields ...string) Metric {
	return Metric{Type: MetricTimer, Name: name, Field: "duration_ms", TagFields: fields}
}

func Incr(name string, fields ...string) Metric {
	return Metric{Type: MetricCount, Name: name, TagFields: fields}
}

func Gauge(name string, valueField string, tagFields ...string) Metric {
	return Metric{Type: MetricGauge, Name: name, Field: valueField, TagFields: tagFields}
}

type MetricsProvider interface {
	Histogram(name string, value float64, tags []string, rate float64) error
	TimeInMilliseconds(name string, value float64, tags []string, rate float64) error
	Gauge(name string, value float64, tags []string, rate float64) error
	Count(name string, value int64, tags []string, rate float64) error
}

type ClosableMetricsProvider interface {
	MetricsProvider
	io.Closer
}

type providerKey struct{}

// WithProvider returns a child context which contains the Provider. The Provider
// can be retrieved with FromContext.
func WithProvider(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// FromContext returns the provider stored in the context, or the default noop
// provider if none exists.
func FromContext(ctx context.Context) Provider {
	provider, ok := ctx.Value(providerKey{}).(Provider)
	if !ok {
		return defaultProvider
	}
	return provider
}

// Log sends a zero duration event.
func Log(ctx context.Context, name string, fields ...Pair) {
	FromContext(ctx).Log(ctx, name, fields...)
}

// LogError sends a zero duration event carrying an error.
func LogError(ctx context.Context, name string, err error, fields ...Pair) {
	_, span := StartSpan(ctx, name)
	for _, f := range fields {
		span.AddField(f.Key, f.Value)
	}
	AddResultToSpan(span, err)
	span.End()
}

// StartSpan starts a span from a context that must contain a provider for this to have any effect.
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return FromContext(ctx).StartSpan(ctx, name)
}

// AddField adds a field to the currently active span
func AddField(ctx context.Context, key string, val interface{}) {
	FromContext(ctx).AddField(ctx, key, val)
}

// End completes a span, including using AddResultToSpan to set the error and result fields.
//
// Pass the address of a named error return so the deferred call sees the final value:
//
//	defer o11y.End(span, &err)
func End(span Span, err *error) {
	var actualErr error
	if err != nil {
		actualErr = *err
	}
	AddResultToSpan(span, actualErr)
	span.End()
}

// AddResultToSpan takes a possibly nil error, and updates the "error" and "result" fields of the span appropriately.
func AddResultToSpan(span Span, err error) {
	switch {
	case IsWarning(err):
		span.AddRawField("warning", err.Error())
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		span.AddRawField("result", "canceled")
		span.AddRawField("warning", err.Error())
		return
	case err != nil:
		span.AddRawField("result", "error")
		span.AddRawField("error", err.Error())
		return
	}
	span.AddRawField("result", "success")
}

// HandlePanic turns a recovered panic into an error, adding the stack to the span.
func HandlePanic(span Span, panic interface{}) error {
	span.AddRawField("panic", panic)
	span.AddRawField("has_panicked", "true")
	span.AddRawField("stack", string(debug.Stack()))
	span.RecordMetric(Incr("panics", "name"))
	return fmt.Errorf("panic handled: %+v", panic)
}

// Pair is a key value pair used to add metadata to a span.
type Pair struct {
	Key   string
	Value interface{}
}

// Field returns a new metadata pair.
func Field(key string, value interface{}) Pair {
	return Pair{Key: key, Value: value}
}

// EmitMetrics sends the metrics recorded on a span once it has ended. The fields are the
// final span fields, duration is the span duration. Providers call this from Span.End.
func EmitMetrics(mp MetricsProvider, metrics []Metric, fields map[string]interface{}, duration time.Duration) {
	if mp == nil {
		return
	}
	for _, m := range metrics {
		tags := metricTags(m.TagFields, fields)
		switch m.Type {
		case MetricTimer:
			val := float64(duration.Nanoseconds()) / 1e6
			if m.Field != "" && m.Field != "duration_ms" {
				if v, ok := toFloat(fields[m.Field]); ok {
					val = v
				}
			}
			_ = mp.TimeInMilliseconds(m.Name, val, tags, 1)
		case MetricGauge:
			if v, ok := toFloat(fields[m.Field]); ok {
				_ = mp.Gauge(m.Name, v, tags, 1)
			}
		case MetricCount:
			_ = mp.Count(m.Name, 1, tags, 1)
		}
	}
}

func metricTags(names []string, fields map[string]interface{}) []string {
	tags := make([]string, 0, len(names))
	for _, n := range names {
		v, ok := fields[n]
		if !ok {
			v, ok = fields["app."+n]
		}
		if !ok {
			continue
		}
		tags = append(tags, fmt.Sprintf("%s:%v", n, v))
	}
	sort.Strings(tags)
	return tags
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

var defaultProvider = &noopProvider{}

type noopProvider struct{}

func (c *noopProvider) AddGlobalField(string, interface{}) {}

func (c *noopProvider) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, &noopSpan{}
}

func (c *noopProvider) GetSpan(context.Context) Span {
	return &noopSpan{}
}

func (c *noopProvider) AddField(context.Context, string, interface{}) {}

func (c *noopProvider) Close(context.Context) {}

func (c *noopProvider) Log(context.Context, string, ...Pair) {}

func (c *noopProvider) MetricsProvider() MetricsProvider {
	return &statsd.NoOpClient{}
}

type noopSpan struct{}

func (s *noopSpan) AddField(string, interface{})    {}
func (s *noopSpan) AddRawField(string, interface{}) {}
func (s *noopSpan) RecordMetric(Metric)             {}
func (s *noopSpan) End()                            {}
