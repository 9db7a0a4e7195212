// Package zaplog is an o11y provider that writes each finished span as one structured zap
// entry. It suits local runs and CI logs where shipping events to Honeycomb is not wanted.
package zaplog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/circleci/vcr/o11y"
)

type Config struct {
	// Level is any level zap understands, default "info".
	Level string
	// Format is "json" (default) or "text".
	Format  string
	Metrics o11y.ClosableMetricsProvider
}

// NewLogger builds the zap logger the provider writes to.
func NewLogger(c Config) (*zap.Logger, error) {
	var zc zap.Config
	switch c.Format {
	case "json", "":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.MessageKey = "name"
	case "text":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unsupported log format: %s", c.Format)
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %s: %w", c.Level, err)
		}
		zc.Level = level
	}
	zc.DisableCaller = true
	return zc.Build()
}

type provider struct {
	logger  *zap.Logger
	metrics o11y.ClosableMetricsProvider

	mu     sync.RWMutex
	global []zap.Field
}

// New returns a provider writing to logger. Metrics may be nil.
func New(logger *zap.Logger, metrics o11y.ClosableMetricsProvider) o11y.Provider {
	return &provider{logger: logger, metrics: metrics}
}

func (p *provider) AddGlobalField(key string, val interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.global = append(p.global, zap.Any(key, val))
}

type spanKey struct{}

func (p *provider) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	s := &span{
		provider: p,
		name:     name,
		start:    time.Now(),
		fields:   map[string]interface{}{},
	}
	if parent, ok := ctx.Value(spanKey{}).(*span); ok {
		s.parent = parent.name
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

func (p *provider) GetSpan(ctx context.Context) o11y.Span {
	if s, ok := ctx.Value(spanKey{}).(*span); ok {
		return s
	}
	return o11y.FromContext(context.Background()).GetSpan(ctx)
}

func (p *provider) AddField(ctx context.Context, key string, val interface{}) {
	if s, ok := ctx.Value(spanKey{}).(*span); ok {
		s.AddField(key, val)
	}
}

func (p *provider) Log(ctx context.Context, name string, fields ...o11y.Pair) {
	_, s := p.StartSpan(ctx, name)
	for _, f := range fields {
		s.AddField(f.Key, f.Value)
	}
	s.End()
}

func (p *provider) Close(_ context.Context) {
	_ = p.logger.Sync()
	if p.metrics != nil {
		_ = p.metrics.Close()
	}
}

func (p *provider) MetricsProvider() o11y.MetricsProvider {
	if p.metrics == nil {
		return nil
	}
	return p.metrics
}

type span struct {
	provider *provider
	name     string
	parent   string
	start    time.Time

	mu      sync.Mutex
	fields  map[string]interface{}
	metrics []o11y.Metric
}

func (s *span) AddField(key string, val interface{}) {
	s.AddRawField("app."+key, val)
}

func (s *span) AddRawField(key string, val interface{}) {
	if err, ok := val.(error); ok {
		val = err.Error()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[key] = val
}

func (s *span) RecordMetric(m o11y.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
}

func (s *span) End() {
	duration := time.Since(s.start)

	s.mu.Lock()
	fields := make(map[string]interface{}, len(s.fields)+1)
	for k, v := range s.fields {
		fields[k] = v
	}
	metrics := s.metrics
	s.mu.Unlock()
	fields["duration_ms"] = float64(duration.Nanoseconds()) / 1e6

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.provider.mu.RLock()
	zf := make([]zap.Field, 0, len(keys)+len(s.provider.global)+1)
	zf = append(zf, s.provider.global...)
	s.provider.mu.RUnlock()
	if s.parent != "" {
		zf = append(zf, zap.String("parent", s.parent))
	}
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}

	level := zapcore.InfoLevel
	switch {
	case fields["result"] == "error":
		level = zapcore.ErrorLevel
	case fields["warning"] != nil:
		level = zapcore.WarnLevel
	}
	if ce := s.provider.logger.Check(level, s.name); ce != nil {
		ce.Write(zf...)
	}

	o11y.EmitMetrics(s.provider.MetricsProvider(), metrics, fields, duration)
}
