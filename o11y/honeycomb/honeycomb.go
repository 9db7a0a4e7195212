// Package honeycomb implements an o11y provider on top of libhoney. Every span becomes one
// event. Events are written to stderr as JSON or text, and optionally shipped to Honeycomb.
package honeycomb

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/honeycombio/libhoney-go"
	"github.com/honeycombio/libhoney-go/transmission"

	"github.com/circleci/vcr/o11y"
)

type Config struct {
	Host       string
	Dataset    string
	Key        string
	Format     string
	SendTraces bool // Should we actually send the traces to the honeycomb server?
	// Sender replaces the honeycomb sender, mostly for tests
	Sender  transmission.Sender
	Writer  io.Writer
	Metrics o11y.ClosableMetricsProvider
}

func (c *Config) Validate() error {
	// The key is only needed when sending traces with the default Sender
	if c.SendTraces && c.Key == "" && c.Sender == nil {
		return errors.New("honeycomb_key key required for honeycomb")
	}
	return nil
}

// sender returns the transmission.Sender based on Format and SendTraces.
func (c *Config) sender() transmission.Sender {
	writer := c.Writer
	if writer == nil {
		writer = os.Stderr
	}

	s := &multiSender{}
	if c.SendTraces {
		if c.Sender == nil {
			s.senders = append(s.senders, &transmission.Honeycomb{
				MaxBatchSize:         libhoney.DefaultMaxBatchSize,
				BatchTimeout:         libhoney.DefaultBatchTimeout,
				MaxConcurrentBatches: libhoney.DefaultMaxConcurrentBatches,
				PendingWorkCapacity:  libhoney.DefaultPendingWorkCapacity,
			})
		} else {
			s.senders = append(s.senders, c.Sender)
		}
	}

	switch c.Format {
	case "text":
		s.senders = append(s.senders, &TextSender{w: writer})
	case "colour", "color":
		s.senders = append(s.senders, &TextSender{w: writer, colour: true})
	case "none":
	default:
		s.senders = append(s.senders, &transmission.WriterSender{W: writer})
	}
	return s
}

type provider struct {
	client  *libhoney.Client
	metrics o11y.ClosableMetricsProvider
}

// New creates a provider emitting one libhoney event per span.
func New(conf Config) o11y.Provider {
	key := conf.Key
	if key == "" {
		// libhoney refuses events without a key, even for local senders
		key = "local"
	}
	dataset := conf.Dataset
	if dataset == "" {
		dataset = "vcr"
	}
	// NewClient only errors on invalid config, which the defaults above avoid
	client, _ := libhoney.NewClient(libhoney.ClientConfig{
		APIKey:       key,
		Dataset:      dataset,
		APIHost:      conf.Host,
		Transmission: conf.sender(),
	})
	return &provider{
		client:  client,
		metrics: conf.Metrics,
	}
}

func (p *provider) AddGlobalField(key string, val interface{}) {
	p.client.AddField(key, val)
}

type spanKey struct{}

func (p *provider) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	s := &span{
		provider: p,
		name:     name,
		id:       uuid.NewString(),
		start:    time.Now(),
		fields:   map[string]interface{}{},
	}
	if parent := spanFromContext(ctx); parent != nil {
		s.traceID = parent.traceID
		s.parentID = parent.id
	} else {
		s.traceID = uuid.NewString()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

func (p *provider) GetSpan(ctx context.Context) o11y.Span {
	if s := spanFromContext(ctx); s != nil {
		return s
	}
	return o11y.FromContext(context.Background()).GetSpan(ctx)
}

func (p *provider) AddField(ctx context.Context, key string, val interface{}) {
	if s := spanFromContext(ctx); s != nil {
		s.AddField(key, val)
	}
}

func (p *provider) Log(ctx context.Context, name string, fields ...o11y.Pair) {
	_, s := p.StartSpan(ctx, name)
	for _, f := range fields {
		s.AddField(f.Key, f.Value)
	}
	s.AddRawField("meta.type", "log")
	s.End()
}

func (p *provider) Close(_ context.Context) {
	p.client.Close()
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

func spanFromContext(ctx context.Context) *span {
	s, _ := ctx.Value(spanKey{}).(*span)
	return s
}

type span struct {
	provider *provider
	name     string
	id       string
	traceID  string
	parentID string
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

func (s *span) RecordMetric(metric o11y.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, metric)
}

func (s *span) End() {
	duration := time.Since(s.start)

	s.mu.Lock()
	fields := make(map[string]interface{}, len(s.fields)+5)
	for k, v := range s.fields {
		fields[k] = v
	}
	metrics := s.metrics
	s.mu.Unlock()

	fields["name"] = s.name
	fields["duration_ms"] = float64(duration.Nanoseconds()) / 1e6
	fields["trace.trace_id"] = s.traceID
	fields["trace.span_id"] = s.id
	if s.parentID != "" {
		fields["trace.parent_id"] = s.parentID
	}

	ev := s.provider.client.NewEvent()
	ev.Timestamp = s.start
	_ = ev.Add(fields)
	_ = ev.Send()

	o11y.EmitMetrics(s.provider.MetricsProvider(), metrics, fields, duration)
}

// multiSender fans events out to several senders.
type multiSender struct {
	senders   []transmission.Sender
	responses chan transmission.Response
}

func (m *multiSender) Add(ev *transmission.Event) {
	for _, s := range m.senders {
		s.Add(ev)
	}
}

func (m *multiSender) Start() error {
	m.responses = make(chan transmission.Response, 100)
	for _, s := range m.senders {
		if err := s.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiSender) Stop() error {
	var err error
	for _, s := range m.senders {
		if serr := s.Stop(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

func (m *multiSender) Flush() error {
	var err error
	for _, s := range m.senders {
		if ferr := s.Flush(); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}

func (m *multiSender) TxResponses() chan transmission.Response {
	return m.responses
}

func (m *multiSender) SendResponse(r transmission.Response) bool {
	select {
	case m.responses <- r:
	default:
		return true
	}
	return false
}
