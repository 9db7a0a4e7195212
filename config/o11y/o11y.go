// Package o11y wires an o11y.Provider from configuration. Binaries call Setup once at start
// up and defer the returned cleanup.
package o11y

import (
	"context"
	"fmt"
	"os"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/circleci/vcr/config/secret"
	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/o11y/honeycomb"
	"github.com/circleci/vcr/o11y/zaplog"
)

type Config struct {
	// Backend is "honeycomb" (default) or "zap"
	Backend string

	Statsd           string
	HoneycombEnabled bool
	HoneycombDataset string
	HoneycombKey     secret.String
	// Format is passed to the backend: json, text or colour
	Format         string
	LogLevel       string
	Version        string
	Service        string
	StatsNamespace string

	StatsdTelemetryDisabled bool
}

// Setup returns a context carrying the configured provider, and a cleanup func that
// flushes it.
func Setup(ctx context.Context, o Config) (context.Context, func(context.Context), error) {
	metrics, err := statsdClient(o)
	if err != nil {
		return nil, nil, err
	}

	var provider o11y.Provider
	switch o.Backend {
	case "", "honeycomb":
		hc := honeycomb.Config{
			Dataset:    o.HoneycombDataset,
			Key:        o.HoneycombKey.Raw(),
			Format:     o.Format,
			SendTraces: o.HoneycombEnabled,
			Metrics:    metrics,
		}
		if err := hc.Validate(); err != nil {
			return nil, nil, err
		}
		provider = honeycomb.New(hc)
	case "zap":
		logger, err := zaplog.NewLogger(zaplog.Config{Level: o.LogLevel, Format: o.Format})
		if err != nil {
			return nil, nil, err
		}
		provider = zaplog.New(logger, metrics)
	default:
		return nil, nil, fmt.Errorf("unknown o11y backend: %q", o.Backend)
	}

	provider.AddGlobalField("service", o.Service)
	provider.AddGlobalField("version", o.Version)

	return o11y.WithProvider(ctx, provider), provider.Close, nil
}

func statsdClient(o Config) (o11y.ClosableMetricsProvider, error) {
	if o.Statsd == "" {
		return &statsd.NoOpClient{}, nil
	}
	hostname, _ := os.Hostname()
	opts := []statsd.Option{
		statsd.WithNamespace(o.StatsNamespace),
		statsd.WithTags([]string{
			"service:" + o.Service,
			"version:" + o.Version,
			"hostname:" + hostname,
		}),
	}
	if o.StatsdTelemetryDisabled {
		opts = append(opts, statsd.WithoutTelemetry())
	}
	return statsd.New(o.Statsd, opts...)
}
