package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/circleci/vcr/o11y"
)

type Config struct {
	Name string
	// Interval is the wait between successful runs.
	Interval time.Duration
	// ErrorBackOff replaces Interval after a failed run, it is reset by the next success.
	ErrorBackOff backoff.BackOff
	// MaxWorkTime bounds a single run, it defaults to Interval.
	MaxWorkTime time.Duration
	WorkFunc    func(ctx context.Context) error
	waiter      func(ctx context.Context, delay time.Duration)
}

// Run calls WorkFunc every Interval until the context is cancelled.
func Run(ctx context.Context, cfg Config) {
	cfg = setDefaults(cfg)
	cfg.ErrorBackOff.Reset()
	provider := o11y.FromContext(ctx)

	for ctx.Err() == nil {
		cfg.waiter(ctx, doWork(provider, cfg))
	}
}

func setDefaults(cfg Config) Config {
	if cfg.waiter == nil {
		cfg.waiter = wait
	}
	if cfg.MaxWorkTime <= 0 {
		cfg.MaxWorkTime = cfg.Interval
	}
	if cfg.ErrorBackOff == nil {
		cfg.ErrorBackOff = defaultBackOff(cfg.Interval)
	}
	return cfg
}

func wait(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func defaultBackOff(interval time.Duration) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     interval,
		RandomizationFactor: 0.1,
		Multiplier:          2,
		MaxInterval:         interval * 8,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func doWork(provider o11y.Provider, cfg Config) (delay time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.MaxWorkTime)
	defer cancel()

	ctx = o11y.WithProvider(ctx, provider)
	ctx, span := provider.StartSpan(ctx, "worker loop: "+cfg.Name)
	span.RecordMetric(o11y.Timing("worker_loop", "loop_name", "result"))
	span.AddField("loop_name", cfg.Name)
	var err error
	defer o11y.End(span, &err)

	defer func() {
		if r := recover(); r != nil {
			err = o11y.HandlePanic(span, r)
			delay = cfg.ErrorBackOff.NextBackOff()
			span.AddField("delay_ms", delay.Milliseconds())
		}
	}()

	delay = cfg.Interval
	err = cfg.WorkFunc(ctx)
	if err != nil {
		delay = cfg.ErrorBackOff.NextBackOff()
	} else {
		cfg.ErrorBackOff.Reset()
	}
	span.AddField("delay_ms", delay.Milliseconds())
	return delay
}
