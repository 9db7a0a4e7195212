// Package recorder intercepts calls made through a transport and records, replays or
// passes them through depending on the effective mode.
//
// The Engine is generic over the transport's request and response types. A Converter maps
// them to the cassette's transport independent form. Transport binds the engine to
// net/http.
//
// Replay never reaches the Sender: a request with no matching interaction fails with a
// *NoMatchError.
package recorder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/censor"
	"github.com/circleci/vcr/match"
	"github.com/circleci/vcr/mode"
	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/recontext"
)

// ReplayedHeader is set to "true" on every replayed response, and only on those.
const ReplayedHeader = "X-Vcr-Replayed"

// storeTimeout bounds persisting a recorded interaction, which outlives the caller's context.
const storeTimeout = 30 * time.Second

// Sender performs the real call.
type Sender[Req, Res any] interface {
	Send(ctx context.Context, req Req) (Res, error)
}

type SenderFunc[Req, Res any] func(ctx context.Context, req Req) (Res, error)

func (f SenderFunc[Req, Res]) Send(ctx context.Context, req Req) (Res, error) {
	return f(ctx, req)
}

// Converter maps transport values to and from the cassette form. Request and Response
// must leave their argument usable by the caller afterwards, e.g. by restoring a consumed
// body.
type Converter[Req, Res any] interface {
	Request(req Req) (cassette.Request, error)
	Response(res Res) (cassette.Response, error)
	// Replay builds the transport response for req from a recorded response.
	Replay(req Req, res cassette.Response) (Res, error)
}

type Expiry int

const (
	// ExpiryWarn logs old interactions and replays them anyway.
	ExpiryWarn Expiry = iota
	// ExpiryFail returns ErrInteractionExpired.
	ExpiryFail
)

type Options struct {
	// Mode is the explicit mode, Replay when unset.
	Mode mode.Mode
	// Resolver samples the override signal, the zero Resolver reads VCR_MODE.
	Resolver mode.Resolver
	// Censor defaults to censor.Default, use censor.Nop to store interactions as sent.
	Censor *censor.Censors
	// Rules defaults to match.Default.
	Rules match.Rules
	// SingleUse hands out each recorded interaction once per loaded cassette. By default an
	// interaction answers any number of identical requests.
	SingleUse bool
	// SimulateDelay waits for the recorded duration before returning a replayed response.
	SimulateDelay bool
	// MaxAge enables expiry checks on replayed interactions when positive.
	MaxAge    time.Duration
	OnExpired Expiry
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Engine[Req, Res any] struct {
	sender    Sender[Req, Res]
	converter Converter[Req, Res]
	opts      Options

	mu       sync.RWMutex
	mode     mode.Mode
	cassette *cassette.Cassette
}

func New[Req, Res any](sender Sender[Req, Res], converter Converter[Req, Res], opts Options) *Engine[Req, Res] {
	if opts.Censor == nil {
		opts.Censor = censor.Default()
	}
	if opts.Rules == nil {
		opts.Rules = match.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine[Req, Res]{
		sender:    sender,
		converter: converter,
		opts:      opts,
		mode:      opts.Mode,
	}
}

// Insert loads c and makes it the active cassette.
func (e *Engine[Req, Res]) Insert(ctx context.Context, c *cassette.Cassette) error {
	if err := c.Load(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cassette = c
	return nil
}

// Eject detaches the active cassette and returns it. Nothing is deleted.
func (e *Engine[Req, Res]) Eject() *cassette.Cassette {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.cassette
	e.cassette = nil
	return c
}

// Cassette returns the active cassette, or nil.
func (e *Engine[Req, Res]) Cassette() *cassette.Cassette {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cassette
}

// SetMode changes the explicit mode. The override signal still applies on top of it.
func (e *Engine[Req, Res]) SetMode(m mode.Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = m
}

func (e *Engine[Req, Res]) Mode() mode.Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Pause switches to Bypass, which no override can undo.
func (e *Engine[Req, Res]) Pause()  { e.SetMode(mode.Bypass) }
func (e *Engine[Req, Res]) Record() { e.SetMode(mode.Record) }
func (e *Engine[Req, Res]) Replay() { e.SetMode(mode.Replay) }

// EffectiveMode resolves the mode a call made now would use.
func (e *Engine[Req, Res]) EffectiveMode(ctx context.Context) mode.Mode {
	return e.opts.Resolver.Resolve(ctx, e.Mode())
}

// Do handles one call according to the effective mode. In Record mode the live response is
// returned as received, censoring only applies to what is stored. If storing fails the
// live response is returned together with the error.
func (e *Engine[Req, Res]) Do(ctx context.Context, req Req) (res Res, err error) {
	ctx, span := o11y.StartSpan(ctx, "vcr: interaction")
	defer o11y.End(span, &err)

	m := e.EffectiveMode(ctx)
	span.AddRawField("vcr.mode", m.String())
	span.RecordMetric(o11y.Timing("vcr.interaction", "vcr.mode", "vcr.outcome", "result"))

	switch m {
	case mode.Bypass:
		span.AddRawField("vcr.outcome", "bypassed")
		return e.sender.Send(ctx, req)
	case mode.Record:
		return e.record(ctx, span, req)
	default:
		return e.replay(ctx, span, req)
	}
}

func (e *Engine[Req, Res]) record(ctx context.Context, span o11y.Span, req Req) (res Res, err error) {
	c := e.Cassette()
	if c == nil {
		return res, ErrNoActiveCassette
	}
	span.AddField("cassette", c.Name())

	creq, err := e.converter.Request(req)
	if err != nil {
		return res, fmt.Errorf("convert request: %w", err)
	}

	start := e.opts.Clock()
	res, err = e.sender.Send(ctx, req)
	if err != nil {
		span.AddRawField("vcr.outcome", "send_failed")
		return res, err
	}
	duration := e.opts.Clock().Sub(start)

	cres, err := e.converter.Response(res)
	if err != nil {
		return res, fmt.Errorf("convert response: %w", err)
	}

	in := cassette.Interaction{
		Request:    e.opts.Censor.RedactRequest(creq),
		Response:   e.opts.Censor.RedactResponse(cres),
		RecordedAt: start.UTC(),
		Duration:   duration,
	}
	sctx, cancel := recontext.WithNewTimeout(ctx, storeTimeout)
	defer cancel()
	if err := c.Append(sctx, in); err != nil {
		return res, err
	}
	span.AddRawField("vcr.outcome", "recorded")
	return res, nil
}

func (e *Engine[Req, Res]) replay(ctx context.Context, span o11y.Span, req Req) (res Res, err error) {
	c := e.Cassette()
	if c == nil {
		return res, ErrNoActiveCassette
	}
	span.AddField("cassette", c.Name())

	creq, err := e.converter.Request(req)
	if err != nil {
		return res, fmt.Errorf("convert request: %w", err)
	}
	outgoing := e.opts.Censor.RedactRequest(creq)

	var reasons []string
	in, ok, err := c.Select(ctx, func(is []cassette.Interaction) (int, bool) {
		i, ok := e.opts.Rules.Index(outgoing, is)
		if !ok {
			reasons = missReasons(e.opts.Rules, outgoing, is)
		}
		return i, ok
	}, e.opts.SingleUse)
	if err != nil {
		return res, err
	}
	if !ok {
		span.AddRawField("vcr.outcome", "miss")
		return res, &NoMatchError{
			Cassette:   c.Name(),
			Method:     outgoing.Method,
			URL:        outgoing.URL,
			Rules:      e.opts.Rules.Names(),
			Candidates: c.Len(),
			Reasons:    reasons,
		}
	}

	if err := e.checkAge(ctx, in); err != nil {
		span.AddRawField("vcr.outcome", "expired")
		return res, err
	}

	if e.opts.SimulateDelay && in.Duration > 0 {
		t := time.NewTimer(in.Duration)
		select {
		case <-ctx.Done():
			t.Stop()
			return res, ctx.Err()
		case <-t.C:
		}
	}

	replayed := in.Response.Clone()
	if replayed.Header == nil {
		replayed.Header = make(map[string][]string)
	}
	replayed.Header.Set(ReplayedHeader, "true")

	span.AddRawField("vcr.outcome", "replayed")
	return e.converter.Replay(req, replayed)
}

func (e *Engine[Req, Res]) checkAge(ctx context.Context, in cassette.Interaction) error {
	if e.opts.MaxAge <= 0 || in.RecordedAt.IsZero() {
		return nil
	}
	age := e.opts.Clock().Sub(in.RecordedAt)
	if age <= e.opts.MaxAge {
		return nil
	}
	if e.opts.OnExpired == ExpiryFail {
		return fmt.Errorf("%w: %s %s recorded %s ago", ErrInteractionExpired,
			in.Request.Method, in.Request.URL, age.Round(time.Second))
	}
	o11y.Log(ctx, "vcr: replaying expired interaction",
		o11y.Field("method", in.Request.Method),
		o11y.Field("url", in.Request.URL),
		o11y.Field("age", age.String()),
	)
	return nil
}

// maxMissReasons caps how many candidates a miss reports on.
const maxMissReasons = 5

// missReasons names, for each of the first few candidates, the rules that rejected it.
func missReasons(rules match.Rules, outgoing cassette.Request, candidates []cassette.Interaction) []string {
	n := min(len(candidates), maxMissReasons)
	reasons := make([]string, 0, n)
	for i, in := range candidates[:n] {
		failed := match.Describe(rules, in.Request, outgoing)
		reasons = append(reasons, fmt.Sprintf("#%d %s %s: rejected by %s",
			i, in.Request.Method, in.Request.URL, strings.Join(failed, ",")))
	}
	if len(candidates) > n {
		reasons = append(reasons, fmt.Sprintf("%d more not shown", len(candidates)-n))
	}
	return reasons
}
