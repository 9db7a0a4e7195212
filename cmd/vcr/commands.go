package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/cassette/storeurl"
	"github.com/circleci/vcr/closer"
	"github.com/circleci/vcr/httpserver"
	"github.com/circleci/vcr/httpserver/healthcheck"
	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/recorder"
	"github.com/circleci/vcr/replayserver"
	"github.com/circleci/vcr/termination"
	"github.com/circleci/vcr/worker"
)

type globals struct {
	ctx   context.Context
	store string
	out   io.Writer
}

func (g *globals) open() (*storeurl.Opened, error) {
	return storeurl.Open(g.ctx, g.store)
}

type listCmd struct{}

func (c *listCmd) Run(g *globals) (err error) {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer closer.ContextErrorHandler(g.ctx, s, &err)

	names, err := s.List(g.ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if _, err := fmt.Fprintln(g.out, n); err != nil {
			return err
		}
	}
	return nil
}

type showCmd struct {
	Name   string `arg:"" help:"Cassette name"`
	Format string `enum:"yaml,json" default:"yaml" help:"Output format"`
	Output string `short:"o" type:"path" help:"Write to this file instead of stdout"`
}

func (c *showCmd) Run(g *globals) (err error) {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer closer.ContextErrorHandler(g.ctx, s, &err)

	interactions, err := s.Store.LoadAll(g.ctx, c.Name)
	if err != nil {
		return err
	}
	if len(interactions) == 0 {
		return fmt.Errorf("cassette %q is empty or does not exist", c.Name)
	}
	b, err := cassette.Marshal(cassette.Format(c.Format), c.Name, interactions)
	if err != nil {
		return err
	}
	if c.Output == "" {
		_, err = g.out.Write(b)
		return err
	}
	return writeFile(c.Output, b)
}

func writeFile(path string, b []byte) (err error) {
	f, err := os.Create(path) // #nosec G304 - the path is operator supplied
	if err != nil {
		return err
	}
	defer closer.ErrorHandler(f, &err)
	_, err = f.Write(b)
	return err
}

type eraseCmd struct {
	Name string `arg:"" help:"Cassette name"`
}

func (c *eraseCmd) Run(g *globals) (err error) {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer closer.ContextErrorHandler(g.ctx, s, &err)

	return cassette.New(c.Name, s.Store).Erase(g.ctx)
}

type copyCmd struct {
	Name string `arg:"" help:"Cassette name"`
	To   string `required:"" help:"Destination store URL"`
	As   string `help:"Name in the destination store, the same name by default"`
}

func (c *copyCmd) Run(g *globals) (err error) {
	ctx, span := o11y.StartSpan(g.ctx, "vcr: copy")
	defer o11y.End(span, &err)
	span.AddField("cassette", c.Name)

	src, err := g.open()
	if err != nil {
		return err
	}
	defer closer.ContextErrorHandler(ctx, src, &err)

	dst, err := storeurl.Open(ctx, c.To)
	if err != nil {
		return err
	}
	defer closer.ContextErrorHandler(ctx, dst, &err)
	span.AddField("destination", dst.Scheme)

	interactions, err := src.Store.LoadAll(ctx, c.Name)
	if err != nil {
		return err
	}
	if len(interactions) == 0 {
		return fmt.Errorf("cassette %q is empty or does not exist", c.Name)
	}
	name := c.As
	if name == "" {
		name = c.Name
	}
	span.AddField("interactions", len(interactions))
	return dst.Store.Save(ctx, name, interactions)
}

type serveCmd struct {
	Name          string        `arg:"" help:"Cassette name"`
	Addr          string        `env:"VCR_ADDR" default:":8000" help:"The address for the replay server to listen on"`
	AdminAddr     string        `env:"VCR_ADMIN_ADDR" default:":8001" help:"The address for the admin api to listen on"`
	SingleUse     bool          `env:"VCR_SINGLE_USE" help:"Answer with each interaction once"`
	SimulateDelay bool          `env:"VCR_SIMULATE_DELAY" help:"Wait for the recorded duration before answering"`
	MaxAge        time.Duration `env:"VCR_MAX_AGE" help:"Refuse interactions recorded longer ago than this"`
	ReloadEvery   time.Duration `env:"VCR_RELOAD_EVERY" help:"Reread the cassette from the store at this interval"`
}

type servers struct {
	replay      *httpserver.HTTPServer
	admin       *httpserver.HTTPServer
	store       *storeurl.Opened
	rs          *replayserver.Server
	reloadEvery time.Duration
}

func (s *servers) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.replay.Serve(ctx) })
	g.Go(func() error { return s.admin.Serve(ctx) })
	g.Go(func() error { return termination.Handle(ctx) })
	if s.reloadEvery > 0 {
		g.Go(func() error {
			worker.Run(ctx, worker.Config{
				Name:     "reload",
				Interval: s.reloadEvery,
				WorkFunc: s.rs.Reload,
			})
			return nil
		})
	}
	return g.Wait()
}

func (c *serveCmd) start(ctx context.Context, g *globals) (_ *servers, err error) {
	s, err := g.open()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = s.Close(ctx)
		}
	}()

	rs, err := replayserver.New(ctx, replayserver.Config{
		Cassette:      cassette.New(c.Name, s.Store),
		SingleUse:     c.SingleUse,
		SimulateDelay: c.SimulateDelay,
		MaxAge:        c.MaxAge,
		OnExpired:     recorder.ExpiryFail,
	})
	if err != nil {
		return nil, err
	}

	var checks []healthcheck.Checker
	if s.HealthCheck != nil {
		checks = append(checks, s.HealthCheck)
	}
	api, err := healthcheck.New(ctx, checks)
	if err != nil {
		return nil, err
	}

	replay, err := httpserver.New(ctx, httpserver.Config{Name: "replay", Addr: c.Addr, Handler: rs.Handler()})
	if err != nil {
		return nil, err
	}
	admin, err := httpserver.New(ctx, httpserver.Config{Name: "admin", Addr: c.AdminAddr, Handler: api.Handler()})
	if err != nil {
		return nil, err
	}
	return &servers{replay: replay, admin: admin, store: s, rs: rs, reloadEvery: c.ReloadEvery}, nil
}

func (c *serveCmd) Run(g *globals) (err error) {
	srv, err := c.start(g.ctx, g)
	if err != nil {
		return err
	}
	defer closer.ContextErrorHandler(g.ctx, srv.store, &err)

	o11y.Log(g.ctx, "serving cassette",
		o11y.Field("cassette", c.Name),
		o11y.Field("addr", srv.replay.Addr()),
		o11y.Field("admin_addr", srv.admin.Addr()),
	)
	err = srv.run(g.ctx)
	if errors.Is(err, termination.ErrTerminated) {
		return nil
	}
	return err
}
