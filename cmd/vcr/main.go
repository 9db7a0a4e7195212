// Command vcr inspects cassette stores and serves cassettes over HTTP.
//
//	vcr --store file:testdata/cassettes list
//	vcr show TestAlbums --format json
//	vcr copy TestAlbums --to redis://localhost:6379/0
//	vcr serve TestAlbums --addr :8000 --admin-addr :8001
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	o11yconf "github.com/circleci/vcr/config/o11y"
	"github.com/circleci/vcr/config/secret"
	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/termination"
)

// Version is set at build time.
var Version = "dev"

type cli struct {
	Store string `env:"VCR_STORE" default:"file:testdata/cassettes" help:"Cassette store URL (mem:, file:, redis:, s3:, postgres:, sqlite:, mongodb:)"`

	O11yBackend          string        `name:"o11y-backend" env:"O11Y_BACKEND" enum:"honeycomb,zap" default:"honeycomb" help:"Where spans and logs go"`
	O11yFormat           string        `name:"o11y-format" env:"O11Y_FORMAT" enum:"json,color,text" default:"text" help:"Format used for stderr logging"`
	O11yLogLevel         string        `name:"o11y-log-level" env:"O11Y_LOG_LEVEL" default:"warn" help:"Minimum level for the zap backend"`
	O11yStatsd           string        `name:"o11y-statsd" env:"O11Y_STATSD" help:"Address to send statsd metrics"`
	O11yHoneycombEnabled bool          `name:"o11y-honeycomb" env:"O11Y_HONEYCOMB" help:"Send traces to honeycomb"`
	O11yHoneycombDataset string        `name:"o11y-honeycomb-dataset" env:"O11Y_HONEYCOMB_DATASET" default:"vcr"`
	O11yHoneycombKey     secret.String `name:"o11y-honeycomb-key" env:"O11Y_HONEYCOMB_KEY"`

	List  listCmd  `cmd:"" help:"List the cassettes in the store"`
	Show  showCmd  `cmd:"" help:"Print a cassette"`
	Erase eraseCmd `cmd:"" help:"Delete a cassette"`
	Copy  copyCmd  `cmd:"" help:"Copy a cassette to another store"`
	Serve serveCmd `cmd:"" help:"Replay a cassette over HTTP"`
}

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdout, os.Exit)
	if err != nil && !errors.Is(err, termination.ErrTerminated) {
		_, _ = fmt.Fprintln(os.Stderr, "vcr:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, exit func(int)) (err error) {
	c := cli{}
	parser, err := kong.New(&c,
		kong.Name("vcr"),
		kong.Description("Record and replay HTTP interactions."),
		kong.Writers(stdout, stdout),
		kong.Exit(exit),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	ctx, cleanup, err := o11yconf.Setup(ctx, o11yconf.Config{
		Backend:                 c.O11yBackend,
		Format:                  c.O11yFormat,
		LogLevel:                c.O11yLogLevel,
		Statsd:                  c.O11yStatsd,
		HoneycombEnabled:        c.O11yHoneycombEnabled,
		HoneycombDataset:        c.O11yHoneycombDataset,
		HoneycombKey:            c.O11yHoneycombKey,
		Service:                 "vcr",
		Version:                 Version,
		StatsNamespace:          "vcr.",
		StatsdTelemetryDisabled: true,
	})
	if err != nil {
		return err
	}
	defer cleanup(ctx)

	ctx, span := o11y.StartSpan(ctx, "main: "+kctx.Command())
	defer o11y.End(span, &err)

	return kctx.Run(&globals{ctx: ctx, store: c.Store, out: stdout})
}
