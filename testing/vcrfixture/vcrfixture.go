// Package vcrfixture gives a test an http.Client backed by a cassette named after the test.
//
// Cassettes live in testdata/cassettes by default and replay unless VCR_MODE says otherwise,
// so refreshing them is a matter of running the tests once with VCR_MODE=record.
package vcrfixture

import (
	"context"
	"net/http"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/cassette/filestore"
	"github.com/circleci/vcr/censor"
	"github.com/circleci/vcr/match"
	"github.com/circleci/vcr/mode"
	"github.com/circleci/vcr/recorder"
)

const DefaultDir = "testdata/cassettes"

// registries holds one cassette.Registry per directory or store, so tests that share a
// cassette name, in parallel or one after another, append to the same cassette.
var registries sync.Map

func registryFor(opts Options) (*cassette.Registry, error) {
	if opts.Store != nil {
		if !reflect.TypeOf(opts.Store).Comparable() {
			return cassette.NewRegistry(opts.Store, 0), nil
		}
		reg, _ := registries.LoadOrStore(opts.Store, cassette.NewRegistry(opts.Store, 0))
		return reg.(*cassette.Registry), nil
	}

	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if reg, ok := registries.Load(dir); ok {
		return reg.(*cassette.Registry), nil
	}
	fs, err := filestore.New(filestore.Config{Dir: dir})
	if err != nil {
		return nil, err
	}
	reg, _ := registries.LoadOrStore(dir, cassette.NewRegistry(fs, 0))
	return reg.(*cassette.Registry), nil
}

type Options struct {
	// Dir holds YAML cassettes, DefaultDir when empty. Ignored when Store is set.
	Dir   string
	Store cassette.Store
	// Mode is the explicit mode, Replay when unset.
	Mode mode.Mode
	// Resolver defaults to reading VCR_MODE.
	Resolver  mode.Resolver
	Real      http.RoundTripper
	Censor    *censor.Censors
	Rules     match.Rules
	SingleUse bool
}

type Fixture struct {
	*recorder.Transport
	Cassette *cassette.Cassette
	Client   *http.Client
}

// Setup inserts the cassette called name, or the test's name when empty. The cassette is
// ejected when the test ends.
func Setup(ctx context.Context, t testing.TB, name string, opts Options) *Fixture {
	t.Helper()
	if name == "" {
		name = t.Name()
	}
	reg, err := registryFor(opts)
	assert.Assert(t, err)

	tr := recorder.NewTransport(opts.Real, recorder.Options{
		Mode:      opts.Mode,
		Resolver:  opts.Resolver,
		Censor:    opts.Censor,
		Rules:     opts.Rules,
		SingleUse: opts.SingleUse,
	})
	c := reg.Get(name)
	assert.Assert(t, tr.Insert(ctx, c))
	t.Cleanup(func() {
		tr.Eject()
	})
	return &Fixture{Transport: tr, Cassette: c, Client: tr.Client()}
}
