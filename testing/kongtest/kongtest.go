// Package kongtest parses kong CLIs in tests without exiting the test binary.
package kongtest

import (
	"bytes"
	"testing"

	"github.com/alecthomas/kong"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

// Help returns the --help output of cli, asserting that kong asked to exit cleanly.
func Help(t *testing.T, cli interface{}, args ...string) string {
	t.Helper()
	w := bytes.NewBuffer(nil)
	rc := -1
	app, err := kong.New(cli,
		kong.Name("test-app"),
		kong.Writers(w, w),
		kong.Exit(func(i int) {
			rc = i
		}),
	)
	assert.Assert(t, err)

	_, _ = app.Parse(append(args, "--help"))
	assert.Check(t, cmp.Equal(0, rc))

	return w.String()
}

// Parse parses args into cli, failing the test on a parse error.
func Parse(t *testing.T, cli interface{}, args ...string) *kong.Context {
	t.Helper()
	app, err := kong.New(cli, kong.Name("test-app"), kong.Exit(func(int) {
		t.Fatal("kong tried to exit")
	}))
	assert.Assert(t, err)
	ctx, err := app.Parse(args)
	assert.Assert(t, err)
	return ctx
}
