package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/cassette/filestore"
	"github.com/circleci/vcr/recorder"
	"github.com/circleci/vcr/testing/kongtest"
	"github.com/circleci/vcr/testing/testcontext"
)

func seed(t *testing.T, dir string, names ...string) {
	t.Helper()
	s, err := filestore.New(filestore.Config{Dir: dir})
	assert.Assert(t, err)
	for _, n := range names {
		assert.Assert(t, s.Save(context.Background(), n, []cassette.Interaction{{
			Request: cassette.Request{Method: http.MethodGet, URL: "https://api.example/albums"},
			Response: cassette.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"application/json"}},
				Body:       []byte(`[{"id":1}]`),
			},
			RecordedAt: time.Now().UTC(),
		}}))
	}
}

func vcr(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	args = append([]string{"--o11y-backend", "zap", "--o11y-log-level", "error"}, args...)
	err := run(context.Background(), args, out, func(int) {})
	return out.String(), err
}

func TestHelp(t *testing.T) {
	s := kongtest.Help(t, &cli{})
	for _, cmd := range []string{"list", "show", "erase", "copy", "serve"} {
		assert.Check(t, cmp.Contains(s, cmd))
	}
	assert.Check(t, cmp.Contains(s, "$VCR_STORE"))
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "albums", "nested/tracks")
	store := "file:" + dir

	t.Run("list", func(t *testing.T) {
		out, err := vcr(t, "--store", store, "list")
		assert.Assert(t, err)
		assert.Check(t, cmp.Equal(out, "albums\nnested/tracks\n"))
	})

	t.Run("show", func(t *testing.T) {
		out, err := vcr(t, "--store", store, "show", "albums")
		assert.Assert(t, err)
		assert.Check(t, cmp.Contains(out, "name: albums"))
		assert.Check(t, cmp.Contains(out, "https://api.example/albums"))

		out, err = vcr(t, "--store", store, "show", "albums", "--format", "json")
		assert.Assert(t, err)
		assert.Check(t, cmp.Contains(out, `"name": "albums"`))
	})

	t.Run("show to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "albums.json")
		_, err := vcr(t, "--store", store, "show", "albums", "--format", "json", "-o", path)
		assert.Assert(t, err)
		b, err := os.ReadFile(path)
		assert.Assert(t, err)
		assert.Check(t, cmp.Contains(string(b), `"interactions"`))
	})

	t.Run("show missing", func(t *testing.T) {
		_, err := vcr(t, "--store", store, "show", "nope")
		assert.Check(t, cmp.ErrorContains(err, `cassette "nope" is empty or does not exist`))
	})

	t.Run("copy", func(t *testing.T) {
		other := t.TempDir()
		_, err := vcr(t, "--store", store, "copy", "albums", "--to", "file:"+other+"?format=json", "--as", "copied")
		assert.Assert(t, err)
		_, err = os.Stat(filepath.Join(other, "copied.json"))
		assert.Check(t, err)

		out, err := vcr(t, "--store", "file:"+other+"?format=json", "show", "copied")
		assert.Assert(t, err)
		assert.Check(t, cmp.Contains(out, "name: copied"))
	})

	t.Run("erase", func(t *testing.T) {
		_, err := vcr(t, "--store", store, "erase", "albums")
		assert.Assert(t, err)
		out, err := vcr(t, "--store", store, "list")
		assert.Assert(t, err)
		assert.Check(t, cmp.Equal(out, "nested/tracks\n"))
	})

	t.Run("bad store", func(t *testing.T) {
		_, err := vcr(t, "--store", "ftp://nowhere", "list")
		assert.Check(t, cmp.ErrorContains(err, "unknown cassette store scheme"))
	})
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(testcontext.Background())
	defer cancel()
	dir := t.TempDir()
	seed(t, dir, "albums")

	cmd := &serveCmd{
		Name:        "albums",
		Addr:        "localhost:0",
		AdminAddr:   "localhost:0",
		ReloadEvery: 20 * time.Millisecond,
	}
	srv, err := cmd.start(ctx, &globals{ctx: ctx, store: "file:" + dir, out: io.Discard})
	assert.Assert(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.Check(t, <-done)
		assert.Check(t, srv.store.Close(context.Background()))
	})

	get := func(url string) (*http.Response, string) {
		res, err := http.Get(url)
		assert.Assert(t, err)
		defer res.Body.Close()
		b, err := io.ReadAll(res.Body)
		assert.Assert(t, err)
		return res, string(b)
	}
	replayURL := "http://" + srv.replay.Addr()

	t.Run("replays", func(t *testing.T) {
		res, body := get(replayURL + "/albums")
		assert.Check(t, cmp.Equal(res.StatusCode, http.StatusOK))
		assert.Check(t, cmp.Equal(body, `[{"id":1}]`))
		assert.Check(t, cmp.Equal(res.Header.Get(recorder.ReplayedHeader), "true"))
	})

	t.Run("misses", func(t *testing.T) {
		res, _ := get(replayURL + "/tracks")
		assert.Check(t, cmp.Equal(res.StatusCode, http.StatusNotFound))
	})

	t.Run("ready", func(t *testing.T) {
		res, _ := get("http://" + srv.admin.Addr() + "/ready")
		assert.Check(t, cmp.Equal(res.StatusCode, http.StatusOK))
	})

	t.Run("picks up store changes", func(t *testing.T) {
		s, err := filestore.New(filestore.Config{Dir: dir})
		assert.Assert(t, err)
		c := cassette.New("albums", s)
		assert.Assert(t, c.Load(ctx))
		assert.Assert(t, c.Append(ctx, cassette.Interaction{
			Request:  cassette.Request{Method: http.MethodGet, URL: "https://api.example/tracks"},
			Response: cassette.Response{StatusCode: http.StatusOK, Body: []byte(`[]`)},
		}))

		poll.WaitOn(t, func(t poll.LogT) poll.Result {
			res, err := http.Get(replayURL + "/tracks")
			if err != nil {
				return poll.Error(err)
			}
			_ = res.Body.Close()
			if res.StatusCode != http.StatusOK {
				return poll.Continue("got %d", res.StatusCode)
			}
			return poll.Success()
		}, poll.WithTimeout(5*time.Second), poll.WithDelay(20*time.Millisecond))
	})
}
