package replayserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/recorder"
	"github.com/circleci/vcr/testing/testcontext"
)

func recorded(method, url string, status int, body string, at time.Time) cassette.Interaction {
	return cassette.Interaction{
		Request: cassette.Request{Method: method, URL: url},
		Response: cassette.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       []byte(body),
		},
		RecordedAt: at,
		Duration:   10 * time.Millisecond,
	}
}

func start(ctx context.Context, t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	s, err := New(ctx, cfg)
	assert.Assert(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, method, url string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	assert.Assert(t, err)
	res, err := http.DefaultClient.Do(req)
	assert.Assert(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	assert.Assert(t, err)
	return res, string(b)
}

func TestServer(t *testing.T) {
	ctx := testcontext.Background()
	store := cassette.NewMemoryStore()
	now := time.Now().UTC()
	assert.Assert(t, store.Save(ctx, "albums", []cassette.Interaction{
		recorded(http.MethodGet, "https://api.example/albums/1?fields=title", 200, `{"id":1}`, now),
		recorded(http.MethodDelete, "https://api.example/albums/1", 204, ``, now),
	}))
	srv := start(ctx, t, Config{Cassette: cassette.New("albums", store)})

	t.Run("replays ignoring host", func(t *testing.T) {
		res, body := call(t, http.MethodGet, srv.URL+"/albums/1?fields=title")
		assert.Check(t, cmp.Equal(res.StatusCode, http.StatusOK))
		assert.Check(t, cmp.Equal(body, `{"id":1}`))
		assert.Check(t, cmp.Equal(res.Header.Get("Content-Type"), "application/json"))
		assert.Check(t, cmp.Equal(res.Header.Get(recorder.ReplayedHeader), "true"))
	})

	t.Run("reusable by default", func(t *testing.T) {
		res, _ := call(t, http.MethodGet, srv.URL+"/albums/1?fields=title")
		assert.Check(t, cmp.Equal(res.StatusCode, http.StatusOK))
	})

	t.Run("no content", func(t *testing.T) {
		res, body := call(t, http.MethodDelete, srv.URL+"/albums/1")
		assert.Check(t, cmp.Equal(res.StatusCode, http.StatusNoContent))
		assert.Check(t, cmp.Equal(body, ""))
	})

	t.Run("miss explains itself", func(t *testing.T) {
		res, body := call(t, http.MethodGet, srv.URL+"/albums/1?fields=artist")
		assert.Check(t, cmp.Equal(res.StatusCode, http.StatusNotFound))
		assert.Check(t, cmp.Equal(res.Header.Get(recorder.ReplayedHeader), ""))

		var miss missResponse
		assert.Assert(t, json.Unmarshal([]byte(body), &miss))
		assert.Check(t, cmp.Equal(miss.Cassette, "albums"))
		assert.Check(t, cmp.Equal(miss.Method, http.MethodGet))
		assert.Check(t, cmp.Equal(miss.URL, "/albums/1?fields=artist"))
		assert.Check(t, cmp.DeepEqual(miss.Rules, []string{"method", "path", "query"}))
		assert.Check(t, cmp.Equal(miss.Candidates, 2))
		assert.Check(t, cmp.DeepEqual(miss.Reasons, []string{
			"#0 GET https://api.example/albums/1?fields=title: rejected by query",
			"#1 DELETE https://api.example/albums/1: rejected by method,query",
		}))
		assert.Check(t, cmp.Contains(miss.Error, "no interaction"))
	})

	t.Run("status", func(t *testing.T) {
		res, body := call(t, http.MethodGet, srv.URL+"/_vcr/status")
		assert.Check(t, cmp.Equal(res.StatusCode, http.StatusOK))
		assert.Check(t, cmp.Equal(body, `{"cassette":"albums","interactions":2}`))
	})

	t.Run("reload picks up edits", func(t *testing.T) {
		assert.Assert(t, store.Save(ctx, "albums", []cassette.Interaction{
			recorded(http.MethodGet, "https://api.example/albums/1?fields=artist", 200, `{"artist":"x"}`, now),
		}))
		res, body := call(t, http.MethodPost, srv.URL+"/_vcr/reload")
		assert.Check(t, cmp.Equal(res.StatusCode, http.StatusOK))
		assert.Check(t, cmp.Equal(body, `{"cassette":"albums","interactions":1}`))

		res, body = call(t, http.MethodGet, srv.URL+"/albums/1?fields=artist")
		assert.Check(t, cmp.Equal(res.StatusCode, http.StatusOK))
		assert.Check(t, cmp.Equal(body, `{"artist":"x"}`))
	})
}

func TestServer_SingleUse(t *testing.T) {
	ctx := testcontext.Background()
	store := cassette.NewMemoryStore()
	assert.Assert(t, store.Save(ctx, "jobs", []cassette.Interaction{
		recorded(http.MethodPost, "https://api.example/jobs", 202, `{"n":1}`, time.Now()),
		recorded(http.MethodPost, "https://api.example/jobs", 202, `{"n":2}`, time.Now()),
	}))
	srv := start(ctx, t, Config{Cassette: cassette.New("jobs", store), SingleUse: true})

	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		res, body := call(t, http.MethodPost, srv.URL+"/jobs")
		assert.Check(t, cmp.Equal(res.StatusCode, http.StatusAccepted))
		assert.Check(t, cmp.Equal(body, want))
	}
	res, _ := call(t, http.MethodPost, srv.URL+"/jobs")
	assert.Check(t, cmp.Equal(res.StatusCode, http.StatusNotFound))
}

func TestServer_Expired(t *testing.T) {
	ctx := testcontext.Background()
	store := cassette.NewMemoryStore()
	old := time.Now().Add(-48 * time.Hour)
	assert.Assert(t, store.Save(ctx, "old", []cassette.Interaction{
		recorded(http.MethodGet, "https://api.example/albums", 200, `[]`, old),
	}))
	srv := start(ctx, t, Config{
		Cassette:  cassette.New("old", store),
		MaxAge:    time.Hour,
		OnExpired: recorder.ExpiryFail,
	})

	res, body := call(t, http.MethodGet, srv.URL+"/albums")
	assert.Check(t, cmp.Equal(res.StatusCode, http.StatusGone))
	assert.Check(t, strings.Contains(body, "expired"), body)
}

func TestNew_RequiresCassette(t *testing.T) {
	_, err := New(testcontext.Background(), Config{})
	assert.Check(t, cmp.ErrorContains(err, "cassette is required"))
}
