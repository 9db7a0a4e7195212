package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/mode"
	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/recorder"
	"github.com/circleci/vcr/testing/httprecorder"
	"github.com/circleci/vcr/testing/httprecorder/httpnetrecorder"
	"github.com/circleci/vcr/testing/testcontext"
)

func TestNewRequest_Formats(t *testing.T) {
	req := NewRequest("POST", "/%s.txt", time.Second, "the-path")
	assert.Check(t, cmp.Equal(req.path, "/the-path.txt"))
	assert.Check(t, cmp.Equal(req.Route, "/%s.txt"))
	assert.Check(t, cmp.Equal(req.Method, "POST"))
	assert.Check(t, cmp.Equal(req.Timeout, time.Second))
}

func TestNewRequest_NoParams(t *testing.T) {
	req := NewRequest("GET", "/albums", time.Second)
	assert.Check(t, cmp.Equal(req.path, "/albums"))
}

func TestClient_Call_Decodes(t *testing.T) {
	ctx := testcontext.Background()
	rec := httprecorder.New()
	server := httptest.NewServer(httpnetrecorder.Middleware(ctx, rec,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", JSON)
			_, _ = io.WriteString(w, `{"a":"value-a"}`)
		})))
	t.Cleanup(server.Close)

	client := New(Config{Name: "name", BaseURL: server.URL, AuthToken: "token", Timeout: time.Second})

	t.Run("json", func(t *testing.T) {
		m := map[string]string{}
		req := NewRequest("POST", "/albums/%d", time.Second, 1)
		req.Body = map[string]string{"b": "value-b"}
		req.Decoder = NewJSONDecoder(&m)
		assert.Assert(t, client.Call(ctx, req))
		assert.Check(t, cmp.DeepEqual(m, map[string]string{"a": "value-a"}))

		last := rec.LastRequest()
		assert.Check(t, cmp.Equal(last.Path, "/albums/1"))
		assert.Check(t, cmp.Equal(last.Header.Get("Authorization"), "Bearer token"))
		assert.Check(t, cmp.Equal(last.Header.Get("Content-Type"), JSON))
		assert.Check(t, cmp.Equal(last.StringBody(), "{\"b\":\"value-b\"}\n"))
	})

	t.Run("string", func(t *testing.T) {
		s := ""
		req := NewRequest("GET", "/albums", time.Second)
		req.Decoder = NewStringDecoder(&s)
		assert.Assert(t, client.Call(ctx, req))
		assert.Check(t, cmp.Equal(s, `{"a":"value-a"}`))
	})

	t.Run("bytes", func(t *testing.T) {
		var b []byte
		req := NewRequest("PUT", "/raw", time.Second)
		req.RawBody = []byte("raw")
		req.Headers = map[string]string{"Content-Type": "text/plain"}
		req.Decoder = NewBytesDecoder(&b)
		assert.Assert(t, client.Call(ctx, req))
		assert.Check(t, cmp.Equal(string(b), `{"a":"value-a"}`))
		assert.Check(t, cmp.Equal(rec.LastRequest().StringBody(), "raw"))
		assert.Check(t, cmp.Equal(rec.LastRequest().Header.Get("Content-Type"), "text/plain"))
	})

	t.Run("decode failure is not retried", func(t *testing.T) {
		rec.Reset()
		var n int
		req := NewRequest("GET", "/albums", time.Second)
		req.Decoder = NewJSONDecoder(&n)
		err := client.Call(ctx, req)
		assert.Check(t, cmp.ErrorContains(err, "decoding failed"))
		assert.Check(t, cmp.Equal(rec.Len(), 1))
	})
}

func TestClient_Call_Retries(t *testing.T) {
	ctx := testcontext.Background()
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	client := New(Config{Name: "name", BaseURL: server.URL, Timeout: 5 * time.Second})
	err := client.Call(ctx, NewRequest("GET", "/flaky", time.Second))
	assert.Check(t, err)
	assert.Check(t, cmp.Equal(atomic.LoadInt64(&calls), int64(3)))
}

func TestClient_Call_StatusCodes(t *testing.T) {
	ctx := testcontext.Background()
	var status int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt64(&status)))
	}))
	t.Cleanup(server.Close)
	client := New(Config{Name: "name", BaseURL: server.URL, Timeout: 200 * time.Millisecond})

	t.Run("no content", func(t *testing.T) {
		atomic.StoreInt64(&status, http.StatusNoContent)
		err := client.Call(ctx, NewRequest("GET", "/", time.Second))
		assert.Check(t, IsNoContent(err))
		assert.Check(t, o11y.IsWarning(err))
	})

	t.Run("not found is a warning", func(t *testing.T) {
		atomic.StoreInt64(&status, http.StatusNotFound)
		err := client.Call(ctx, NewRequest("GET", "/", time.Second))
		assert.Check(t, HasStatusCode(err, http.StatusNotFound))
		assert.Check(t, IsRequestProblem(err))
		assert.Check(t, o11y.IsWarning(err))
	})

	t.Run("server error after retries is an error", func(t *testing.T) {
		atomic.StoreInt64(&status, http.StatusInternalServerError)
		err := client.Call(ctx, NewRequest("GET", "/", time.Second))
		assert.Check(t, HasStatusCode(err, http.StatusInternalServerError))
		assert.Check(t, !IsRequestProblem(err))
		assert.Check(t, !o11y.IsWarning(err))
	})
}

func TestClient_Call_Timeouts(t *testing.T) {
	ctx := testcontext.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(server.Close)

	client := New(Config{Name: "name", BaseURL: server.URL, Timeout: 100 * time.Millisecond})
	start := time.Now()
	err := client.Call(ctx, NewRequest("GET", "/slow", 20*time.Millisecond))
	assert.Check(t, errors.Is(err, context.DeadlineExceeded))
	assert.Check(t, time.Since(start) < time.Second)
}

func TestClient_Call_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(testcontext.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client := New(Config{Name: "name", BaseURL: server.URL})
	err := client.Call(ctx, NewRequest("GET", "/", time.Second))
	assert.Check(t, err != nil)
}

func TestClient_Call_SetQuery(t *testing.T) {
	ctx := testcontext.Background()
	rec := httprecorder.New()
	server := httptest.NewServer(httpnetrecorder.Middleware(ctx, rec, http.NotFoundHandler()))
	t.Cleanup(server.Close)

	client := New(Config{Name: "name", BaseURL: server.URL, AuthHeader: "Circle-Token", AuthToken: "t"})
	req := NewRequest("GET", "/albums", time.Second)
	req.Query = url.Values{"page": {"2"}}
	_ = client.Call(ctx, req)

	last := rec.LastRequest()
	assert.Assert(t, last != nil)
	assert.Check(t, cmp.DeepEqual(last.Query, url.Values{"page": {"2"}}))
	assert.Check(t, cmp.Equal(last.Header.Get("Circle-Token"), "t"))
}

func TestClient_Call_RecordReplay(t *testing.T) {
	ctx := testcontext.Background()
	rec := httprecorder.New()
	server := httptest.NewServer(httpnetrecorder.Middleware(ctx, rec,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
		})))
	t.Cleanup(server.Close)

	noOverride := mode.Resolver{Lookup: func(string) (string, bool) { return "", false }}
	store := cassette.NewMemoryStore()
	tr := recorder.NewTransport(DefaultTransport(0), recorder.Options{Mode: mode.Record, Resolver: noOverride})
	assert.Assert(t, tr.Insert(ctx, cassette.New("albums", store)))
	client := New(Config{Name: "albums", BaseURL: server.URL, Transport: tr, Timeout: time.Second})

	call := func() (map[string]string, error) {
		m := map[string]string{}
		req := NewRequest("GET", "/albums/%d", time.Second, 1)
		req.Decoder = NewJSONDecoder(&m)
		return m, client.Call(ctx, req)
	}

	m, err := call()
	assert.Assert(t, err)
	assert.Check(t, cmp.Equal(m["path"], "/albums/1"))
	assert.Check(t, cmp.Equal(rec.Len(), 1))

	tr.Replay()
	m, err = call()
	assert.Assert(t, err)
	assert.Check(t, cmp.Equal(m["path"], "/albums/1"))
	assert.Check(t, cmp.Equal(rec.Len(), 1), "replay does not reach the server")

	t.Run("a miss is not retried", func(t *testing.T) {
		req := NewRequest("GET", "/tracks", time.Second)
		err := client.Call(ctx, req)
		assert.Check(t, recorder.IsCassetteMiss(err))
		assert.Check(t, cmp.ErrorContains(err, "after 1 attempt(s)"))
		assert.Check(t, cmp.Equal(rec.Len(), 1))
	})
}

func TestClient_Call_Proxy(t *testing.T) {
	ctx := testcontext.Background()
	var proxied atomic.Value
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Store(r.URL.String())
		_, _ = io.WriteString(w, "from proxy")
	}))
	t.Cleanup(proxy.Close)

	client := New(Config{Name: "name", BaseURL: "http://upstream.example", Timeout: time.Second})
	t.Setenv("HTTP_PROXY", proxy.URL)
	t.Setenv("NO_PROXY", "")

	s := ""
	req := NewRequest("GET", "/albums", time.Second)
	req.Decoder = NewStringDecoder(&s)
	assert.Assert(t, client.Call(ctx, req))
	assert.Check(t, cmp.Equal(s, "from proxy"))
	assert.Check(t, cmp.Equal(proxied.Load(), "http://upstream.example/albums"))
}

func TestHTTPError_Is(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		final   bool
		warning bool
	}{
		{name: "retrying", code: 500, warning: true},
		{name: "done 500", code: 500, final: true},
		{name: "done 400", code: 400, final: true},
		{name: "done 401", code: 401, final: true, warning: true},
		{name: "done 404", code: 404, final: true, warning: true},
		{name: "done 409", code: 409, final: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &HTTPError{code: tt.code, final: tt.final})
			assert.Check(t, cmp.Equal(o11y.IsWarning(err), tt.warning))
		})
	}
}

func TestHasStatusCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &HTTPError{code: 409})
	assert.Check(t, HasStatusCode(err, 400, 409))
	assert.Check(t, !HasStatusCode(err, 400))
	assert.Check(t, !HasStatusCode(errors.New("other"), 409))
}

func TestIsRequestProblem(t *testing.T) {
	for code, want := range map[int]bool{399: false, 400: true, 429: true, 499: true, 500: false} {
		assert.Check(t, cmp.Equal(IsRequestProblem(&HTTPError{code: code}), want), code)
	}
	assert.Check(t, !IsRequestProblem(errors.New("other")))
}

func TestClient_ExplicitBackoff(t *testing.T) {
	ctx := testcontext.Background()
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	now := time.Date(2022, 10, 4, 12, 0, 0, 0, time.UTC)
	client := New(Config{Name: "name", BaseURL: server.URL})
	client.now = func() time.Time { return now }

	err := client.Call(ctx, NewRequest("GET", "/", time.Second))
	assert.Check(t, HasStatusCode(err, http.StatusTooManyRequests))

	err = client.Call(ctx, NewRequest("GET", "/", time.Second))
	assert.Check(t, errors.Is(err, ErrServerBackoff))
	assert.Check(t, cmp.Equal(atomic.LoadInt64(&calls), int64(1)))

	now = now.Add(11 * time.Second)
	err = client.Call(ctx, NewRequest("GET", "/", time.Second))
	assert.Check(t, HasStatusCode(err, http.StatusTooManyRequests))
	assert.Check(t, cmp.Equal(atomic.LoadInt64(&calls), int64(2)))
}

func TestClient_RetryAfter(t *testing.T) {
	ctx := testcontext.Background()
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	now := time.Date(2022, 10, 4, 12, 0, 0, 0, time.UTC)
	client := New(Config{Name: "name", BaseURL: server.URL})
	client.now = func() time.Time { return now }

	err := client.Call(ctx, NewRequest("GET", "/", time.Second))
	assert.Check(t, HasStatusCode(err, http.StatusTooManyRequests))

	now = now.Add(11 * time.Second)
	err = client.Call(ctx, NewRequest("GET", "/", time.Second))
	assert.Check(t, cmp.ErrorIs(err, ErrServerBackoff))

	now = now.Add(20 * time.Second)
	err = client.Call(ctx, NewRequest("GET", "/", time.Second))
	assert.Check(t, HasStatusCode(err, http.StatusTooManyRequests))
	assert.Check(t, cmp.Equal(atomic.LoadInt64(&calls), int64(2)))
}

func TestRetryAfter(t *testing.T) {
	assert.Check(t, cmp.Equal(retryAfter(""), serverBackoff))
	assert.Check(t, cmp.Equal(retryAfter("Wed, 21 Oct 2015 07:28:00 GMT"), serverBackoff))
	assert.Check(t, cmp.Equal(retryAfter("-1"), serverBackoff))
	assert.Check(t, cmp.Equal(retryAfter("2"), 2*time.Second))
}
