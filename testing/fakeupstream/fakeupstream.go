// Package fakeupstream is a small JSON API for exercising recorders end to end. Every
// request it receives is kept in an httprecorder, so tests can prove a replay never
// reached it.
package fakeupstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/circleci/vcr/httpserver/ginrouter"
	"github.com/circleci/vcr/testing/httprecorder"
	"github.com/circleci/vcr/testing/httprecorder/ginrecorder"
)

// Token is returned in every album, for censoring tests.
const Token = "live-upstream-token"

type Upstream struct {
	URL      string
	Recorder *httprecorder.Recorder

	seq int64
}

// New starts the upstream, it is closed when the test ends.
//
//	GET    /albums/:id   {"id":..., "seq":..., "token":...}, seq increases per call
//	POST   /albums       echoes the JSON body with status 201
//	GET    /status/:code empty response with the given status
//	GET    /slow?d=50ms  waits before answering
func New(ctx context.Context, t testing.TB) *Upstream {
	t.Helper()
	u := &Upstream{Recorder: httprecorder.New()}

	r := ginrouter.Default(ctx, "fake-upstream")
	r.Use(ginrecorder.Middleware(ctx, u.Recorder))
	r.GET("/albums/:id", u.album)
	r.POST("/albums", echo)
	r.GET("/status/:code", status)
	r.GET("/slow", slow)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	u.URL = srv.URL
	return u
}

// Calls is how many requests reached the upstream.
func (u *Upstream) Calls() int {
	return u.Recorder.Len()
}

func (u *Upstream) album(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"id":    c.Param("id"),
		"seq":   atomic.AddInt64(&u.seq, 1),
		"token": Token,
	})
}

func echo(c *gin.Context) {
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	c.Data(http.StatusCreated, "application/json", b)
}

func status(c *gin.Context) {
	code, err := strconv.Atoi(c.Param("code"))
	if err != nil || code < 200 || code > 599 {
		c.Status(http.StatusBadRequest)
		return
	}
	c.Status(code)
}

func slow(c *gin.Context) {
	d, err := time.ParseDuration(c.DefaultQuery("d", "50ms"))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	select {
	case <-c.Request.Context().Done():
		return
	case <-time.After(d):
	}
	c.JSON(http.StatusOK, gin.H{"waited": d.String()})
}
