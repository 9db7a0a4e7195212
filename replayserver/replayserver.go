// Package replayserver serves a cassette over HTTP so clients that cannot take a Go
// transport, such as other languages or browsers, can be pointed at recorded responses.
//
// Requests are matched on method, path and query by default, since the server only sees
// its own host. A request with no matching interaction gets a 404 whose JSON body explains
// the miss. Paths under /_vcr/ are reserved for the server itself.
package replayserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/censor"
	"github.com/circleci/vcr/httpserver/ginrouter"
	"github.com/circleci/vcr/match"
	"github.com/circleci/vcr/mode"
	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/recorder"
)

// ErrNoUpstream is what the server would return were it ever asked to send a request on.
var ErrNoUpstream = errors.New("replayserver: no upstream to send to")

type Config struct {
	Cassette *cassette.Cassette
	// Rules default to method, path and query.
	Rules match.Rules
	// Censor is applied to inbound requests before matching, censor.Default when nil.
	Censor        *censor.Censors
	SingleUse     bool
	SimulateDelay bool
	MaxAge        time.Duration
	OnExpired     recorder.Expiry
}

// DefaultRules ignore scheme and host.
func DefaultRules() match.Rules {
	return match.Rules{match.Method(), match.Path(), match.Query()}
}

type Server struct {
	engine *recorder.Engine[*http.Request, *http.Response]
	router *gin.Engine
}

// New loads the cassette and returns the server. The mode is fixed to Replay, the
// override variable is not consulted.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Cassette == nil {
		return nil, errors.New("replayserver: cassette is required")
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	engine := recorder.New[*http.Request, *http.Response](
		recorder.SenderFunc[*http.Request, *http.Response](
			func(context.Context, *http.Request) (*http.Response, error) {
				return nil, ErrNoUpstream
			}),
		recorder.HTTPConverter{},
		recorder.Options{
			Mode:          mode.Replay,
			Resolver:      mode.Resolver{Lookup: func(string) (string, bool) { return "", false }},
			Censor:        cfg.Censor,
			Rules:         cfg.Rules,
			SingleUse:     cfg.SingleUse,
			SimulateDelay: cfg.SimulateDelay,
			MaxAge:        cfg.MaxAge,
			OnExpired:     cfg.OnExpired,
		},
	)
	if err := engine.Insert(ctx, cfg.Cassette); err != nil {
		return nil, err
	}

	s := &Server{engine: engine, router: ginrouter.Default(ctx, "replay")}
	admin := s.router.Group("/_vcr")
	admin.GET("/status", s.status)
	admin.POST("/reload", s.reload)
	s.router.NoRoute(s.replay)
	s.router.NoMethod(s.replay)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

type missResponse struct {
	Error      string   `json:"error"`
	Cassette   string   `json:"cassette,omitempty"`
	Method     string   `json:"method,omitempty"`
	URL        string   `json:"url,omitempty"`
	Rules      []string `json:"rules,omitempty"`
	Candidates int      `json:"candidates"`
	Reasons    []string `json:"reasons,omitempty"`
}

func (s *Server) replay(c *gin.Context) {
	ctx := c.Request.Context()
	res, err := s.engine.Do(ctx, c.Request)
	if err != nil {
		nm := &recorder.NoMatchError{}
		switch {
		case errors.As(err, &nm):
			c.JSON(http.StatusNotFound, missResponse{
				Error:      err.Error(),
				Cassette:   nm.Cassette,
				Method:     nm.Method,
				URL:        nm.URL,
				Rules:      nm.Rules,
				Candidates: nm.Candidates,
				Reasons:    nm.Reasons,
			})
		case errors.Is(err, recorder.ErrInteractionExpired):
			c.JSON(http.StatusGone, missResponse{Error: err.Error()})
		default:
			o11y.LogError(ctx, "replayserver: replay failed", err)
			c.JSON(http.StatusInternalServerError, missResponse{Error: err.Error()})
		}
		return
	}
	defer func() {
		_ = res.Body.Close()
	}()

	h := c.Writer.Header()
	for k, vs := range res.Header {
		h[k] = append([]string(nil), vs...)
	}
	if bodyAllowed(res.StatusCode) {
		h.Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	} else {
		h.Del("Content-Length")
	}
	c.Status(res.StatusCode)
	if _, err := io.Copy(c.Writer, res.Body); err != nil {
		o11y.LogError(ctx, "replayserver: write response", err)
	}
}

func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

type statusResponse struct {
	Cassette     string `json:"cassette"`
	Interactions int    `json:"interactions"`
}

func (s *Server) status(c *gin.Context) {
	cas := s.engine.Cassette()
	c.JSON(http.StatusOK, statusResponse{Cassette: cas.Name(), Interactions: cas.Len()})
}

// Reload rereads the cassette from its store, picking up edits and resetting consumption.
func (s *Server) Reload(ctx context.Context) (err error) {
	ctx, span := o11y.StartSpan(ctx, "replayserver: reload")
	defer o11y.End(span, &err)

	cas := s.engine.Cassette()
	span.AddField("cassette", cas.Name())
	if err := cas.Reload(ctx); err != nil {
		return err
	}
	span.AddField("interactions", cas.Len())
	return nil
}

func (s *Server) reload(c *gin.Context) {
	if err := s.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, missResponse{Error: err.Error()})
		return
	}
	s.status(c)
}
