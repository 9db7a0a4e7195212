package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hellofresh/health-go/v4"

	"github.com/circleci/vcr/httpserver/ginrouter"
)

// Checker is implemented by anything with a health check, e.g. a network backed cassette
// store. Either func may be nil.
type Checker interface {
	HealthChecks() (name string, ready, live func(ctx context.Context) error)
}

type API struct {
	router *gin.Engine
}

func New(ctx context.Context, checked []Checker) (*API, error) {
	r := ginrouter.Default(ctx, "admin")

	live, ready, err := newHealthHandlers(checked)
	if err != nil {
		return nil, fmt.Errorf("failed to create health checks: %w", err)
	}

	r.GET("/live", gin.WrapH(live.Handler()))
	r.GET("/ready", gin.WrapH(ready.Handler()))
	r.GET("/debug/pprof/*profile", debug)

	return &API{router: r}, nil
}

func (a *API) Handler() http.Handler {
	return a.router
}

func debug(c *gin.Context) {
	switch strings.TrimPrefix(c.Param("profile"), "/") {
	case "cmdline":
		pprof.Cmdline(c.Writer, c.Request)
	case "profile":
		pprof.Profile(c.Writer, c.Request)
	case "symbol":
		pprof.Symbol(c.Writer, c.Request)
	case "trace":
		pprof.Trace(c.Writer, c.Request)
	default:
		pprof.Index(c.Writer, c.Request)
	}
}

func newHealthHandlers(checked []Checker) (live, ready *health.Health, err error) {
	live, err = health.New()
	if err != nil {
		return nil, nil, err
	}
	ready, err = health.New()
	if err != nil {
		return nil, nil, err
	}

	register := func(h *health.Health, name string, check func(ctx context.Context) error) error {
		if check == nil {
			return nil
		}
		return h.Register(health.Config{
			Name:    name,
			Timeout: time.Second * 5,
			Check:   check,
		})
	}

	for _, c := range checked {
		name, r, l := c.HealthChecks()
		if err := register(ready, name, r); err != nil {
			return nil, nil, err
		}
		if err := register(live, name, l); err != nil {
			return nil, nil, err
		}
	}

	return live, ready, nil
}
