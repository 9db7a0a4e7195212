// Package ginrouter builds gin engines with the o11y middleware already installed.
package ginrouter

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/o11y/wrappers/o11ygin"
)

var once sync.Once

func Default(ctx context.Context, serverName string) *gin.Engine {
	once.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	r := gin.New()
	r.Use(
		o11ygin.Middleware(o11y.FromContext(ctx), serverName),
		o11ygin.Recovery(),
	)

	r.UseRawPath = true

	return r
}
