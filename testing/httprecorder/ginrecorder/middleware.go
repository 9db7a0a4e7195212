/*
Package ginrecorder provides a middleware to wire a httprecorder into Gin routers used in test fakes.
*/
package ginrecorder

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/testing/httprecorder"
)

func Middleware(ctx context.Context, rec *httprecorder.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := rec.Record(c.Request); err != nil {
			o11y.LogError(ctx, "problem recording HTTP request", err)
		}
		c.Next()
	}
}
