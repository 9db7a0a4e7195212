// Package o11ygin traces gin handlers with the o11y provider.
package o11ygin

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/circleci/vcr/o11y"
)

// StatusClientClosed is recorded when the client went away before the handler finished.
const StatusClientClosed = 499

const notFoundRoute = "not-found"

// Middleware runs each request in a span named after its route and records the "handler"
// timing metric. The route is also returned in the X-Route header, which makes replay
// misses easy to tell apart from unknown paths.
func Middleware(provider o11y.Provider, serverName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = notFoundRoute
		}
		req := c.Request

		ctx, span := o11y.StartSpan(o11y.WithProvider(req.Context(), provider), req.Method+" "+route)
		defer span.End()
		c.Request = req.WithContext(ctx)
		c.Header("X-Route", route)

		for k, v := range map[string]interface{}{
			"meta.type":                   "http_server",
			"http.server_name":            serverName,
			"http.route":                  route,
			"http.method":                 req.Method,
			"http.target":                 req.URL.Path,
			"http.host":                   req.Host,
			"http.client_ip":              c.ClientIP(),
			"http.user_agent":             req.UserAgent(),
			"http.request_content_length": req.ContentLength,
		} {
			span.AddRawField(k, v)
		}
		for _, p := range c.Params {
			span.AddRawField("handler.vars."+p.Key, p.Value)
		}
		span.RecordMetric(o11y.Timing("handler",
			"http.server_name", "http.method", "http.route", "http.status_code"))

		c.Next()

		status := c.Writer.Status()
		if errors.Is(ctx.Err(), context.Canceled) {
			status = StatusClientClosed
		}
		if len(c.Errors) > 0 {
			span.AddRawField("gin.errors", c.Errors.String())
		}
		span.AddRawField("http.status_code", status)
		span.AddRawField("http.response_content_length", c.Writer.Size())
		result := "success"
		if status >= http.StatusInternalServerError {
			result = "error"
		}
		span.AddRawField("result", result)
	}
}

// Recovery answers handler panics with a 500 and marks the request span as panicked.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered interface{}) {
		c.AbortWithStatus(http.StatusInternalServerError)
		ctx := c.Request.Context()
		span := o11y.FromContext(ctx).GetSpan(ctx)

		// an aborted handler is the client or proxy hanging up, not a bug
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			o11y.AddResultToSpan(span, err)
			return
		}
		_ = o11y.HandlePanic(span, recovered)
	})
}
