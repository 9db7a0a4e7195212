/*
Package httpnetrecorder provides a net/http middleware to wire a httprecorder into test fakes.
*/
package httpnetrecorder

import (
	"context"
	"net/http"

	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/testing/httprecorder"
)

func Middleware(ctx context.Context, rec *httprecorder.Recorder, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := rec.Record(r); err != nil {
			o11y.LogError(ctx, "problem recording HTTP request", err)
		}
		h.ServeHTTP(w, r)
	})
}
