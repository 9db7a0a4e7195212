/*
Package closer contains helpers for not losing deferred close errors
*/
package closer

import (
	"context"
	"io"
)

func ErrorHandler(c io.Closer, in *error) {
	cerr := c.Close()
	if *in == nil {
		*in = cerr
	}
}

// ContextCloser is closed with a context, as opened cassette stores are.
type ContextCloser interface {
	Close(ctx context.Context) error
}

// ContextErrorHandler is ErrorHandler for a ContextCloser.
func ContextErrorHandler(ctx context.Context, c ContextCloser, in *error) {
	cerr := c.Close(ctx)
	if *in == nil {
		*in = cerr
	}
}
