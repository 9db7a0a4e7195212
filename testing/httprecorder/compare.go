package httprecorder

import (
	"net/http"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// VolatileHeaders are set by the Go client and differ between environments.
var VolatileHeaders = []string{"Accept-Encoding", "Content-Length", "User-Agent"}

func IgnoreHeaders(headers ...string) gocmp.Option {
	return cmpopts.IgnoreMapEntries(func(h string, _ []string) bool {
		for _, header := range headers {
			if http.CanonicalHeaderKey(header) == http.CanonicalHeaderKey(h) {
				return true
			}
		}
		return false
	})
}

func OnlyHeaders(headers ...string) gocmp.Option {
	return cmpopts.IgnoreMapEntries(func(h string, _ []string) bool {
		for _, header := range headers {
			if http.CanonicalHeaderKey(header) == http.CanonicalHeaderKey(h) {
				return false
			}
		}
		return true
	})
}

// IgnoreVolatileHeaders is IgnoreHeaders for VolatileHeaders.
func IgnoreVolatileHeaders() gocmp.Option {
	return IgnoreHeaders(VolatileHeaders...)
}
