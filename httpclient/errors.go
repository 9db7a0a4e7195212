package httpclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"

	"github.com/circleci/vcr/o11y"
)

var (
	ErrNoContent     = o11y.NewWarning("no content")
	ErrServerBackoff = errors.New("server requested explicit backoff")
)

// HTTPError is returned for a response status outside 2xx.
type HTTPError struct {
	method   string
	route    string
	code     int
	attempts int
	// final is set once no more attempts will be made
	final bool
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("the response from %s %s was %d (%s) (%d attempts)",
		e.method, e.route, e.code, http.StatusText(e.code), e.attempts)
}

func (e *HTTPError) Code() int {
	return e.code
}

// Is reports the error as an o11y warning while it may still be retried, and afterwards
// for the 401, 403 and 404 responses callers usually expect, so they are not traced as errors.
func (e *HTTPError) Is(target error) bool {
	if !o11y.IsWarningNoUnwrap(target) {
		return false
	}
	return !e.final || (e.code > 400 && e.code <= 404)
}

// HasStatusCode reports whether err is an HTTPError with one of codes.
func HasStatusCode(err error, codes ...int) bool {
	var e *HTTPError
	if !errors.As(err, &e) {
		return false
	}
	for _, code := range codes {
		if e.code == code {
			return true
		}
	}
	return false
}

// IsRequestProblem reports whether err is an HTTPError with a 4xx status.
func IsRequestProblem(err error) bool {
	var e *HTTPError
	return errors.As(err, &e) && e.code >= 400 && e.code < 500
}

func IsNoContent(err error) bool {
	return errors.Is(err, ErrNoContent)
}

// statusError maps a response status to the error for the attempt. Only 5xx is retried.
func statusError(method, route string, code, attempts int) error {
	switch {
	case code >= 500:
		return &HTTPError{method: method, route: route, code: code, attempts: attempts}
	case code >= 300:
		return backoff.Permanent(&HTTPError{method: method, route: route, code: code, attempts: attempts})
	case code == http.StatusNoContent:
		return backoff.Permanent(ErrNoContent)
	}
	return nil
}
