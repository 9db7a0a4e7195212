package recorder

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoActiveCassette is returned by Record and Replay calls when no cassette is inserted.
	// No network call is made.
	ErrNoActiveCassette = errors.New("vcr: no cassette inserted")

	// ErrNoMatchingInteraction is matched by every *NoMatchError.
	ErrNoMatchingInteraction = errors.New("vcr: no matching interaction")

	// ErrInteractionExpired is returned in Replay when the matched interaction is older than
	// Options.MaxAge and Options.OnExpired is ExpiryFail.
	ErrInteractionExpired = errors.New("vcr: recorded interaction expired")
)

// NoMatchError is returned when Replay finds nothing to answer a request with. The live
// call is never attempted.
type NoMatchError struct {
	Cassette string
	Method   string
	URL      string
	// Rules are the names of the match rules in force.
	Rules []string
	// Candidates is how many interactions the cassette offered.
	Candidates int
	// Reasons lists the rules that rejected each of the first few candidates.
	Reasons []string
}

func (e *NoMatchError) Error() string {
	msg := fmt.Sprintf("vcr: no interaction in cassette %q matches %s %s (rules: %s, candidates: %d)",
		e.Cassette, e.Method, e.URL, strings.Join(e.Rules, ","), e.Candidates)
	if len(e.Reasons) > 0 {
		msg += ": " + strings.Join(e.Reasons, "; ")
	}
	return msg
}

func (e *NoMatchError) Is(target error) bool {
	return target == ErrNoMatchingInteraction
}

// IsCassetteMiss distinguishes a replay miss from a genuine transport error.
func IsCassetteMiss(err error) bool {
	return errors.Is(err, ErrNoMatchingInteraction)
}
