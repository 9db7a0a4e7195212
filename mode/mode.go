// Package mode decides whether an intercepted call is replayed, recorded or passed through.
//
// The effective mode combines the mode the caller configured with an override signal, by
// default the VCR_MODE environment variable. The override is read on every call so a long
// running process can be switched between recording and replaying without a restart.
package mode

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/circleci/vcr/o11y"
)

type Mode int

const (
	// Replay is the zero value so an unconfigured recorder never reaches the network.
	Replay Mode = iota
	Record
	Bypass
)

// EnvVar is the override variable read by the default Resolver.
const EnvVar = "VCR_MODE"

func (m Mode) String() string {
	switch m {
	case Replay:
		return "replay"
	case Record:
		return "record"
	case Bypass:
		return "bypass"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Parse accepts the mode names in any case, ignoring surrounding whitespace.
func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "replay":
		return Replay, nil
	case "record":
		return Record, nil
	case "bypass":
		return Bypass, nil
	}
	return Replay, fmt.Errorf("unknown mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ErrInvalidOverride is returned by Effective when the override is set to something that is
// not a mode name. It is a warning: the explicit mode still applies.
var ErrInvalidOverride = o11y.NewWarning("invalid mode override")

// Effective applies the precedence rules. Bypass cannot be overridden. A present and valid
// override beats explicit. An invalid override is ignored, and reported via
// ErrInvalidOverride alongside the explicit mode.
func Effective(explicit Mode, override string, present bool) (Mode, error) {
	if explicit == Bypass || !present {
		return explicit, nil
	}
	m, err := Parse(override)
	if err != nil {
		return explicit, fmt.Errorf("%w: %q", ErrInvalidOverride, override)
	}
	return m, nil
}

// Resolver samples the override signal. The zero value reads VCR_MODE from the process
// environment.
type Resolver struct {
	// Variable defaults to EnvVar
	Variable string
	// Lookup defaults to os.LookupEnv, it is called on every Resolve
	Lookup func(string) (string, bool)
}

// Resolve never fails. An invalid override is logged and the explicit mode is used.
func (r Resolver) Resolve(ctx context.Context, explicit Mode) Mode {
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	variable := r.Variable
	if variable == "" {
		variable = EnvVar
	}

	override, present := lookup(variable)
	m, err := Effective(explicit, override, present)
	if err != nil {
		o11y.LogError(ctx, "mode: override ignored", err,
			o11y.Field("variable", variable),
			o11y.Field("value", override),
			o11y.Field("explicit", explicit.String()),
		)
	}
	return m
}
