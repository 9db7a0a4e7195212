// Package env loads configuration from environment variables on top of defaults. Every
// variable asked for is remembered so the full set can be printed as help text.
package env

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/circleci/vcr/config/secret"
)

type Var struct {
	env     string
	envType string
	def     interface{}
}

func (v Var) String() string {
	return fmt.Sprintf("%-40s %-12s (%v)", v.env, v.envType, v.def)
}

func (v Var) Name() string {
	return v.env
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(string) (string, bool)

type Loader struct {
	lookup LookupFunc
	vars   map[string]Var
	err    error
}

// NewLoader reads from the process environment.
func NewLoader() *Loader {
	return NewLoaderFrom(os.LookupEnv)
}

// NewLoaderFrom reads variables through lookup, which lets tests avoid touching the
// process environment.
func NewLoaderFrom(lookup LookupFunc) *Loader {
	return &Loader{
		lookup: lookup,
		vars:   make(map[string]Var),
	}
}

// Err returns every parse failure seen so far, or nil.
func (l *Loader) Err() error {
	return l.err
}

// SecretFromFile sets fld to the content of the file named by env, with surrounding
// whitespace trimmed. The default is the secret itself, not a path. Unset or empty
// variables leave fld alone.
func (l *Loader) SecretFromFile(fld *secret.String, env string) {
	l.addVar(*fld, env, "file")
	fn, ok := l.lookup(env)
	if !ok || fn == "" {
		return
	}
	content, err := os.ReadFile(fn) // #nosec G304 - the path is operator supplied
	if err != nil {
		l.fail(fmt.Errorf("failed to read secret file: %w", err))
		return
	}
	*fld = secret.String(strings.TrimSpace(string(content)))
}

func (l *Loader) String(fld *string, env string) {
	l.addVar(*fld, env, "string")
	if val, ok := l.lookup(env); ok {
		*fld = val
	}
}

// Strings splits a comma separated value, dropping empty entries.
func (l *Loader) Strings(fld *[]string, env string) {
	l.addVar(strings.Join(*fld, ","), env, "[]string")
	val, ok := l.lookup(env)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*fld = out
}

func (l *Loader) Int(fld *int, env string) {
	l.addVar(*fld, env, "int")
	l.parse(env, func(val string) error {
		i, err := strconv.Atoi(val)
		if err == nil {
			*fld = i
		}
		return err
	})
}

func (l *Loader) Bool(fld *bool, env string) {
	l.addVar(*fld, env, "bool")
	l.parse(env, func(val string) error {
		b, err := strconv.ParseBool(val)
		if err == nil {
			*fld = b
		}
		return err
	})
}

// Duration parses values such as "250ms" or "2h" with time.ParseDuration.
func (l *Loader) Duration(fld *time.Duration, env string) {
	l.addVar(*fld, env, "Duration")
	l.parse(env, func(val string) error {
		d, err := time.ParseDuration(val)
		if err == nil {
			*fld = d
		}
		return err
	})
}

// parse leaves the field untouched when the variable is unset or set fails.
func (l *Loader) parse(env string, set func(string) error) {
	val, ok := l.lookup(env)
	if !ok {
		return
	}
	if err := set(val); err != nil {
		l.fail(fmt.Errorf("env var: %q caused an error: %w", env, err))
	}
}

func (l *Loader) fail(err error) {
	l.err = multierror.Append(l.err, err)
}

type Vars []Var

func (v Vars) Sort() {
	sort.Slice(v, func(i, j int) bool {
		return v[i].env < v[j].env
	})
}

// VarsUsed lists every variable the loader was asked for, alphabetically, with long
// defaults shortened for display.
func (l *Loader) VarsUsed() Vars {
	vars := make(Vars, 0, len(l.vars))
	const maxDefaultLen = 80
	for _, v := range l.vars {
		if def, ok := v.def.(string); ok {
			def = strings.ReplaceAll(def, "\n", "\\n")
			if len(def) > maxDefaultLen {
				def = def[:maxDefaultLen] + " ..."
			}
			v.def = def
		}
		vars = append(vars, v)
	}
	vars.Sort()
	return vars
}

func (l *Loader) addVar(def interface{}, env, envType string) {
	if _, ok := l.vars[env]; ok {
		panic("duplicate environment variable " + env)
	}
	l.vars[env] = Var{
		env:     env,
		envType: envType,
		def:     def,
	}
}
