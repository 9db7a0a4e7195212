// Package vcr records the HTTP interactions a program makes into named cassettes and
// replays them later without touching the network.
//
// Start wires a store, a cassette and a recording transport from a Config:
//
//	cfg, err := vcr.ConfigFromEnv()
//	...
//	session, err := vcr.Start(ctx, cfg, nil)
//	...
//	defer session.Close(ctx)
//	client := session.Client()
//
// The explicit mode is Replay unless set. VCR_MODE=record, replay or bypass overrides it for
// every call made while the variable is set.
package vcr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/cassette/storeurl"
	"github.com/circleci/vcr/censor"
	"github.com/circleci/vcr/config/env"
	"github.com/circleci/vcr/config/secret"
	"github.com/circleci/vcr/mode"
	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/recorder"
)

const DefaultStore = "file:testdata/cassettes"

type Config struct {
	// Store is a store URL as accepted by storeurl.Open, DefaultStore when empty.
	Store string
	// Cassette is the cassette name, required.
	Cassette string
	// Mode is the explicit mode, Replay by default.
	Mode mode.Mode

	SingleUse     bool
	SimulateDelay bool
	// MaxAge enables expiry checks when positive. Expired interactions fail the call when
	// FailExpired is set and are logged otherwise.
	MaxAge      time.Duration
	FailExpired bool

	// CensorHeaders and CensorParams extend the default censors.
	CensorHeaders []string
	CensorParams  []string
	// CensorPatterns are regular expressions replaced in bodies. From the environment they
	// are comma separated, so a pattern cannot contain a comma there.
	CensorPatterns []string

	// RedisPassword is set on redis store URLs that carry no password of their own.
	RedisPassword secret.String
}

// ConfigFromEnv reads the VCR_* environment variables.
func ConfigFromEnv() (Config, error) {
	return configFrom(env.NewLoader())
}

func configFrom(l *env.Loader) (Config, error) {
	cfg := Config{Store: DefaultStore}
	l.String(&cfg.Store, "VCR_STORE")
	l.String(&cfg.Cassette, "VCR_CASSETTE")
	l.Bool(&cfg.SingleUse, "VCR_SINGLE_USE")
	l.Bool(&cfg.SimulateDelay, "VCR_SIMULATE_DELAY")
	l.Duration(&cfg.MaxAge, "VCR_MAX_AGE")
	l.Bool(&cfg.FailExpired, "VCR_FAIL_EXPIRED")
	l.Strings(&cfg.CensorHeaders, "VCR_CENSOR_HEADERS")
	l.Strings(&cfg.CensorParams, "VCR_CENSOR_PARAMS")
	l.Strings(&cfg.CensorPatterns, "VCR_CENSOR_PATTERNS")
	l.SecretFromFile(&cfg.RedisPassword, "VCR_REDIS_PASSWORD_FILE")
	if err := l.Err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) censors() (*censor.Censors, error) {
	cs := censor.Default()
	cs.Headers = append(cs.Headers, c.CensorHeaders...)
	cs.Params = append(cs.Params, c.CensorParams...)
	for _, p := range c.CensorPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("censor pattern %q: %w", p, err)
		}
		cs.Patterns = append(cs.Patterns, re)
	}
	return cs, nil
}

func (c Config) storeURL() string {
	dsn := c.Store
	if dsn == "" {
		dsn = DefaultStore
	}
	if !c.RedisPassword.IsSet() {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), c.RedisPassword.Raw())
	return u.String()
}

// Session is a started recorder with its store.
type Session struct {
	*recorder.Transport
	store    *storeurl.Opened
	registry *cassette.Registry
}

// Start opens the store, loads the cassette and returns a session whose transport wraps
// real, or http.DefaultTransport when real is nil.
func Start(ctx context.Context, cfg Config, real http.RoundTripper) (_ *Session, err error) {
	ctx, span := o11y.StartSpan(ctx, "vcr: start")
	defer o11y.End(span, &err)

	if cfg.Cassette == "" {
		return nil, errors.New("vcr: cassette name is required")
	}
	span.AddField("cassette", cfg.Cassette)
	span.AddField("mode", cfg.Mode.String())

	cs, err := cfg.censors()
	if err != nil {
		return nil, err
	}
	store, err := storeurl.Open(ctx, cfg.storeURL())
	if err != nil {
		return nil, err
	}
	span.AddField("store", store.Scheme)

	onExpired := recorder.ExpiryWarn
	if cfg.FailExpired {
		onExpired = recorder.ExpiryFail
	}
	t := recorder.NewTransport(real, recorder.Options{
		Mode:          cfg.Mode,
		Censor:        cs,
		SingleUse:     cfg.SingleUse,
		SimulateDelay: cfg.SimulateDelay,
		MaxAge:        cfg.MaxAge,
		OnExpired:     onExpired,
	})
	sess := &Session{Transport: t, store: store, registry: cassette.NewRegistry(store.Store, 0)}
	if err := sess.Use(ctx, cfg.Cassette); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return sess, nil
}

// Use switches the session to the cassette called name. Switching back to a cassette used
// earlier in the session picks up the same instance, with its consumed marks.
func (s *Session) Use(ctx context.Context, name string) error {
	return s.Insert(ctx, s.registry.Get(name))
}

// Close ejects the cassette and releases the store. Recorded interactions are already
// persisted.
func (s *Session) Close(ctx context.Context) error {
	s.Eject()
	return s.store.Close(ctx)
}
