// Package dbfixture creates an isolated PostgreSQL database per test. Tests are skipped
// when no database is reachable, unless CI is set.
package dbfixture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v4"
	"github.com/jmoiron/sqlx"
	"gotest.tools/v3/assert"

	"github.com/circleci/vcr/db"
	"github.com/circleci/vcr/o11y"
	"github.com/circleci/vcr/recontext"
	"github.com/circleci/vcr/testing/internal/types"
	"github.com/circleci/vcr/testing/testrand"
)

const appName = "dbfixture"

// DefaultConnection matches the database started for local development.
var DefaultConnection = db.Config{Host: "localhost", Port: 5432, User: "user", Pass: "password"}

var errNoDB = errors.New("no database available")

type Fixture struct {
	Name string
	// URL connects to the fixture's database
	URL string
	DB  *sqlx.DB
	TX  *db.TxManager
}

// SetupDB creates a database named after the test on the server con points at, and drops
// it when the test ends. Set TEST_PRESERVE_DB to keep it for inspection.
func SetupDB(ctx context.Context, t types.TestingTB, con db.Config) *Fixture {
	t.Helper()
	adm, err := admin(ctx, con)
	if errors.Is(err, errNoDB) && os.Getenv("CI") != "true" {
		t.Skip(err.Error())
	}
	assert.Assert(t, err)

	fix, err := create(ctx, adm, con, testrand.Name(t.Name(), "-", 63))
	assert.Assert(t, err)
	t.Cleanup(func() {
		ctx, cancel := recontext.WithNewTimeout(ctx, 10*time.Second)
		defer cancel()
		assert.Check(t, fix.drop(ctx, adm))
	})
	return fix
}

var (
	adminsMu sync.Mutex
	admins   = map[string]*sqlx.DB{}
)

// admin returns a connection to the server's maintenance database, shared by all tests.
func admin(ctx context.Context, con db.Config) (*sqlx.DB, error) {
	adminsMu.Lock()
	defer adminsMu.Unlock()

	con.Name = "postgres"
	u := con.URL(appName)
	if d, ok := admins[u]; ok {
		return d, nil
	}
	d, err := connect(ctx, u)
	if err != nil {
		return nil, err
	}
	admins[u] = d
	return d, nil
}

func connect(ctx context.Context, u string) (*sqlx.DB, error) {
	d, err := db.Open(ctx, db.DriverPostgres, u)
	if err != nil {
		return nil, err
	}
	if err := d.PingContext(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("%w: %v", errNoDB, err)
	}
	return d, nil
}

func create(ctx context.Context, adm *sqlx.DB, con db.Config, name string) (_ *Fixture, err error) {
	ctx, span := o11y.StartSpan(ctx, "dbfixture: create")
	defer o11y.End(span, &err)
	span.AddField("dbname", name)
	span.AddField("host", con.Host)

	if _, err = adm.ExecContext(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return nil, err
	}
	con.Name = name
	fix := &Fixture{Name: name, URL: con.URL(appName)}
	if fix.DB, err = connect(ctx, fix.URL); err != nil {
		return nil, err
	}
	fix.TX = db.NewTxManager(fix.DB)
	return fix, nil
}

func (f *Fixture) drop(ctx context.Context, adm *sqlx.DB) error {
	var result error
	if err := f.DB.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close: %w", err))
	}
	if os.Getenv("TEST_PRESERVE_DB") != "" {
		return result
	}

	// connections left open by the code under test would block the drop
	_, err := adm.ExecContext(ctx,
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
		f.Name)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("terminate connections: %w", err))
	}
	if _, err := adm.ExecContext(ctx, "DROP DATABASE "+pgx.Identifier{f.Name}.Sanitize()); err != nil {
		result = multierror.Append(result, fmt.Errorf("drop database: %w", err))
	}
	return result
}
