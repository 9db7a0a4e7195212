package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/circleci/vcr/config/secret"
	"github.com/circleci/vcr/o11y"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Host string
	Port int
	User string
	Pass secret.String
	Name string
	SSL  bool
}

// URL returns the PostgreSQL connection URL for the config.
func (c Config) URL(appName string) string {
	params := url.Values{}
	params.Set("connect_timeout", "5")
	params.Set("application_name", appName)
	if c.SSL {
		params.Set("sslmode", "require")
	} else {
		params.Set("sslmode", "disable")
	}
	uri := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Pass.Raw()),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Name,
		RawQuery: params.Encode(),
	}
	return uri.String()
}

// New opens a PostgreSQL pool.
func New(ctx context.Context, appName string, c Config) (*sqlx.DB, error) {
	return Open(ctx, DriverPostgres, c.URL(appName))
}

// Open opens a pool for one of the supported drivers. SQLite pools are limited to a single
// connection, since each connection to an in-memory database is a separate database and
// concurrent writers would otherwise see SQLITE_BUSY.
func Open(ctx context.Context, driverName, dsn string) (db *sqlx.DB, err error) {
	_, span := o11y.StartSpan(ctx, "db: connect")
	defer o11y.End(span, &err)
	span.AddRawField("db.system", System(driverName))

	db, err = sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	switch driverName {
	case DriverSQLite:
		db.SetMaxOpenConns(1)
	default:
		db.SetConnMaxLifetime(time.Hour)
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
	}
	return db, nil
}

// System names the database behind a driver, as used in the db.system span field.
func System(driverName string) string {
	switch driverName {
	case DriverPostgres:
		return "postgresql"
	case DriverSQLite:
		return "sqlite"
	default:
		return driverName
	}
}
