/*
Package db contains tools for working safely with the SQL databases cassettes can be stored in,
PostgreSQL through pgx and SQLite through modernc.org/sqlite.

There are tools for:
- opening connections with sensible pool settings
- transactions (including rollbacks on error or panic)
- mapping driver errors to errors defined in this package
- observability and health checks
*/
package db
