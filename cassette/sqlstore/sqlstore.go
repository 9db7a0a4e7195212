// Package sqlstore keeps cassettes in a SQL table, one row per interaction, on PostgreSQL or
// SQLite. Statements are written with ? placeholders and rebound for the driver.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/db"
	"github.com/circleci/vcr/o11y"
)

const entity = "cassette_interactions"

const schema = `
CREATE TABLE IF NOT EXISTS cassette_interactions (
	cassette    TEXT   NOT NULL,
	seq         BIGINT NOT NULL,
	interaction TEXT   NOT NULL,
	PRIMARY KEY (cassette, seq)
)`

type Store struct {
	tx     *db.TxManager
	driver string
}

// New returns a store on database, creating the table if needed.
func New(ctx context.Context, database *sqlx.DB) (*Store, error) {
	s := &Store{tx: db.NewTxManager(database), driver: database.DriverName()}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) (err error) {
	ctx, span := db.Span(ctx, s.driver, entity, "migrate")
	defer o11y.End(span, &err)

	_, err = s.tx.NoTx().ExecContext(ctx, schema)
	if errors.Is(err, db.ErrNop) {
		return nil
	}
	return err
}

func (s *Store) Save(ctx context.Context, name string, interactions []cassette.Interaction) (err error) {
	ctx, span := db.Span(ctx, s.driver, entity, "save")
	defer o11y.End(span, &err)
	span.AddField("cassette", name)
	span.AddField("count", len(interactions))

	rows, err := encode(interactions)
	if err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(ctx context.Context, q db.Querier) error {
		_, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM cassette_interactions WHERE cassette = ?`), name)
		if err != nil && !errors.Is(err, db.ErrNop) {
			return err
		}
		for seq, row := range rows {
			_, err := q.ExecContext(ctx,
				q.Rebind(`INSERT INTO cassette_interactions (cassette, seq, interaction) VALUES (?, ?, ?)`),
				name, seq+1, row)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Append adds i after the current last row. Concurrent appends to one cassette can race for
// the same sequence number, the loser's transaction is retried.
func (s *Store) Append(ctx context.Context, name string, i cassette.Interaction) (err error) {
	ctx, span := db.Span(ctx, s.driver, entity, "append")
	defer o11y.End(span, &err)
	span.AddField("cassette", name)

	rows, err := encode([]cassette.Interaction{i})
	if err != nil {
		return err
	}

	return s.tx.WithRetry(ctx, func(ctx context.Context, q db.Querier) error {
		var last int64
		err := q.GetContext(ctx, &last,
			q.Rebind(`SELECT COALESCE(MAX(seq), 0) FROM cassette_interactions WHERE cassette = ?`), name)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx,
			q.Rebind(`INSERT INTO cassette_interactions (cassette, seq, interaction) VALUES (?, ?, ?)`),
			name, last+1, rows[0])
		return err
	})
}

func (s *Store) LoadAll(ctx context.Context, name string) (_ []cassette.Interaction, err error) {
	ctx, span := db.Span(ctx, s.driver, entity, "load_all")
	defer o11y.End(span, &err)
	span.AddField("cassette", name)

	var rows []string
	q := s.tx.NoTx()
	err = q.SelectContext(ctx, &rows,
		q.Rebind(`SELECT interaction FROM cassette_interactions WHERE cassette = ? ORDER BY seq`), name)
	if err != nil {
		return nil, err
	}

	interactions := make([]cassette.Interaction, 0, len(rows))
	for n, row := range rows {
		var i cassette.Interaction
		if err := json.Unmarshal([]byte(row), &i); err != nil {
			return nil, fmt.Errorf("decode interaction %d: %w", n, err)
		}
		interactions = append(interactions, i)
	}
	span.AddField("count", len(interactions))
	return interactions, nil
}

func (s *Store) Delete(ctx context.Context, name string) (err error) {
	ctx, span := db.Span(ctx, s.driver, entity, "delete")
	defer o11y.End(span, &err)
	span.AddField("cassette", name)

	q := s.tx.NoTx()
	_, err = q.ExecContext(ctx, q.Rebind(`DELETE FROM cassette_interactions WHERE cassette = ?`), name)
	if errors.Is(err, db.ErrNop) {
		return nil
	}
	return err
}

func (s *Store) List(ctx context.Context) (_ []string, err error) {
	ctx, span := db.Span(ctx, s.driver, entity, "list")
	defer o11y.End(span, &err)

	var names []string
	err = s.tx.NoTx().SelectContext(ctx, &names,
		`SELECT DISTINCT cassette FROM cassette_interactions ORDER BY cassette`)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// HealthCheck reports on the store's database.
func (s *Store) HealthCheck(name string) *db.HealthCheck {
	return &db.HealthCheck{Name: name, DB: s.tx.DB}
}

func encode(interactions []cassette.Interaction) ([]string, error) {
	rows := make([]string, 0, len(interactions))
	for _, i := range interactions {
		b, err := json.Marshal(i)
		if err != nil {
			return nil, err
		}
		rows = append(rows, string(b))
	}
	return rows, nil
}
