package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const rootKey = "root"

// Postgres stores the state blob in a single-row table.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, db *pgxpool.Pool) (*Postgres, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS app_state (
	key  text PRIMARY KEY,
	data bytea NOT NULL
);`

	if _, err := db.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create app_state table: %w", err)
	}

	return &Postgres{db: db}, nil
}

func (s *Postgres) Read(ctx context.Context) ([]byte, error) {
	const stmt = `SELECT data FROM app_state WHERE key = $1;`

	var data []byte
	err := s.db.QueryRow(ctx, stmt, rootKey).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	return data, nil
}

func (s *Postgres) Write(ctx context.Context, data []byte) error {
	const stmt = `
INSERT INTO app_state (key, data) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data;`

	if _, err := s.db.Exec(ctx, stmt, rootKey, data); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	return nil
}
