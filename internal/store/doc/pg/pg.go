// Package pg backs doc.Store with a single Postgres jsonb table. The jsonb
// containment operator serves equality queries, `fields || excluded` gives
// atomic merge updates, and regular transactions give DeleteBatch the
// all-or-nothing semantics the cascade contract needs.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/idbroker/internal/store/core"
	"github.com/dropDatabas3/idbroker/internal/store/doc"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection text NOT NULL,
	id         text NOT NULL,
	fields     jsonb NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_fields_gin
	ON documents USING gin (fields jsonb_path_ops);
`

type Config struct {
	DSN             string
	MaxConns        int
	ConnMaxLifetime time.Duration
}

type Store struct {
	pool *pgxpool.Pool
}

// New connects, applies the schema and returns the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

var _ doc.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, collection, id string) (doc.Fields, error) {
	var b []byte
	err := s.pool.QueryRow(ctx,
		`SELECT fields FROM documents WHERE collection=$1 AND id=$2`,
		collection, id).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get: %w", err)
	}
	return doc.Decode(b)
}

func (s *Store) Query(ctx context.Context, collection string, limit int, conds ...doc.Cond) ([]doc.Doc, error) {
	match := make(map[string]any, len(conds))
	for _, c := range conds {
		match[c.Field] = encodeCond(c.Value)
	}
	mb, err := json.Marshal(match)
	if err != nil {
		return nil, err
	}
	q := `SELECT id, fields FROM documents WHERE collection=$1 AND fields @> $2 ORDER BY id`
	args := []any{collection, mb}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: query: %w", err)
	}
	defer rows.Close()

	var out []doc.Doc
	for rows.Next() {
		var id string
		var b []byte
		if err := rows.Scan(&id, &b); err != nil {
			return nil, fmt.Errorf("pg: query scan: %w", err)
		}
		f, err := doc.Decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, doc.Doc{ID: id, Fields: f})
	}
	return out, rows.Err()
}

func (s *Store) Set(ctx context.Context, collection, id string, fields doc.Fields) error {
	b, err := doc.Encode(fields)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET fields = EXCLUDED.fields`,
		collection, id, b)
	if err != nil {
		return fmt.Errorf("pg: set: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, collection, id string, fields doc.Fields) error {
	b, err := doc.Encode(fields)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, fields) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, b)
	if err != nil {
		return fmt.Errorf("pg: create: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pg: create %s/%s: %w", collection, id, core.ErrConflict)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields doc.Fields) error {
	b, err := doc.Encode(fields)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET fields = fields || $3
		WHERE collection=$1 AND id=$2`,
		collection, id, b)
	if err != nil {
		return fmt.Errorf("pg: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection=$1 AND id=$2`, collection, id)
	if err != nil {
		return false, fmt.Errorf("pg: delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteBatch(ctx context.Context, refs []doc.Ref) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pg: delete batch: %w", err)
	}
	defer tx.Rollback(ctx)
	for _, r := range refs {
		if _, err := tx.Exec(ctx,
			`DELETE FROM documents WHERE collection=$1 AND id=$2`,
			r.Collection, r.ID); err != nil {
			return fmt.Errorf("pg: delete batch: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) Truncate(ctx context.Context, collection string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection=$1`, collection)
	if err != nil {
		return fmt.Errorf("pg: truncate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// encodeCond mirrors the codec's boxing so containment matches stored JSON.
func encodeCond(v any) any {
	if t, ok := v.(time.Time); ok {
		return doc.BoxTime(t)
	}
	return v
}
