package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_kv (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_set_members (
		set_key    TEXT NOT NULL,
		member     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (set_key, member)
	)`,
}

// PostgresBackend stores the same key layout in two tables so the job state
// survives a Redis flush.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	for _, statement := range postgresSchema {
		if _, err := pool.Exec(ctx, statement); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure pg schema: %w", err)
		}
	}
	return &PostgresBackend{pool: pool}, nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.pool.QueryRow(ctx, `SELECT value FROM pipeline_kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query kv %s: %w", key, err)
	}
	return value, nil
}

func (b *PostgresBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := upsertValue(ctx, b.pool, key, value); err != nil {
		return fmt.Errorf("upsert kv %s: %w", key, err)
	}
	return nil
}

func (b *PostgresBackend) SetMany(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		for _, key := range keys {
			if err := upsertValue(ctx, tx, key, values[key]); err != nil {
				return fmt.Errorf("upsert kv %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("multi upsert kv: %w", err)
	}
	return nil
}

func (b *PostgresBackend) AddMember(ctx context.Context, key, member string) (bool, error) {
	command, err := b.pool.Exec(ctx, `
		INSERT INTO pipeline_set_members (set_key, member)
		VALUES ($1, $2)
		ON CONFLICT (set_key, member) DO NOTHING
	`, key, member)
	if err != nil {
		return false, fmt.Errorf("insert set member %s: %w", key, err)
	}
	return command.RowsAffected() == 1, nil
}

func (b *PostgresBackend) CountMembers(ctx context.Context, key string) (int, error) {
	var count int
	err := b.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pipeline_set_members WHERE set_key = $1`, key).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count set members %s: %w", key, err)
	}
	return count, nil
}

func (b *PostgresBackend) Members(ctx context.Context, key string) ([]string, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT member
		FROM pipeline_set_members
		WHERE set_key = $1
		ORDER BY member
	`, key)
	if err != nil {
		return nil, fmt.Errorf("list set members %s: %w", key, err)
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("scan set member: %w", err)
		}
		members = append(members, member)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate set members: %w", rows.Err())
	}
	return members, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func upsertValue(ctx context.Context, db execer, key string, value []byte) error {
	_, err := db.Exec(ctx, `
		INSERT INTO pipeline_kv (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, key, value)
	return err
}
