package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cluesolver/clue-server-go/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS clue_games (
	id          TEXT PRIMARY KEY,
	players     INTEGER NOT NULL,
	session     TEXT NOT NULL,
	history     JSONB NOT NULL DEFAULT '[]'::jsonb,
	cursor      INTEGER NOT NULL DEFAULT -1,
	checksum    TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clue_games_updated_at ON clue_games (updated_at);
`

// PostgresStore keeps games in the clue_games table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres connects, pings and makes sure the schema exists.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := NewPostgresStore(pool, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	stats := pool.Stat()
	logger.Info("postgres store opened",
		zap.Int32("total_conns", stats.TotalConns()),
		zap.Int32("max_conns", stats.MaxConns()),
	)
	return s, nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// EnsureSchema creates the games table when it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	var (
		rec     Record
		history []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, players, session, history, cursor, checksum, created_at, updated_at
		FROM clue_games WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Players, &rec.Session, &history, &rec.Cursor, &rec.Checksum, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read game %s: %w", id, err)
	}
	if err := json.Unmarshal(history, &rec.History); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, id, err)
	}
	if err := rec.Verify(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec *Record) error {
	rec.Seal()
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("failed to encode history for %s: %w", rec.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO clue_games (id, players, session, history, cursor, checksum, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			players = EXCLUDED.players,
			session = EXCLUDED.session,
			history = EXCLUDED.history,
			cursor = EXCLUDED.cursor,
			checksum = EXCLUDED.checksum,
			updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.Players, rec.Session, string(history), rec.Cursor, rec.Checksum, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write game %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM clue_games WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete game %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
