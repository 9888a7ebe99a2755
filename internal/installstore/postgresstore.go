package installstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production Store implementation, grounded on
// internal/store/postgres.go's pgxpool.Pool usage and schema-on-connect
// pattern.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies connectivity, and ensures the
// backing table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS sandbox_install_state (
		session_key TEXT PRIMARY KEY,
		bundle_hash TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("ensure sandbox_install_state schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInstalledHash(ctx context.Context, key string) (string, bool, error) {
	var digest string
	err := s.pool.QueryRow(ctx,
		`SELECT bundle_hash FROM sandbox_install_state WHERE session_key = $1`, key,
	).Scan(&digest)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query installed hash: %w", err)
	}
	return digest, true, nil
}

func (s *PostgresStore) SetInstalledHash(ctx context.Context, key string, digest string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sandbox_install_state (session_key, bundle_hash, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_key) DO UPDATE SET bundle_hash = EXCLUDED.bundle_hash, updated_at = now()
	`, key, digest)
	if err != nil {
		return fmt.Errorf("set installed hash: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
