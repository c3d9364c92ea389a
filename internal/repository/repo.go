// Package repository wraps the pgxpool.Pool connection to Postgres,
// grounded on the teacher's internal/repository/repo_core.go: same pool
// construction via pgxpool.ParseConfig plus env-driven pool-size
// overrides, same per-connection statement_timeout /
// idle_in_transaction_session_timeout guards. Concerns are split across
// files the way the teacher splits postgres.go / postgres_ingest.go /
// partitions.go, one file per resource kind instead of one per
// blockchain-analytics surface.
package repository

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the shared Postgres handle passed down to every
// processor and the health server.
type Repository struct {
	db *pgxpool.Pool
}

// New constructs a Repository against dbURL, applying pool-size and
// connection-lifetime settings the same way the teacher's NewRepository
// does.
func New(ctx context.Context, dbURL string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("repository: parse db url: %w", err)
	}

	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinConns = int32(n)
		}
	}

	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["statement_timeout"]; !ok {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] = envOrDefault("DB_STATEMENT_TIMEOUT", "300000")
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"]; !ok {
		cfg.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = envOrDefault("DB_IDLE_TX_TIMEOUT", "120000")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("repository: connect: %w", err)
	}

	return &Repository{db: pool}, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Close releases the underlying connection pool.
func (r *Repository) Close() {
	r.db.Close()
}

// Migrate executes the schema file at schemaPath in a single batch, the
// same blunt approach the teacher uses for initial provisioning.
func (r *Repository) Migrate(ctx context.Context, schemaPath string) error {
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("repository: read schema: %w", err)
	}
	if _, err := r.db.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("repository: apply schema: %w", err)
	}
	return nil
}

// RefreshSearchView best-effort refreshes the listings_search
// materialized view if one has been provisioned; a deployment that
// never created it pays one cheap catalog lookup per listing cycle. Per
// spec.md §4.F step 7, a post-cycle hook the cycle driver calls only for
// the listing resource, ignoring errors.
func (r *Repository) RefreshSearchView(ctx context.Context) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_matviews WHERE matviewname = 'listings_search')`).Scan(&exists); err != nil || !exists {
		return nil
	}
	_, err := r.db.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY listings_search`)
	return err
}
