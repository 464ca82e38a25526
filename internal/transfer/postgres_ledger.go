package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createTransfersTable = `
CREATE TABLE IF NOT EXISTS transfers (
	id TEXT PRIMARY KEY,
	video_path TEXT NOT NULL,
	name TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	driver TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	requested_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS transfers_requested_at_idx ON transfers (requested_at DESC);
`

// PostgresConfig configures the Postgres-backed ledger.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
	Timeout  time.Duration
}

// PostgresLedger persists records to a transfers table, allowing replicas
// to share one history.
type PostgresLedger struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresLedger opens a pool using cfg.DSN and creates the transfers
// table when it is missing.
func NewPostgresLedger(ctx context.Context, cfg PostgresConfig) (*PostgresLedger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres ledger dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres ledger config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres ledger pool: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ledger := &PostgresLedger{pool: pool, timeout: timeout}
	setupCtx, cancel := ledger.withTimeout(ctx)
	defer cancel()
	if _, err := pool.Exec(setupCtx, createTransfersTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create transfers table: %w", err)
	}
	return ledger, nil
}

func (l *PostgresLedger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeout)
}

// Close releases the Postgres connection pool resources.
func (l *PostgresLedger) Close(ctx context.Context) error {
	if l == nil || l.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		l.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (l *PostgresLedger) Record(ctx context.Context, record Record) error {
	if l.pool == nil {
		return fmt.Errorf("postgres ledger pool not configured")
	}
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	var completed *time.Time
	if record.CompletedAt != nil {
		ts := record.CompletedAt.UTC()
		completed = &ts
	}
	_, err := l.pool.Exec(ctx, `
INSERT INTO transfers (id, video_path, name, size_bytes, driver, status, error, requested_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	driver = EXCLUDED.driver,
	status = EXCLUDED.status,
	error = EXCLUDED.error,
	completed_at = EXCLUDED.completed_at
WHERE transfers.completed_at IS NULL OR EXCLUDED.completed_at IS NOT NULL
`, record.ID, record.AccessPath, record.Name, record.Size, record.Driver, record.Status, record.Error, record.RequestedAt.UTC(), completed)
	return err
}

func (l *PostgresLedger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if l.pool == nil {
		return nil, fmt.Errorf("postgres ledger pool not configured")
	}
	if limit <= 0 {
		limit = DefaultLedgerCapacity
	}
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	rows, err := l.pool.Query(ctx, `
SELECT id, video_path, name, size_bytes, driver, status, error, requested_at, completed_at
FROM transfers
ORDER BY requested_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := make([]Record, 0, limit)
	for rows.Next() {
		var record Record
		if err := rows.Scan(
			&record.ID,
			&record.AccessPath,
			&record.Name,
			&record.Size,
			&record.Driver,
			&record.Status,
			&record.Error,
			&record.RequestedAt,
			&record.CompletedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
