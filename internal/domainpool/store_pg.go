package domainpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/linkos-dev/linkos/internal/database"
)

// querier is the subset of database/sql shared by *database.Database and
// *sql.Tx, letting one store body serve both the plain and the
// transactional view.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PgStore persists the pool in PostgreSQL.
type PgStore struct {
	db   *database.Database
	q    querier
	inTx bool
}

func NewPgStore(db *database.Database) *PgStore {
	return &PgStore{db: db, q: db}
}

// WithTx runs fn against a transaction-bound store. Config reads inside the
// transaction take a row lock, so concurrent cursor advances serialize.
func (s *PgStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&PgStore{db: s.db, q: tx, inTx: true})
	})
}

func (s *PgStore) GetConfig(ctx context.Context) (*PoolConfig, error) {
	q := `SELECT id, name, strategy, max_failures, health_check_interval_secs,
	             retry_interval_secs, round_robin_cursor, is_active, created_at, updated_at
	      FROM pool_config WHERE id = $1`
	if s.inTx {
		q += " FOR UPDATE"
	}

	cfg := &PoolConfig{}
	err := s.q.QueryRowContext(ctx, q, poolConfigID).Scan(
		&cfg.ID, &cfg.Name, &cfg.Strategy, &cfg.MaxFailures, &cfg.HealthCheckInterval,
		&cfg.RetryInterval, &cfg.RoundRobinCursor, &cfg.IsActive, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pool config: %w", err)
	}
	return cfg, nil
}

func (s *PgStore) SaveConfig(ctx context.Context, cfg *PoolConfig) error {
	const q = `INSERT INTO pool_config
	             (id, name, strategy, max_failures, health_check_interval_secs,
	              retry_interval_secs, round_robin_cursor, is_active, created_at, updated_at)
	           VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	           ON CONFLICT (id) DO UPDATE SET
	             name = EXCLUDED.name,
	             strategy = EXCLUDED.strategy,
	             max_failures = EXCLUDED.max_failures,
	             health_check_interval_secs = EXCLUDED.health_check_interval_secs,
	             retry_interval_secs = EXCLUDED.retry_interval_secs,
	             round_robin_cursor = EXCLUDED.round_robin_cursor,
	             is_active = EXCLUDED.is_active,
	             updated_at = EXCLUDED.updated_at`
	_, err := s.q.ExecContext(ctx, q,
		cfg.ID, cfg.Name, cfg.Strategy, cfg.MaxFailures, cfg.HealthCheckInterval,
		cfg.RetryInterval, cfg.RoundRobinCursor, cfg.IsActive, cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save pool config: %w", err)
	}
	return nil
}

const domainColumns = `id, host, protocol, status, weight, ord, health_check_path,
	consecutive_failures, total_requests, total_failures,
	last_checked_at, last_failed_at, created_at, updated_at`

func (s *PgStore) ListDomains(ctx context.Context) ([]*Domain, error) {
	q := `SELECT ` + domainColumns + ` FROM domains ORDER BY ord, id`
	rows, err := s.q.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []*Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PgStore) GetDomain(ctx context.Context, id string) (*Domain, error) {
	q := `SELECT ` + domainColumns + ` FROM domains WHERE id = $1`
	if s.inTx {
		q += " FOR UPDATE"
	}
	d, err := scanDomain(s.q.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get domain %s: %w", id, err)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDomain(row rowScanner) (*Domain, error) {
	d := &Domain{}
	var lastChecked, lastFailed pgtype.Timestamptz
	err := row.Scan(
		&d.ID, &d.Host, &d.Protocol, &d.Status, &d.Weight, &d.Order, &d.HealthCheckPath,
		&d.ConsecutiveFailures, &d.TotalRequests, &d.TotalFailures,
		&lastChecked, &lastFailed, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.LastCheckedAt = timePtr(lastChecked)
	d.LastFailedAt = timePtr(lastFailed)
	return d, nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func nullableTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func (s *PgStore) InsertDomain(ctx context.Context, d *Domain) error {
	const q = `INSERT INTO domains (` + domainColumns + `)
	           VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := s.q.ExecContext(ctx, q,
		d.ID, d.Host, d.Protocol, d.Status, d.Weight, d.Order, d.HealthCheckPath,
		d.ConsecutiveFailures, d.TotalRequests, d.TotalFailures,
		nullableTime(d.LastCheckedAt), nullableTime(d.LastFailedAt), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert domain %s: %w", d.Host, err)
	}
	return nil
}

func (s *PgStore) UpdateDomain(ctx context.Context, d *Domain) error {
	const q = `UPDATE domains SET
	             host = $2, protocol = $3, status = $4, weight = $5, ord = $6,
	             health_check_path = $7, consecutive_failures = $8,
	             total_requests = $9, total_failures = $10,
	             last_checked_at = $11, last_failed_at = $12, updated_at = $13
	           WHERE id = $1`
	res, err := s.q.ExecContext(ctx, q,
		d.ID, d.Host, d.Protocol, d.Status, d.Weight, d.Order,
		d.HealthCheckPath, d.ConsecutiveFailures,
		d.TotalRequests, d.TotalFailures,
		nullableTime(d.LastCheckedAt), nullableTime(d.LastFailedAt), d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update domain %s: %w", d.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) DeleteDomain(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM domains WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete domain %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
