package binding

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/linkos-dev/linkos/internal/database"
)

// PgStore persists bindings in PostgreSQL.
type PgStore struct {
	db *database.Database
}

func NewPgStore(db *database.Database) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Record(ctx context.Context, r *Record) error {
	const q = `INSERT INTO domain_bindings
	             (domain_id, host, live_code_id, live_code_name, role, priority, bound_at)
	           VALUES ($1,$2,$3,$4,$5,$6,$7)
	           ON CONFLICT (domain_id, live_code_id, role) DO UPDATE SET
	             host = EXCLUDED.host,
	             live_code_name = EXCLUDED.live_code_name,
	             priority = EXCLUDED.priority,
	             bound_at = EXCLUDED.bound_at`
	var priority sql.NullInt32
	if r.Priority != nil {
		priority = sql.NullInt32{Int32: int32(*r.Priority), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, q,
		r.DomainID, r.Host, r.LiveCodeID, r.LiveCodeName, r.Role, priority, r.BoundAt)
	if err != nil {
		return fmt.Errorf("record binding %s/%s: %w", r.DomainID, r.LiveCodeID, err)
	}
	return nil
}

func (s *PgStore) Remove(ctx context.Context, domainID, liveCodeID string, role Role) error {
	const q = `DELETE FROM domain_bindings WHERE domain_id = $1 AND live_code_id = $2 AND role = $3`
	if _, err := s.db.ExecContext(ctx, q, domainID, liveCodeID, role); err != nil {
		return fmt.Errorf("remove binding %s/%s: %w", domainID, liveCodeID, err)
	}
	return nil
}

func (s *PgStore) RemoveByLiveCode(ctx context.Context, liveCodeID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM domain_bindings WHERE live_code_id = $1`, liveCodeID); err != nil {
		return fmt.Errorf("remove bindings for live code %s: %w", liveCodeID, err)
	}
	return nil
}

func (s *PgStore) RemoveByDomain(ctx context.Context, domainID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM domain_bindings WHERE domain_id = $1`, domainID); err != nil {
		return fmt.Errorf("remove bindings for domain %s: %w", domainID, err)
	}
	return nil
}

func (s *PgStore) UpdateLiveCodeName(ctx context.Context, liveCodeID, name string) error {
	const q = `UPDATE domain_bindings SET live_code_name = $2 WHERE live_code_id = $1`
	if _, err := s.db.ExecContext(ctx, q, liveCodeID, name); err != nil {
		return fmt.Errorf("update binding names for live code %s: %w", liveCodeID, err)
	}
	return nil
}

const bindingColumns = `domain_id, host, live_code_id, live_code_name, role, priority, bound_at`

func (s *PgStore) ListByDomain(ctx context.Context, domainID string) ([]*Record, error) {
	const q = `SELECT ` + bindingColumns + ` FROM domain_bindings WHERE domain_id = $1 ORDER BY bound_at`
	rows, err := s.db.QueryContext(ctx, q, domainID)
	if err != nil {
		return nil, fmt.Errorf("list bindings for domain %s: %w", domainID, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PgStore) ListAll(ctx context.Context) ([]*Record, error) {
	const q = `SELECT ` + bindingColumns + ` FROM domain_bindings ORDER BY live_code_id, role, bound_at`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		r := &Record{}
		var priority sql.NullInt32
		if err := rows.Scan(&r.DomainID, &r.Host, &r.LiveCodeID, &r.LiveCodeName,
			&r.Role, &priority, &r.BoundAt); err != nil {
			return nil, err
		}
		if priority.Valid {
			p := int(priority.Int32)
			r.Priority = &p
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
