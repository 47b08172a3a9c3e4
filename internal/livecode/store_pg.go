package livecode

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/linkos-dev/linkos/internal/database"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PgStore persists live codes in PostgreSQL. Sub-codes and the domain
// config travel as JSONB documents: they are always read and written with
// their parent, never queried on their own.
type PgStore struct {
	db   *database.Database
	q    querier
	inTx bool
}

func NewPgStore(db *database.Database) *PgStore {
	return &PgStore{db: db, q: db}
}

func (s *PgStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&PgStore{db: s.db, q: tx, inTx: true})
	})
}

const liveCodeColumns = `id, name, status, distribution_mode, total_pv, main_url,
	h5_title, h5_description, sub_codes, domain_config, created_at, updated_at`

func (s *PgStore) List(ctx context.Context) ([]*LiveCode, error) {
	const q = `SELECT ` + liveCodeColumns + ` FROM live_codes ORDER BY created_at DESC`
	rows, err := s.q.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list live codes: %w", err)
	}
	defer rows.Close()

	var out []*LiveCode
	for rows.Next() {
		lc, err := scanLiveCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

func (s *PgStore) Get(ctx context.Context, id string) (*LiveCode, error) {
	q := `SELECT ` + liveCodeColumns + ` FROM live_codes WHERE id = $1`
	if s.inTx {
		q += " FOR UPDATE"
	}
	lc, err := scanLiveCode(s.q.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get live code %s: %w", id, err)
	}
	return lc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLiveCode(row rowScanner) (*LiveCode, error) {
	lc := &LiveCode{}
	var h5Title, h5Desc sql.NullString
	var subCodes []byte
	var domainConfig []byte
	err := row.Scan(
		&lc.ID, &lc.Name, &lc.Status, &lc.DistributionMode, &lc.TotalPV, &lc.MainURL,
		&h5Title, &h5Desc, &subCodes, &domainConfig, &lc.CreatedAt, &lc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	lc.H5Title = h5Title.String
	lc.H5Description = h5Desc.String
	if err := json.Unmarshal(subCodes, &lc.SubCodes); err != nil {
		return nil, fmt.Errorf("decode sub codes for %s: %w", lc.ID, err)
	}
	if len(domainConfig) > 0 {
		lc.DomainConfig = &DomainConfig{}
		if err := json.Unmarshal(domainConfig, lc.DomainConfig); err != nil {
			return nil, fmt.Errorf("decode domain config for %s: %w", lc.ID, err)
		}
	}
	return lc, nil
}

func encodeLiveCode(lc *LiveCode) (subCodes, domainConfig []byte, err error) {
	subCodes, err = json.Marshal(lc.SubCodes)
	if err != nil {
		return nil, nil, fmt.Errorf("encode sub codes for %s: %w", lc.ID, err)
	}
	if lc.DomainConfig != nil {
		domainConfig, err = json.Marshal(lc.DomainConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("encode domain config for %s: %w", lc.ID, err)
		}
	}
	return subCodes, domainConfig, nil
}

func (s *PgStore) Insert(ctx context.Context, lc *LiveCode) error {
	subCodes, domainConfig, err := encodeLiveCode(lc)
	if err != nil {
		return err
	}
	const q = `INSERT INTO live_codes (` + liveCodeColumns + `)
	           VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = s.q.ExecContext(ctx, q,
		lc.ID, lc.Name, lc.Status, lc.DistributionMode, lc.TotalPV, lc.MainURL,
		nullString(lc.H5Title), nullString(lc.H5Description),
		subCodes, nullBytes(domainConfig), lc.CreatedAt, lc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert live code %s: %w", lc.Name, err)
	}
	return nil
}

func (s *PgStore) Update(ctx context.Context, lc *LiveCode) error {
	subCodes, domainConfig, err := encodeLiveCode(lc)
	if err != nil {
		return err
	}
	const q = `UPDATE live_codes SET
	             name = $2, status = $3, distribution_mode = $4, total_pv = $5,
	             main_url = $6, h5_title = $7, h5_description = $8,
	             sub_codes = $9, domain_config = $10, updated_at = $11
	           WHERE id = $1`
	res, err := s.q.ExecContext(ctx, q,
		lc.ID, lc.Name, lc.Status, lc.DistributionMode, lc.TotalPV,
		lc.MainURL, nullString(lc.H5Title), nullString(lc.H5Description),
		subCodes, nullBytes(domainConfig), lc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update live code %s: %w", lc.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM live_codes WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete live code %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
