package domainpool

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a referenced domain or config row is absent.
	ErrNotFound = errors.New("domain not found")
	// ErrUnavailable is returned when selection cannot produce a domain:
	// the pool is inactive or holds no active domains.
	ErrUnavailable = errors.New("no domain available")
	// ErrRejected is returned when an operation is valid in form but not
	// permitted in the current state.
	ErrRejected = errors.New("operation rejected")
)

// Store is the persistence boundary of the pool. Implementations must make
// WithTx mutually exclusive per record so that read-modify-write sequences
// (cursor advance, failure counting) never interleave.
type Store interface {
	// GetConfig returns the pool config row, or (nil, nil) when none exists.
	GetConfig(ctx context.Context) (*PoolConfig, error)
	// SaveConfig inserts or fully overwrites the pool config row.
	SaveConfig(ctx context.Context, cfg *PoolConfig) error

	// ListDomains returns all domains ordered by (ord, id).
	ListDomains(ctx context.Context) ([]*Domain, error)
	// GetDomain returns a domain by id, or (nil, nil) when absent.
	GetDomain(ctx context.Context, id string) (*Domain, error)
	InsertDomain(ctx context.Context, d *Domain) error
	// UpdateDomain overwrites the full row for d.ID.
	UpdateDomain(ctx context.Context, d *Domain) error
	// DeleteDomain removes the row and reports whether it existed.
	DeleteDomain(ctx context.Context, id string) (bool, error)

	// WithTx runs fn against a transactional view of the store.
	WithTx(ctx context.Context, fn func(Store) error) error
}
