package livecode

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the referenced live code is absent.
	ErrNotFound = errors.New("live code not found")
	// ErrRejected is returned when an operation is refused in the current
	// state (locked primary, bad confirmation, invalid input).
	ErrRejected = errors.New("operation rejected")
)

// Store persists live codes. WithTx must serialize read-modify-write per
// record; the rotation cursor and redirect stats are updated through it.
type Store interface {
	List(ctx context.Context) ([]*LiveCode, error)
	// Get returns a live code by id, or (nil, nil) when absent.
	Get(ctx context.Context, id string) (*LiveCode, error)
	Insert(ctx context.Context, lc *LiveCode) error
	// Update overwrites the full row for lc.ID.
	Update(ctx context.Context, lc *LiveCode) error
	// Delete removes the row and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	WithTx(ctx context.Context, fn func(Store) error) error
}
