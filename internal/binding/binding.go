// Package binding maintains the reverse index from pool domains to the live
// codes using them, so the admin UI can answer "who is affected if this
// domain dies" without scanning every live code.
package binding

import (
	"context"
	"time"
)

type Role string

const (
	RolePrimary  Role = "primary"
	RoleFallback Role = "fallback"
)

// Record ties one domain to one live code in one role.
type Record struct {
	DomainID     string    `json:"domainId"`
	Host         string    `json:"host"`
	LiveCodeID   string    `json:"liveCodeId"`
	LiveCodeName string    `json:"liveCodeName"`
	Role         Role      `json:"role"`
	Priority     *int      `json:"priority,omitempty"`
	BoundAt      time.Time `json:"boundAt"`
}

// Store persists binding records. Record is an upsert keyed on
// (domainID, liveCodeID, role), so re-binding is idempotent.
type Store interface {
	Record(ctx context.Context, r *Record) error
	Remove(ctx context.Context, domainID, liveCodeID string, role Role) error
	// RemoveByLiveCode drops every record of a deleted live code.
	RemoveByLiveCode(ctx context.Context, liveCodeID string) error
	// RemoveByDomain drops every record of a deleted domain.
	RemoveByDomain(ctx context.Context, domainID string) error
	// UpdateLiveCodeName keeps the denormalized name in sync on rename.
	UpdateLiveCodeName(ctx context.Context, liveCodeID, name string) error
	ListByDomain(ctx context.Context, domainID string) ([]*Record, error)
	ListAll(ctx context.Context) ([]*Record, error)
}
