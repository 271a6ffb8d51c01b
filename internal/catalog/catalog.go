// Package catalog holds the durable mapping of subdomain to tunnel binding.
//
// A Connection is created and destroyed out-of-band (by the management API);
// the SSH registrar and the reverse proxy only ever read it by subdomain and,
// in the registrar's case, rewrite its ProxyPort column.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no Connection matches the requested key.
var ErrNotFound = errors.New("catalog: connection not found")

// ErrDuplicateSubdomain is returned by Insert when the subdomain is already taken.
var ErrDuplicateSubdomain = errors.New("catalog: subdomain already registered")

// Connection is one logical tunnel binding: a subdomain, optionally bound to
// a live local proxy port.
type Connection struct {
	ID           string `gorm:"primaryKey"`
	Subdomain    string `gorm:"uniqueIndex"`
	UpstreamPort string
	ProxyPort    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether this Connection currently has a live tunnel port.
func (c Connection) Active() bool {
	return c.ProxyPort != nil && *c.ProxyPort != ""
}

// Store is the catalog's external contract, consumed by the registrar, the
// reverse proxy, and the management API. Implementations must serialize
// writes to a single row; no multi-row transaction is required.
type Store interface {
	GetBySubdomain(ctx context.Context, subdomain string) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	Insert(ctx context.Context, c Connection) (Connection, error)
	Save(ctx context.Context, c Connection) error
	Delete(ctx context.Context, id string) error
	GetAll(ctx context.Context) ([]Connection, error)
}
