package storage

import (
	"context"
	"time"

	"ticketd/internal/domain"
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TriggerFilter narrows ListTriggers. Nil fields do not filter.
type TriggerFilter struct {
	IdentityID *int64
	Active     *bool
	Recurring  *bool
}

func (f TriggerFilter) match(t domain.Trigger) bool {
	if f.IdentityID != nil && t.IdentityID != *f.IdentityID {
		return false
	}
	if f.Active != nil && t.IsActive != *f.Active {
		return false
	}
	if f.Recurring != nil && t.IsRecurring != *f.Recurring {
		return false
	}
	return true
}

// Store is the persistence API used by the trigger service, the
// coordinator and the notifier. Missing rows are reported as
// domain.ErrNotFound.
type Store interface {
	CreateIdentity(ctx context.Context, id domain.Identity) (domain.Identity, error)
	GetIdentity(ctx context.Context, id int64) (domain.Identity, error)
	ListIdentities(ctx context.Context) ([]domain.Identity, error)

	CreateTrigger(ctx context.Context, t domain.Trigger) error
	GetTrigger(ctx context.Context, id string) (domain.Trigger, error)
	// ListTriggers orders by fire date then fire time; recurring triggers
	// (no date) come first.
	ListTriggers(ctx context.Context, f TriggerFilter) ([]domain.Trigger, error)
	UpdateTrigger(ctx context.Context, t domain.Trigger) error
	DeleteTrigger(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

func ptr[T any](v T) *T { return &v }

// ActiveOnly is the filter used to restore armed triggers at start.
func ActiveOnly() TriggerFilter { return TriggerFilter{Active: ptr(true)} }

// ForIdentity filters by identity when id is non-nil.
func ForIdentity(id *int64) TriggerFilter { return TriggerFilter{IdentityID: id} }
