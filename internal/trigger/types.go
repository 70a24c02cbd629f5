package trigger

import (
	"context"
	"time"

	"ticketd/internal/acquire"
	"ticketd/internal/domain"
	"ticketd/internal/task/scheduler"
)

// UpcomingWindow bounds which one-off triggers Upcoming returns.
const UpcomingWindow = 7 * 24 * time.Hour

// CreateRequest describes a new trigger. FireTime accepts HH:MM or HH:MM:SS.
type CreateRequest struct {
	IdentityID    int64           `json:"identity_id"`
	FireDate      string          `json:"fire_date,omitempty"`
	RecurringDays domain.Weekdays `json:"recurring_days,omitempty"`
	FireTime      string          `json:"fire_time"`
	IsRecurring   bool            `json:"is_recurring"`
	Description   string          `json:"description,omitempty"`
	// IsActive defaults to true.
	IsActive *bool `json:"is_active,omitempty"`
}

// Patch updates the non-nil fields of a trigger. Switching mode clears the
// other mode's field.
type Patch struct {
	IdentityID    *int64           `json:"identity_id,omitempty"`
	FireDate      *string          `json:"fire_date,omitempty"`
	RecurringDays *domain.Weekdays `json:"recurring_days,omitempty"`
	FireTime      *string          `json:"fire_time,omitempty"`
	IsRecurring   *bool            `json:"is_recurring,omitempty"`
	IsActive      *bool            `json:"is_active,omitempty"`
	Description   *string          `json:"description,omitempty"`
}

// Scheduler is the timer owner. *scheduler.Service satisfies it.
type Scheduler interface {
	Arm(t domain.Trigger) error
	Disarm(id string) bool
	Armed() []scheduler.ArmedInfo
	Restore(ctx context.Context, triggers []domain.Trigger) (int, error)
	Location() *time.Location
	PastTolerance() time.Duration
}

// Runner executes a trigger on demand. *acquire.Coordinator satisfies it.
type Runner interface {
	RunNow(ctx context.Context, t domain.Trigger) (acquire.Run, error)
}
