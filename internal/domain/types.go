package domain

import (
	"fmt"
	"strings"
	"time"
)

// Identity is the person a claim is made for. The core never mutates it.
type Identity struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"` // national id (DNI)
	Secret     string `json:"secret"`      // student code
	Name       string `json:"name"`
}

// Trigger is a persisted instruction to attempt a claim at a time.
//
// Exactly one of FireDate (one-off) or RecurringDays (weekly) is set, and
// IsRecurring says which.
type Trigger struct {
	ID            string    `json:"id"`
	IdentityID    int64     `json:"identity_id"`
	FireDate      string    `json:"fire_date,omitempty"`
	RecurringDays Weekdays  `json:"recurring_days,omitempty"`
	FireTime      string    `json:"fire_time"`
	IsRecurring   bool      `json:"is_recurring"`
	IsActive      bool      `json:"is_active"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const DateLayout = "2006-01-02"

// Validate checks the mode invariants. FireTime must already be normalized.
func (t Trigger) Validate() error {
	if t.IdentityID <= 0 {
		return &ValidationError{Field: "identity_id", Reason: "must be positive"}
	}
	if _, _, _, err := ParseClock(t.FireTime); err != nil {
		return &ValidationError{Field: "fire_time", Reason: err.Error()}
	}
	if t.IsRecurring {
		if t.FireDate != "" {
			return &ValidationError{Field: "fire_date", Reason: "must be empty for a recurring trigger"}
		}
		if len(t.RecurringDays) == 0 {
			return &ValidationError{Field: "recurring_days", Reason: "at least one day is required"}
		}
		for _, d := range t.RecurringDays {
			if d < time.Sunday || d > time.Saturday {
				return &ValidationError{Field: "recurring_days", Reason: fmt.Sprintf("invalid weekday %d", int(d))}
			}
		}
		return nil
	}
	if len(t.RecurringDays) != 0 {
		return &ValidationError{Field: "recurring_days", Reason: "must be empty for a one-off trigger"}
	}
	if _, err := time.Parse(DateLayout, t.FireDate); err != nil {
		return &ValidationError{Field: "fire_date", Reason: "expected YYYY-MM-DD"}
	}
	return nil
}

// FireAt is the absolute instant of a one-off trigger in loc.
func (t Trigger) FireAt(loc *time.Location) (time.Time, error) {
	if t.IsRecurring {
		return time.Time{}, fmt.Errorf("trigger %s is recurring", t.ID)
	}
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, t.FireDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("fire_date %q: %w", t.FireDate, err)
	}
	h, m, s, err := ParseClock(t.FireTime)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, s, 0, loc), nil
}

// Mode is "once" or "weekly", used in logs and listings.
func (t Trigger) Mode() string {
	if t.IsRecurring {
		return "weekly"
	}
	return "once"
}

// NormalizeClock accepts HH:MM or HH:MM:SS and returns HH:MM:SS.
func NormalizeClock(s string) (string, error) {
	h, m, sec, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec), nil
}

// ParseClock parses a 24h time of day with optional seconds.
func ParseClock(s string) (h, m, sec int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid time %q (expected HH:MM or HH:MM:SS)", s)
	}
	vals := [3]int{}
	limits := [3]int{23, 59, 59}
	for i, p := range parts {
		if len(p) != 2 {
			return 0, 0, 0, fmt.Errorf("invalid time %q (expected HH:MM or HH:MM:SS)", s)
		}
		n := 0
		for _, r := range p {
			if r < '0' || r > '9' {
				return 0, 0, 0, fmt.Errorf("invalid time %q (expected HH:MM or HH:MM:SS)", s)
			}
			n = n*10 + int(r-'0')
		}
		if n > limits[i] {
			return 0, 0, 0, fmt.Errorf("invalid time %q (out of range)", s)
		}
		vals[i] = n
	}
	return vals[0], vals[1], vals[2], nil
}
