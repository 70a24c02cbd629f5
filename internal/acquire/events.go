package acquire

import "ticketd/internal/claim"

// Event names published while a trigger runs.
const (
	EventStarted     = "schedule.started"
	EventCompleted   = "schedule.completed"
	EventSucceeded   = "schedule.succeeded"
	EventFailed      = "schedule.failed"
	EventDeactivated = "schedule.deactivated"
	EventError       = "schedule.error"
)

// Publisher is the notification sink. Publish must not block.
type Publisher interface {
	Publish(event string, payload any)
}

type StartedEvent struct {
	TriggerID  string `json:"trigger_id"`
	IdentityID int64  `json:"identity_id"`
	Name       string `json:"name,omitempty"`
	Strategy   Kind   `json:"strategy"`
	Count      int    `json:"count"`
	Manual     bool   `json:"manual,omitempty"`
}

type CompletedEvent struct {
	TriggerID          string         `json:"trigger_id"`
	IdentityID         int64          `json:"identity_id"`
	Name               string         `json:"name,omitempty"`
	TotalAttempts      int            `json:"total_attempts"`
	SuccessfulAttempts int            `json:"successful_attempts"`
	Results            []claim.Result `json:"results"`
	Summary            []CodeSummary  `json:"summary"`
}

type SucceededEvent struct {
	TriggerID  string   `json:"trigger_id"`
	IdentityID int64    `json:"identity_id"`
	Name       string   `json:"name,omitempty"`
	Tickets    []string `json:"tickets"`
}

type FailedEvent struct {
	TriggerID  string `json:"trigger_id"`
	IdentityID int64  `json:"identity_id"`
	Name       string `json:"name,omitempty"`
	Codes      []int  `json:"codes"`
}

type DeactivatedEvent struct {
	TriggerID string `json:"trigger_id"`
}

type ErrorEvent struct {
	TriggerID  string `json:"trigger_id"`
	IdentityID int64  `json:"identity_id"`
	Error      string `json:"error"`
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}
