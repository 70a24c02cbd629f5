package notifier

import (
	"context"
	"time"

	"ticketd/internal/acquire"
)

// Config controls the async delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
	// Events lists the event names forwarded to channels. Empty selects
	// DefaultEvents.
	Events []string
}

// DefaultEvents are the outcomes operators care about.
var DefaultEvents = []string{
	acquire.EventSucceeded,
	acquire.EventFailed,
	acquire.EventError,
}

// Message is one event on its way to a channel.
type Message struct {
	Event   string    `json:"event"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Channel is an external destination.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, m Message) error
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	Channel string    `json:"channel"`
	Event   string    `json:"event"`
	Error   string    `json:"error,omitempty"`
}
