package engine

import (
	"context"
	"time"

	"ticketd/internal/claim"
)

const DefaultMaxConcurrent = 10

// Config controls the claim worker pool.
type Config struct {
	// MaxConcurrent is the hard ceiling on in-flight claim attempts across
	// every trigger and strategy in the process.
	MaxConcurrent int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	return c
}

// Task is one unit of claim work. It must honor ctx.
type Task func(ctx context.Context) claim.Result

// Status is a point-in-time view of the pool. Reading it never blocks
// submissions.
type Status struct {
	InFlight      int    `json:"in_flight"`
	MaxConcurrent int    `json:"max_concurrent"`
	Free          int    `json:"free"`
	Waiting       int    `json:"waiting"`
	Completed     uint64 `json:"completed"`
	Panics        uint64 `json:"panics"`
	Rejected      uint64 `json:"rejected"`
}

// HistoryItem records a finished task for diagnostics.
type HistoryItem struct {
	Started   time.Time     `json:"started"`
	SlotDelay time.Duration `json:"slot_delay"`
	Duration  time.Duration `json:"duration"`
	Code      int           `json:"code"`
}
