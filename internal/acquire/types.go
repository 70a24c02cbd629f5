package acquire

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticketd/internal/claim"
	"ticketd/internal/domain"
	"ticketd/internal/task/engine"
)

// Kind names an attempt pattern. The zero value is Burst, the pattern
// fired triggers use.
type Kind int

const (
	Burst Kind = iota
	Sequential
	Race
)

func (k Kind) String() string {
	switch k {
	case Sequential:
		return "sequential"
	case Burst:
		return "burst"
	case Race:
		return "race"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sequential", "seq", "retry":
		return Sequential, nil
	case "burst", "parallel", "":
		return Burst, nil
	case "race":
		return Race, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q (want sequential|burst|race)", s)
	}
}

// TerminalPolicy decides what Sequential does after a terminal rejection.
type TerminalPolicy int

const (
	// NextRound ends the current round and keeps going after the interval.
	NextRound TerminalPolicy = iota
	// Abort stops every remaining round.
	Abort
)

func (p TerminalPolicy) String() string {
	if p == Abort {
		return "abort"
	}
	return "next_round"
}

func ParseTerminalPolicy(s string) (TerminalPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "next_round", "next-round", "continue":
		return NextRound, nil
	case "abort", "stop":
		return Abort, nil
	default:
		return 0, fmt.Errorf("unknown terminal policy %q (want next_round|abort)", s)
	}
}

// RaceMode decides which result a race reports.
type RaceMode int

const (
	// FirstFinished reports whatever completes first, success or not.
	FirstFinished RaceMode = iota
	// FirstSuccess reports the first 201, or the earliest result if none succeeds.
	FirstSuccess
)

func (m RaceMode) String() string {
	if m == FirstSuccess {
		return "first_success"
	}
	return "first_finished"
}

func ParseRaceMode(s string) (RaceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first_finished", "first-finished":
		return FirstFinished, nil
	case "first_success", "first-success":
		return FirstSuccess, nil
	default:
		return 0, fmt.Errorf("unknown race mode %q (want first_finished|first_success)", s)
	}
}

// Config holds strategy tuning. Zero values take the defaults below.
type Config struct {
	BurstCount     int
	RaceCount      int
	MaxRounds      int
	Interval       time.Duration
	MaxRetries     int
	RetryBase      time.Duration
	BurstJitter    time.Duration
	RaceStagger    time.Duration
	TerminalPolicy TerminalPolicy
	RaceMode       RaceMode

	// ScheduleStrategy is what the coordinator runs when a trigger fires.
	ScheduleStrategy Kind
}

const (
	DefaultBurstCount  = 10
	DefaultRaceCount   = 8
	DefaultMaxRounds   = 5
	DefaultInterval    = 50 * time.Millisecond
	DefaultMaxRetries  = 3
	DefaultRetryBase   = time.Second
	DefaultBurstJitter = 50 * time.Millisecond
	DefaultRaceStagger = 10 * time.Millisecond
)

func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.BurstCount <= 0 {
		c.BurstCount = DefaultBurstCount
	}
	if c.RaceCount <= 0 {
		c.RaceCount = DefaultRaceCount
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.BurstJitter < 0 {
		c.BurstJitter = 0
	} else if c.BurstJitter == 0 {
		c.BurstJitter = DefaultBurstJitter
	}
	if c.RaceStagger < 0 {
		c.RaceStagger = 0
	} else if c.RaceStagger == 0 {
		c.RaceStagger = DefaultRaceStagger
	}
	return c
}

// IdentityLookup resolves the identity a trigger claims for.
type IdentityLookup interface {
	GetIdentity(ctx context.Context, id int64) (domain.Identity, error)
}

// Submitter is the worker pool as seen by the strategies.
type Submitter interface {
	Submit(ctx context.Context, task engine.Task) *engine.Future
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run is the record of one acquisition run.
type Run struct {
	TriggerID  string         `json:"trigger_id,omitempty"`
	IdentityID int64          `json:"identity_id"`
	Name       string         `json:"name,omitempty"`
	Strategy   Kind           `json:"strategy"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Attempts   []claim.Result `json:"attempts"`
}

func (r Run) Successful() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Succeeded() {
			n++
		}
	}
	return n
}

func (r Run) Succeeded() bool { return r.Successful() > 0 }

func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Tickets lists the claim codes of successful attempts.
func (r Run) Tickets() []string {
	var out []string
	for _, a := range r.Attempts {
		if a.Succeeded() && a.ClaimCode != "" {
			out = append(out, a.ClaimCode)
		}
	}
	return out
}

func (r Run) Codes() []int {
	out := make([]int, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		out = append(out, a.StatusCode)
	}
	return out
}

// CodeSummary pairs an attempt's code with its human readable message.
type CodeSummary struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (r Run) Summary() []CodeSummary {
	out := make([]CodeSummary, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		out = append(out, CodeSummary{Code: a.StatusCode, Message: a.Message()})
	}
	return out
}

// BatchItem is one identity's outcome in a batch claim.
type BatchItem struct {
	IdentityID int64        `json:"identity_id"`
	Name       string       `json:"name,omitempty"`
	Result     claim.Result `json:"result"`
}
