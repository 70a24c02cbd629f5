package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ticketd/internal/domain"
	"ticketd/internal/metrics"
	logx "ticketd/pkg/logx"
)

const (
	DefaultTimezone      = "America/Lima"
	DefaultStartupDelay  = 2 * time.Second
	DefaultPastTolerance = 30 * time.Second

	previewRuns = 3
)

// Config controls trigger arming.
type Config struct {
	// Timezone is the IANA zone fire times are interpreted in. The process
	// timezone is never used unless the zone fails to load.
	Timezone string
	// StartupDelay is the grace period before Restore arms anything.
	StartupDelay time.Duration
	// PastTolerance is how late a one-off may be armed and still fire.
	PastTolerance time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.StartupDelay < 0 {
		c.StartupDelay = 0
	} else if c.StartupDelay == 0 {
		c.StartupDelay = DefaultStartupDelay
	}
	if c.PastTolerance <= 0 {
		c.PastTolerance = DefaultPastTolerance
	}
	return c
}

// FireFunc runs when a trigger's timer elapses.
type FireFunc func(ctx context.Context, t domain.Trigger)

// Runner starts named goroutines. runtime/supervisor.Supervisor satisfies it.
type Runner interface {
	Go(name string, fn func(ctx context.Context) error)
}

const (
	KindOnce   = "once"
	KindWeekly = "weekly"
)

// armedJob is the runtime handle of one active trigger.
type armedJob struct {
	trigger domain.Trigger
	kind    string
	spec    string // cron spec for weekly triggers
	at      time.Time
	ver     uint64

	entryID cron.EntryID
	timer   *time.Timer
}

// ArmedInfo describes an armed trigger for listings.
type ArmedInfo struct {
	TriggerID  string      `json:"trigger_id"`
	IdentityID int64       `json:"identity_id"`
	Kind       string      `json:"kind"`
	Spec       string      `json:"spec"`
	Next       []time.Time `json:"next"`
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Started  bool        `json:"started"`
	Timezone string      `json:"timezone"`
	Armed    []ArmedInfo `json:"armed"`
	Fired    uint64      `json:"fired"`
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	loc     *time.Location
	metrics metrics.Sink
	runner  Runner
	fire    FireFunc
	now     func() time.Time

	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context

	jobs  map[string]*armedJob
	ver   uint64
	fired uint64
}
