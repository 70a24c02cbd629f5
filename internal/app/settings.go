package app

import (
	"fmt"
	"strings"
	"time"

	"ticketd/internal/acquire"
	"ticketd/internal/claim"
	"ticketd/internal/config"
	"ticketd/internal/notifier"
	"ticketd/internal/observability/httpd"
	"ticketd/internal/storage"
	"ticketd/internal/task/engine"
	"ticketd/internal/task/scheduler"
	"ticketd/internal/transport/telegram"
	logx "ticketd/pkg/logx"
)

// The map* functions turn the on-disk config into component configs,
// parsing durations. Zero values are left to the components' defaults.

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Remote: logx.RemoteConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool) {
	t := cfg.Telegram
	if strings.TrimSpace(t.Token) == "" || t.ChatID == 0 {
		return telegram.Config{}, false
	}
	return telegram.Config{
		Token:     strings.TrimSpace(t.Token),
		ChatID:    t.ChatID,
		ThreadID:  t.ThreadID,
		ParseMode: t.ParseMode,
	}, true
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	delay, err := parseDurationField("scheduler.startup_delay", sc.StartupDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	tolerance, err := parseDurationField("scheduler.past_tolerance", sc.PastTolerance)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:      strings.TrimSpace(sc.Timezone),
		StartupDelay:  delay,
		PastTolerance: tolerance,
	}, nil
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{MaxConcurrent: cfg.Engine.MaxConcurrent}
}

func mapClaimConfig(cfg *config.Config) (claim.Config, error) {
	timeout, err := parseDurationField("claim.timeout", cfg.Claim.Timeout)
	if err != nil {
		return claim.Config{}, err
	}
	return claim.Config{
		Endpoint: strings.TrimSpace(cfg.Claim.Endpoint),
		Referer:  strings.TrimSpace(cfg.Claim.Referer),
		Timeout:  timeout,
	}, nil
}

func mapAcquireConfig(cfg *config.Config) (acquire.Config, error) {
	a := cfg.Acquire
	out := acquire.Config{
		BurstCount: a.BurstCount,
		RaceCount:  a.RaceCount,
		MaxRounds:  a.MaxRounds,
		MaxRetries: a.MaxRetries,
	}
	var err error
	if out.ScheduleStrategy, err = acquire.ParseKind(a.ScheduleStrategy); err != nil {
		return acquire.Config{}, fmt.Errorf("acquire.schedule_strategy: %w", err)
	}
	if out.TerminalPolicy, err = acquire.ParseTerminalPolicy(a.TerminalPolicy); err != nil {
		return acquire.Config{}, fmt.Errorf("acquire.terminal_policy: %w", err)
	}
	if out.RaceMode, err = acquire.ParseRaceMode(a.RaceMode); err != nil {
		return acquire.Config{}, fmt.Errorf("acquire.race_mode: %w", err)
	}
	durations := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"acquire.interval", a.Interval, &out.Interval},
		{"acquire.retry_base", a.RetryBase, &out.RetryBase},
		{"acquire.burst_jitter", a.BurstJitter, &out.BurstJitter},
		{"acquire.race_stagger", a.RaceStagger, &out.RaceStagger},
	}
	for _, d := range durations {
		if *d.dst, err = parseDurationField(d.path, d.raw); err != nil {
			return acquire.Config{}, err
		}
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: "file", Path: strings.TrimSpace(sc.Path)}, nil
	case "sqlite", "sqlite3":
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
	case "postgres", "pgx":
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN)}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapNotifierConfig defaults to enabled when the section is omitted. The
// event bus is fed either way.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		DedupWindow:     time.Minute,
		DedupMaxEntries: 2000,
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	out.Enabled = n.Enabled
	out.PersistDedup = n.PersistDedup
	out.Events = n.Events
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}

	var err error
	if out.RetryBase, err = parseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = parseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = parseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.dedup_max_entries must be >= 0")
	}
	return out, nil
}

func mapHTTPConfig(cfg *config.Config) httpd.Config {
	h := cfg.HTTP
	return httpd.Config{
		Enabled: h.Enabled,
		Addr:    strings.TrimSpace(h.Addr),
		Token:   strings.TrimSpace(h.Token),
		Pprof:   h.Pprof,
	}
}

// validateConfig runs every mapper so a reload that would fail to apply is
// rejected before it is committed.
func validateConfig(cfg *config.Config) error {
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapClaimConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAcquireConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	return nil
}
