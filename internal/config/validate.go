package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs that would fail at apply time. Hot reloads run it
// before anything is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	durations := map[string]string{
		"scheduler.startup_delay":  cfg.Scheduler.StartupDelay,
		"scheduler.past_tolerance": cfg.Scheduler.PastTolerance,
		"claim.timeout":            cfg.Claim.Timeout,
		"acquire.interval":         cfg.Acquire.Interval,
		"acquire.retry_base":       cfg.Acquire.RetryBase,
		"acquire.burst_jitter":     cfg.Acquire.BurstJitter,
		"acquire.race_stagger":     cfg.Acquire.RaceStagger,
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
	}
	if n := cfg.Notifier; n != nil {
		durations["notifier.retry_base"] = n.RetryBase
		durations["notifier.retry_max_delay"] = n.RetryMaxDelay
		durations["notifier.dedup_window"] = n.DedupWindow
	}
	for path, raw := range durations {
		_, err := ParseDurationField(path, raw)
		check(err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	nonNegative := map[string]int{
		"engine.max_concurrent": cfg.Engine.MaxConcurrent,
		"acquire.burst_count":   cfg.Acquire.BurstCount,
		"acquire.race_count":    cfg.Acquire.RaceCount,
		"acquire.max_rounds":    cfg.Acquire.MaxRounds,
		"acquire.max_retries":   cfg.Acquire.MaxRetries,
	}
	if n := cfg.Notifier; n != nil {
		nonNegative["notifier.workers"] = n.Workers
		nonNegative["notifier.queue_size"] = n.QueueSize
		nonNegative["notifier.rate_per_sec"] = n.RatePerSec
		nonNegative["notifier.retry_max"] = n.RetryMax
	}
	for path, v := range nonNegative {
		if v < 0 {
			check(fmt.Errorf("%s must be >= 0", path))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			check(fmt.Errorf("storage.path is required when storage.driver=%s", cfg.Storage.Driver))
		}
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			check(errors.New("storage.dsn is required when storage.driver=postgres"))
		}
	default:
		check(fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}

	telegramSet := strings.TrimSpace(cfg.Telegram.Token) != "" && cfg.Telegram.ChatID != 0
	if cfg.Logging.Telegram.Enabled && !telegramSet {
		check(errors.New("logging.telegram.enabled requires telegram.token and telegram.chat_id"))
	}
	if n := cfg.Notifier; n != nil && n.Enabled {
		if n.Telegram && !telegramSet {
			check(errors.New("notifier.telegram requires telegram.token and telegram.chat_id"))
		}
		if n.Redis.Enabled && strings.TrimSpace(n.Redis.Addr) == "" {
			check(errors.New("notifier.redis.addr is required when notifier.redis.enabled"))
		}
	}
	if cfg.HTTP.Enabled && !isLoopback(cfg.HTTP.Addr) && strings.TrimSpace(cfg.HTTP.Token) == "" {
		check(fmt.Errorf("http.addr %q is not loopback; set http.token", cfg.HTTP.Addr))
	}
	return errors.Join(errs...)
}

func isLoopback(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	for _, p := range []string{"127.", "localhost:", "[::1]:"} {
		if strings.HasPrefix(addr, p) {
			return true
		}
	}
	return false
}
