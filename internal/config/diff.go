package config

import (
	"reflect"
	"sort"
	"strings"

	logx "ticketd/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Tokens, passwords and DSNs are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Telegram (never log token)
	oT, nT := oldCfg.Telegram, newCfg.Telegram
	if oT.ChatID != nT.ChatID || oT.ThreadID != nT.ThreadID || oT.ParseMode != nT.ParseMode ||
		strings.TrimSpace(oT.Token) != strings.TrimSpace(nT.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.chat_id", nT.ChatID),
			logx.Int("telegram.thread_id", nT.ThreadID),
			logx.Bool("telegram.token_set", strings.TrimSpace(nT.Token) != ""),
			logx.Bool("telegram.token_changed", strings.TrimSpace(oT.Token) != strings.TrimSpace(nT.Token)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.startup_delay", newCfg.Scheduler.StartupDelay),
			logx.String("scheduler.past_tolerance", newCfg.Scheduler.PastTolerance),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs, logx.Int("engine.max_concurrent", newCfg.Engine.MaxConcurrent))
	}

	if oldCfg.Claim != newCfg.Claim {
		changed = append(changed, "claim")
		attrs = append(attrs,
			logx.String("claim.endpoint", newCfg.Claim.Endpoint),
			logx.String("claim.timeout", newCfg.Claim.Timeout),
		)
	}

	if oldCfg.Acquire != newCfg.Acquire {
		a := newCfg.Acquire
		changed = append(changed, "acquire")
		attrs = append(attrs,
			logx.String("acquire.schedule_strategy", a.ScheduleStrategy),
			logx.Int("acquire.burst_count", a.BurstCount),
			logx.Int("acquire.race_count", a.RaceCount),
			logx.Int("acquire.max_rounds", a.MaxRounds),
			logx.String("acquire.race_mode", a.RaceMode),
			logx.String("acquire.terminal_policy", a.TerminalPolicy),
		)
	}

	// Storage (never log dsn). Changes here need a restart.
	oS, nS := oldCfg.Storage, newCfg.Storage
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
		)
	}

	oN, nN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if (oldCfg.Notifier == nil) != (newCfg.Notifier == nil) || !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Int("notifier.workers", nN.Workers),
			logx.Int("notifier.queue_size", nN.QueueSize),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.Bool("notifier.telegram", nN.Telegram),
			logx.Bool("notifier.redis", nN.Redis.Enabled),
		)
	}

	// HTTP (never log token)
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}
