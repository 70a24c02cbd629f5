package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Claim     ClaimConfig     `json:"claim"`
	Acquire   AcquireConfig   `json:"acquire"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	HTTP      HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines at or above MinLevel to the telegram
// chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig is the bot used for notifications and remote logs.
type TelegramConfig struct {
	Token     string `json:"token"`
	ChatID    int64  `json:"chat_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type SchedulerConfig struct {
	// Timezone fire times are interpreted in. Default America/Lima.
	Timezone      string `json:"timezone,omitempty"`
	StartupDelay  string `json:"startup_delay,omitempty"`
	PastTolerance string `json:"past_tolerance,omitempty"`
}

type EngineConfig struct {
	MaxConcurrent int `json:"max_concurrent,omitempty"`
}

// ClaimConfig points at the ticket endpoint.
type ClaimConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	Referer  string `json:"referer,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// AcquireConfig tunes the acquisition strategies. Zero values keep defaults.
type AcquireConfig struct {
	// ScheduleStrategy is used when a trigger fires: burst, race or sequential.
	ScheduleStrategy string `json:"schedule_strategy,omitempty"`
	BurstCount       int    `json:"burst_count,omitempty"`
	RaceCount        int    `json:"race_count,omitempty"`
	MaxRounds        int    `json:"max_rounds,omitempty"`
	Interval         string `json:"interval,omitempty"`
	MaxRetries       int    `json:"max_retries,omitempty"`
	RetryBase        string `json:"retry_base,omitempty"`
	BurstJitter      string `json:"burst_jitter,omitempty"`
	RaceStagger      string `json:"race_stagger,omitempty"`
	// TerminalPolicy: next_round or abort.
	TerminalPolicy string `json:"terminal_policy,omitempty"`
	// RaceMode: first_finished or first_success.
	RaceMode string `json:"race_mode,omitempty"`
}

// StorageConfig selects the trigger store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./ticketd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// NotifierConfig controls external notification delivery. The event bus is
// always fed, even when the section is omitted.
type NotifierConfig struct {
	Enabled         bool        `json:"enabled"`
	Workers         int         `json:"workers,omitempty"`
	QueueSize       int         `json:"queue_size,omitempty"`
	RatePerSec      int         `json:"rate_per_sec,omitempty"`
	RetryMax        int         `json:"retry_max,omitempty"`
	RetryBase       string      `json:"retry_base,omitempty"`
	RetryMaxDelay   string      `json:"retry_max_delay,omitempty"`
	DedupWindow     string      `json:"dedup_window,omitempty"`
	DedupMaxEntries int         `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool        `json:"persist_dedup,omitempty"`
	Events          []string    `json:"events,omitempty"`
	Telegram        bool        `json:"telegram"`
	Redis           RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// HTTPConfig controls the admin server (/metrics, /healthz, trigger API,
// pprof).
//
// Bind to loopback or set a token: the API can fire claims.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default 127.0.0.1:8080
	Token   string `json:"token,omitempty"` // bearer token (do not log)
	Pprof   bool   `json:"pprof,omitempty"`
}
