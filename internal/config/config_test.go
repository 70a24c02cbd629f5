package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  timezone: America/Lima
  startup_delay: 1s
acquire:
  schedule_strategy: race
  race_count: 5
storage:
  driver: sqlite
  path: ./ticketd.db
http:
  enabled: true
  addr: 127.0.0.1:8080
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "ticketd.yaml", sampleYAML)

	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.Timezone != "America/Lima" || cfg.Acquire.RaceCount != 5 || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return committed config")
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, file, body, want string
	}{
		{"unknown yaml field", "c.yaml", "scheduler:\n  timezon: UTC\n", "unknown field"},
		{"unknown json field", "c.json", `{"bogus": 1}`, "unknown field"},
		{"trailing json", "c.json", `{"logging":{"level":"info"}} {}`, "trailing data"},
		{"bad yaml", "c.yml", "logging: [\n", "yaml"},
		{"two yaml documents", "c.yaml", "engine:\n  max_concurrent: 4\n---\nengine:\n  max_concurrent: 8\n", "single document"},
		{"yaml list at top", "c.yaml", "- engine\n", "decode yaml config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.file, []byte(tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Decode err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	for _, body := range []string{"", "# nothing yet\n", "---\n"} {
		cfg, err := Decode("c.yaml", []byte(body))
		if err != nil || cfg == nil {
			t.Fatalf("Decode(%q) = %v, %v", body, cfg, err)
		}
		if cfg.Engine.MaxConcurrent != 0 || cfg.Notifier != nil {
			t.Fatalf("Decode(%q) = %+v, want zero config", body, cfg)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad duration", func(c *Config) { c.Acquire.Interval = "soon" }, "acquire.interval"},
		{"negative duration", func(c *Config) { c.Claim.Timeout = "-1s" }, "claim.timeout"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Base" }, "scheduler.timezone"},
		{"negative count", func(c *Config) { c.Acquire.BurstCount = -1 }, "acquire.burst_count"},
		{"sqlite without path", func(c *Config) { c.Storage = StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"postgres without dsn", func(c *Config) { c.Storage = StorageConfig{Driver: "postgres"} }, "storage.dsn"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "unknown storage.driver"},
		{"remote logs without bot", func(c *Config) { c.Logging.Telegram.Enabled = true }, "logging.telegram"},
		{"redis without addr", func(c *Config) {
			c.Notifier = &NotifierConfig{Enabled: true, Redis: RedisConfig{Enabled: true}}
		}, "notifier.redis.addr"},
		{"public http without token", func(c *Config) { c.HTTP = HTTPConfig{Enabled: true, Addr: ":8080"} }, "http.token"},
		{"public http with token", func(c *Config) { c.HTTP = HTTPConfig{Enabled: true, Addr: ":8080", Token: "s3cret"} }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Storage: StorageConfig{Driver: "memory"}}
			tc.mut(cfg)
			err := Validate(cfg)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 5 * time.Second, false},
		{"  ", 5 * time.Second, false},
		{"0s", 5 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"-1s", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationOrDefault("x", tc.raw, 5*time.Second)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err = %v, wantErr %v", tc.raw, err, tc.wantErr)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.raw, got, tc.want)
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Storage: StorageConfig{Driver: "postgres", DSN: "postgres://u:pw@db/a"}}
	newCfg := &Config{
		Storage:   StorageConfig{Driver: "postgres", DSN: "postgres://u:other@db/a"},
		Telegram:  TelegramConfig{Token: "123:ABC", ChatID: 42},
		Scheduler: SchedulerConfig{Timezone: "UTC"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if want := []string{"scheduler", "storage", "telegram"}; !slices.Equal(changed, want) {
		t.Fatalf("changed = %v want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}

	same, _ := SummarizeConfigChange(newCfg, newCfg)
	if len(same) != 0 {
		t.Fatalf("identical configs reported changes: %v", same)
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "ticketd.json", `{"storage":{"driver":"memory"},"engine":{"max_concurrent":4}}`)

	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(1)
	ctx := context.Background()

	if ok, err := m.Reload(ctx); err != nil || ok {
		t.Fatalf("unchanged reload = %v, %v", ok, err)
	}

	writeFile(t, dir, "ticketd.json", `{"storage":{"driver":"memory"},"engine":{"max_concurrent":8}}`)
	if ok, err := m.Reload(ctx); err != nil || !ok {
		t.Fatalf("changed reload = %v, %v", ok, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Engine.MaxConcurrent != 8 {
			t.Fatalf("published max_concurrent = %d", cfg.Engine.MaxConcurrent)
		}
	default:
		t.Fatalf("no config published")
	}

	writeFile(t, dir, "ticketd.json", `{"storage":{"driver":"sqlite"}}`)
	if ok, err := m.Reload(ctx); err == nil || ok {
		t.Fatalf("invalid reload = %v, %v", ok, err)
	}
	if m.Get().Engine.MaxConcurrent != 8 {
		t.Fatalf("invalid config was committed")
	}
}

func TestValidatorHookRejects(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "ticketd.json", `{"engine":{"max_concurrent":1}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(context.Context, *Config) error { return os.ErrPermission })

	writeFile(t, dir, "ticketd.json", `{"engine":{"max_concurrent":2}}`)
	if _, err := m.Reload(context.Background()); err != os.ErrPermission {
		t.Fatalf("Reload err = %v", err)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "ticketd.json", `{"engine":{"max_concurrent":1}}`)
	m := NewConfigManager(p)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher has registered and picked it up.
		writeFile(t, dir, "ticketd.json", `{"engine":{"max_concurrent":3}}`)
		select {
		case cfg := <-sub:
			if cfg.Engine.MaxConcurrent != 3 {
				t.Fatalf("published max_concurrent = %d", cfg.Engine.MaxConcurrent)
			}
			return
		case <-deadline:
			t.Fatalf("watch did not publish")
		case <-tick.C:
		}
	}
}
