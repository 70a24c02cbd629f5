package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ticketd/internal/acquire"
	"ticketd/internal/config"
	"ticketd/internal/domain"
	"ticketd/internal/trigger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ticketd.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestAppLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":409}`))
	}))
	defer srv.Close()

	p := writeConfig(t, `
claim:
  endpoint: `+srv.URL+`
logging:
  level: error
scheduler:
  timezone: UTC
  startup_delay: 1ms
storage:
  driver: memory
notifier:
  enabled: false
`)
	a, err := NewApp(p, WithOfflineTelegram())
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	id, err := a.Store().CreateIdentity(ctx, domain.Identity{ExternalID: "70000001", Secret: "2020100001", Name: "Ana"})
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	tr, err := a.Triggers().Create(ctx, trigger.CreateRequest{
		IdentityID:    id.ID,
		IsRecurring:   true,
		RecurringDays: domain.Weekdays{time.Monday},
		FireTime:      "07:30",
	})
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	if jobs := a.Triggers().ArmedJobs(); len(jobs) != 1 || jobs[0].TriggerID != tr.ID {
		t.Fatalf("armed jobs = %+v", jobs)
	}
	if _, err := a.Strategies().Execute(ctx, acquire.Burst, id.ID, 2); err != nil {
		t.Fatalf("burst: %v", err)
	}

	st, ok := a.Status().(Status)
	if !ok || !st.Scheduler.Started || st.Pool.MaxConcurrent == 0 {
		t.Fatalf("unexpected status %+v", a.Status())
	}
	if len(st.PoolRecent) != 2 || st.PoolRecent[0].Code != 409 {
		t.Fatalf("pool history in status = %+v", st.PoolRecent)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	p := writeConfig(t, "acquire:\n  race_mode: slowest\n")
	if _, err := NewApp(p, WithOfflineTelegram()); err == nil {
		t.Fatalf("NewApp accepted an unknown race mode")
	}
}

func TestMapAcquireConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Acquire: config.AcquireConfig{
		ScheduleStrategy: "race",
		RaceCount:        4,
		Interval:         "200ms",
		TerminalPolicy:   "abort",
		RaceMode:         "first_success",
	}}
	got, err := mapAcquireConfig(cfg)
	if err != nil {
		t.Fatalf("mapAcquireConfig: %v", err)
	}
	if got.ScheduleStrategy != acquire.Race || got.RaceCount != 4 || got.Interval != 200*time.Millisecond ||
		got.TerminalPolicy != acquire.Abort || got.RaceMode != acquire.FirstSuccess {
		t.Fatalf("unexpected acquire config %+v", got)
	}

	cfg.Acquire.Interval = "fast"
	if _, err := mapAcquireConfig(cfg); err == nil {
		t.Fatalf("expected a duration error")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      config.StorageConfig
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{config.StorageConfig{}, "memory", 0, false},
		{config.StorageConfig{Driver: "SQLite3", Path: "x.db"}, "sqlite", time.Second, false},
		{config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"}, "sqlite", 3 * time.Second, false},
		{config.StorageConfig{Driver: "pgx", DSN: "postgres://db"}, "postgres", 0, false},
		{config.StorageConfig{Driver: "mongo"}, "", 0, true},
	}
	for _, tc := range cases {
		got, err := mapStorageConfig(&config.Config{Storage: tc.in})
		if (err != nil) != tc.wantErr {
			t.Fatalf("%+v: err = %v", tc.in, err)
		}
		if err == nil && (got.Driver != tc.driver || got.BusyTimeout != tc.busy) {
			t.Fatalf("%+v: got %+v", tc.in, got)
		}
	}
}

func TestMapNotifierConfigDefaults(t *testing.T) {
	t.Parallel()
	got, err := mapNotifierConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if !got.Enabled || got.Workers != 2 || got.DedupWindow != time.Minute {
		t.Fatalf("unexpected defaults %+v", got)
	}
	got, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{Workers: 5, RetryBase: "1s"}})
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if got.Enabled || got.Workers != 5 || got.RetryBase != time.Second {
		t.Fatalf("unexpected mapped config %+v", got)
	}
}
