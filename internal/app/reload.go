package app

import (
	"context"
	"slices"
	"strings"

	"ticketd/internal/config"
	logx "ticketd/pkg/logx"
)

// restartOnly lists sections whose changes apply at the next start.
var restartOnly = []string{"storage", "telegram"}

// reloadLoop applies published configs until ctx ends. Bursts are
// coalesced to the latest config.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					next = newer
				}
			default:
				break drain
			}
		}
		a.applyConfig(ctx, last, next)
		last = next
	}
}

func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	for _, s := range sections {
		if slices.Contains(restartOnly, s) {
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(cfg))
	a.pool.Apply(mapEngineConfig(cfg))

	if sc, err := mapSchedulerConfig(cfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}
	if ac, err := mapAcquireConfig(cfg); err != nil {
		a.log.Warn("invalid acquire config; keeping previous", logx.Err(err))
	} else {
		a.strategies.Apply(ac)
	}
	if slices.Contains(sections, "claim") {
		a.log.Warn("claim endpoint changes apply at restart")
	}

	if nc, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prevNC, _ := mapNotifierConfig(prev)
		a.notif.Apply(nc)
		switch {
		case prevNC.Enabled && !nc.Enabled:
			a.log.Info("notifier disabled via config")
			a.notif.Stop(ctx)
		case !prevNC.Enabled && nc.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	a.httpd.Apply(ctx, mapHTTPConfig(cfg))

	a.log.Info("config reloaded", fields...)
}
