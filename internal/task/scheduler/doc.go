// Package scheduler owns the live timers behind active triggers.
//
// It is the only component that creates or cancels timers:
//   - weekly triggers become robfig/cron entries in the configured timezone
//   - one-off triggers become version-guarded time.AfterFunc timers
//
// When a timer elapses the FireFunc (the acquisition coordinator) runs on its
// own supervised goroutine.
package scheduler
