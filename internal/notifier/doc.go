// Package notifier is the notification sink for acquisition events.
//
// Publish never blocks the caller. Every event goes to the in-process event
// bus immediately; selected events are also queued for the external
// channels (Telegram chat, Redis pub/sub), which workers drain under a rate
// limit with retry and windowed dedup.
package notifier
