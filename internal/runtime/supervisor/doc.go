// Package supervisor runs named goroutines on a shared context with panic
// recovery, optional restart loops and per-name statistics.
//
// The scheduler runs every fired trigger through Go; the notifier hosts its
// delivery workers with GoRestart.
package supervisor
