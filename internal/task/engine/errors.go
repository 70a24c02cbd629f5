package engine

import "errors"

var (
	// ErrClosed is reported by Future.Err for submissions made after Close.
	ErrClosed = errors.New("worker pool closed")
	// ErrPanicked is reported by Future.Err when the task panicked.
	ErrPanicked = errors.New("task panicked")
)
