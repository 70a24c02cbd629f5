package claim

import (
	"fmt"
	"time"
)

// Upstream status codes with a special meaning for the engine.
const (
	CodeSuccess   = 201
	CodeFailure   = 500 // synthesized for every transport-level failure
	CodeNotFound  = 404 // synthesized for unknown identities in a batch
	CodeConflict  = 409
	CodeRateLimit = 429
)

// Category is the closed classification of a Result.
type Category int

const (
	Success Category = iota
	TransportFailure
	TerminalRejection
)

func (c Category) String() string {
	switch c {
	case Success:
		return "success"
	case TransportFailure:
		return "transport_failure"
	case TerminalRejection:
		return "terminal_rejection"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Classify is the single place that maps an upstream code to a category.
func Classify(code int) Category {
	switch code {
	case CodeSuccess:
		return Success
	case CodeFailure:
		return TransportFailure
	default:
		return TerminalRejection
	}
}

// Result is the outcome of one claim attempt. It is never mutated after
// the client returns it.
type Result struct {
	StatusCode int            `json:"code"`
	ClaimCode  string         `json:"ticket,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Latency    time.Duration  `json:"latency"`
}

// Failed is the result every transport failure collapses to.
func Failed(latency time.Duration) Result {
	return Result{StatusCode: CodeFailure, Latency: latency}
}

func (r Result) Category() Category { return Classify(r.StatusCode) }
func (r Result) Succeeded() bool    { return r.StatusCode == CodeSuccess }
func (r Result) Message() string    { return Message(r.StatusCode) }

var codeMessages = map[int]string{
	201: "ticket obtained",
	300: "multiple choices available",
	400: "bad request",
	401: "unauthorized",
	403: "forbidden",
	404: "not found",
	409: "conflict, probably already registered",
	429: "too many requests",
	500: "internal server error",
	502: "bad gateway",
	503: "service unavailable",
	504: "gateway timeout",
}

// Message is a human readable description of an upstream code.
func Message(code int) string {
	if m, ok := codeMessages[code]; ok {
		return m
	}
	return fmt.Sprintf("unknown code %d", code)
}
