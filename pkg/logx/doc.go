// Package logx is ticketd's structured logger.
//
// A thin wrapper (logx.Logger) over zerolog:
//   - readable console output with a short caller
//   - JSON lines in the optional log file
//   - an optional remote sink (Telegram) gated by min-level and a rate limiter
package logx
