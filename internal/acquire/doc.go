// Package acquire turns a fired trigger into claim attempts.
//
// Strategies implement the attempt patterns (sequential retry, parallel
// burst, first-to-finish race, batch) on top of the bounded worker pool.
// Coordinator is what the scheduler calls when a trigger fires: it resolves
// the identity, runs the configured strategy, publishes progress events and
// deactivates one-off triggers.
package acquire
