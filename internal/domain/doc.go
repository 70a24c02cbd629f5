// Package domain holds the records shared by the store, the scheduler and
// the acquisition engine: identities, triggers and the errors they report.
package domain
