// Package trigger is the CRUD surface over persisted triggers.
//
// Every mutation disarms the live timer before the write and re-arms it
// after the write succeeds. Mutations of the same id are serialized.
package trigger
