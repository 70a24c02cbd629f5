package engine

import (
	"context"

	"ticketd/internal/claim"
)

// Future is the pending result of a submitted Task. It resolves exactly once.
type Future struct {
	done chan struct{}
	res  claim.Result
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func resolved(res claim.Result, err error) *Future {
	f := newFuture()
	f.resolve(res, err)
	return f
}

func (f *Future) resolve(res claim.Result, err error) {
	f.res = res
	f.err = err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the resolved result. Only valid after Done is closed.
func (f *Future) Result() claim.Result { return f.res }

// Err reports why the task did not run normally (cancelled before a slot
// was free, pool closed, panic). The Result is a 500 in those cases.
func (f *Future) Err() error { return f.err }

// Wait blocks until the future resolves or ctx is done. A cancelled wait
// yields a 500 result and ctx's error; the task itself keeps running.
func (f *Future) Wait(ctx context.Context) (claim.Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return claim.Failed(0), ctx.Err()
	}
}
