package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticketd/internal/claim"
)

func TestPoolNeverExceedsMaxConcurrent(t *testing.T) {
	t.Parallel()

	const limit = 3
	p := NewPool(Config{MaxConcurrent: limit})

	var cur, peak, runs atomic.Int64
	task := func(ctx context.Context) claim.Result {
		n := cur.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		cur.Add(-1)
		runs.Add(1)
		return claim.Result{StatusCode: 201}
	}

	var mu sync.Mutex
	var futures []*Future
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := p.Submit(context.Background(), task)
			mu.Lock()
			futures = append(futures, f)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, f := range futures {
		res, err := f.Wait(context.Background())
		if err != nil || res.StatusCode != 201 {
			t.Fatalf("unexpected result %+v err=%v", res, err)
		}
	}
	if got := peak.Load(); got > limit {
		t.Fatalf("peak in-flight %d exceeds limit %d", got, limit)
	}
	if got := runs.Load(); got != 20 {
		t.Fatalf("runs=%d want 20 (each task exactly once)", got)
	}
	st := p.Status()
	if st.InFlight != 0 || st.Free != limit || st.Completed != 20 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestPoolSubmitCancelledWhileFull(t *testing.T) {
	t.Parallel()

	p := NewPool(Config{MaxConcurrent: 1})
	release := make(chan struct{})
	blocker := p.Submit(context.Background(), func(ctx context.Context) claim.Result {
		<-release
		return claim.Result{StatusCode: 409}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	f := p.Submit(ctx, func(ctx context.Context) claim.Result {
		t.Error("task must not run after its submission was cancelled")
		return claim.Result{StatusCode: 201}
	})
	select {
	case <-f.Done():
	default:
		t.Fatalf("cancelled submission should resolve immediately")
	}
	if f.Result().StatusCode != claim.CodeFailure || !errors.Is(f.Err(), context.DeadlineExceeded) {
		t.Fatalf("got %+v err=%v", f.Result(), f.Err())
	}

	close(release)
	res, _ := blocker.Wait(context.Background())
	if res.StatusCode != 409 {
		t.Fatalf("blocker result %+v", res)
	}
	if p.Status().Rejected != 1 {
		t.Fatalf("rejected=%d", p.Status().Rejected)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	t.Parallel()

	p := NewPool(Config{MaxConcurrent: 1})
	f := p.Submit(context.Background(), func(ctx context.Context) claim.Result {
		panic("boom")
	})
	res, err := f.Wait(context.Background())
	if res.StatusCode != claim.CodeFailure || !errors.Is(err, ErrPanicked) {
		t.Fatalf("got %+v err=%v", res, err)
	}

	// The slot must have been released.
	f = p.Submit(context.Background(), func(ctx context.Context) claim.Result {
		return claim.Result{StatusCode: 201}
	})
	if res, _ := f.Wait(context.Background()); res.StatusCode != 201 {
		t.Fatalf("pool unusable after panic: %+v", res)
	}
	if p.Status().Panics != 1 {
		t.Fatalf("panics=%d", p.Status().Panics)
	}
}

func TestPoolStatusWhileBusy(t *testing.T) {
	t.Parallel()

	p := NewPool(Config{})
	if p.Status().MaxConcurrent != DefaultMaxConcurrent {
		t.Fatalf("default limit %d", p.Status().MaxConcurrent)
	}
	release := make(chan struct{})
	var fs []*Future
	for i := 0; i < 4; i++ {
		fs = append(fs, p.Submit(context.Background(), func(ctx context.Context) claim.Result {
			<-release
			return claim.Result{StatusCode: 201}
		}))
	}
	st := p.Status()
	if st.InFlight != 4 || st.Free != DefaultMaxConcurrent-4 {
		t.Fatalf("status %+v", st)
	}
	close(release)
	for _, f := range fs {
		<-f.Done()
	}
	if len(p.History()) != 4 {
		t.Fatalf("history=%d", len(p.History()))
	}
}

func TestPoolCloseRejectsAndDrains(t *testing.T) {
	t.Parallel()

	p := NewPool(Config{MaxConcurrent: 2})
	release := make(chan struct{})
	inflight := p.Submit(context.Background(), func(ctx context.Context) claim.Result {
		<-release
		return claim.Result{StatusCode: 201}
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if res := inflight.Result(); res.StatusCode != 201 {
		t.Fatalf("in-flight task result %+v", res)
	}

	f := p.Submit(context.Background(), func(ctx context.Context) claim.Result { return claim.Result{StatusCode: 201} })
	if !errors.Is(f.Err(), ErrClosed) || f.Result().StatusCode != claim.CodeFailure {
		t.Fatalf("submission after close: %+v err=%v", f.Result(), f.Err())
	}
}

func TestPoolApplyResizes(t *testing.T) {
	t.Parallel()

	p := NewPool(Config{MaxConcurrent: 2})
	p.Apply(Config{MaxConcurrent: 5})
	if st := p.Status(); st.MaxConcurrent != 5 || st.Free != 5 {
		t.Fatalf("status %+v", st)
	}
}

func TestPoolShrinkUnderLoadHoldsNewCeiling(t *testing.T) {
	t.Parallel()

	p := NewPool(Config{MaxConcurrent: 4})
	var cur, latePeak atomic.Int64
	release := make(chan struct{})
	task := func(ctx context.Context) claim.Result {
		cur.Add(1)
		<-release
		cur.Add(-1)
		return claim.Result{StatusCode: 201}
	}
	lateTask := func(ctx context.Context) claim.Result {
		n := cur.Add(1)
		for {
			old := latePeak.Load()
			if n <= old || latePeak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		cur.Add(-1)
		return claim.Result{StatusCode: 201}
	}

	var fs []*Future
	for i := 0; i < 4; i++ {
		fs = append(fs, p.Submit(context.Background(), task))
	}
	p.Apply(Config{MaxConcurrent: 2})

	late := make(chan *Future, 2)
	for i := 0; i < 2; i++ {
		go func() { late <- p.Submit(context.Background(), lateTask) }()
	}
	time.Sleep(30 * time.Millisecond)
	if st := p.Status(); st.InFlight != 4 || st.Waiting != 2 || st.Free != 0 {
		t.Fatalf("after shrink: %+v", st)
	}

	close(release)
	for _, f := range fs {
		<-f.Done()
	}
	for i := 0; i < 2; i++ {
		f := <-late
		if res, _ := f.Wait(context.Background()); res.StatusCode != 201 {
			t.Fatalf("late task %+v", res)
		}
	}
	if got := latePeak.Load(); got > 2 {
		t.Fatalf("late task saw %d running, new ceiling is 2", got)
	}
	if st := p.Status(); st.InFlight != 0 || st.MaxConcurrent != 2 || st.Completed != 6 {
		t.Fatalf("final status %+v", st)
	}
}

func TestPoolGrowWakesWaiters(t *testing.T) {
	t.Parallel()

	p := NewPool(Config{MaxConcurrent: 1})
	release := make(chan struct{})
	first := p.Submit(context.Background(), func(ctx context.Context) claim.Result {
		<-release
		return claim.Result{StatusCode: 201}
	})

	second := make(chan *Future, 1)
	go func() {
		second <- p.Submit(context.Background(), func(ctx context.Context) claim.Result {
			return claim.Result{StatusCode: 201}
		})
	}()
	time.Sleep(20 * time.Millisecond)
	p.Apply(Config{MaxConcurrent: 2})

	select {
	case f := <-second:
		if res, _ := f.Wait(context.Background()); res.StatusCode != 201 {
			t.Fatalf("second %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("growing the pool did not admit the waiting submission")
	}
	close(release)
	<-first.Done()
}

func TestPoolSubmitRacingCloseIsDrainedOrRejected(t *testing.T) {
	t.Parallel()

	for round := 0; round < 50; round++ {
		p := NewPool(Config{MaxConcurrent: 4})
		var ran atomic.Int64
		var wg sync.WaitGroup
		futures := make([]*Future, 8)
		for i := range futures {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				futures[i] = p.Submit(context.Background(), func(ctx context.Context) claim.Result {
					time.Sleep(time.Millisecond)
					ran.Add(1)
					return claim.Result{StatusCode: 201}
				})
			}(i)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := p.Close(ctx); err != nil {
			cancel()
			t.Fatalf("close: %v", err)
		}
		cancel()
		ranAtClose := ran.Load()
		wg.Wait()

		accepted := 0
		for _, f := range futures {
			<-f.Done()
			if f.Err() == nil {
				accepted++
			} else if !errors.Is(f.Err(), ErrClosed) {
				t.Fatalf("unexpected error %v", f.Err())
			}
		}
		// Every accepted task finished before Close returned.
		if int64(accepted) != ranAtClose {
			t.Fatalf("round %d: accepted=%d ran before close=%d", round, accepted, ranAtClose)
		}
	}
}
