package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ticketd/internal/claim"
	"ticketd/internal/domain"
)

func TestSequentialRetryRecoversFromTransportFailures(t *testing.T) {
	t.Parallel()

	client := &scriptedAttempter{script: []int{500, 500, 201}}
	sleeper := &recordingSleeper{}
	s := newTestStrategies(client, Config{}, WithSleeper(sleeper))

	results, err := s.SequentialRetry(context.Background(), 1, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[2].Succeeded() {
		t.Fatalf("last result should be the success, got %+v", results)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	got := sleeper.Delays()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("backoff delays %v want %v", got, want)
	}
}

func TestSequentialRetryTerminalPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		policy    TerminalPolicy
		wantCalls int
		wantSleep []time.Duration
	}{
		{"next round keeps going", NextRound, 3, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}},
		{"abort stops at first rejection", Abort, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := &scriptedAttempter{fallback: 409}
			sleeper := &recordingSleeper{}
			s := newTestStrategies(client, Config{TerminalPolicy: tt.policy}, WithSleeper(sleeper))

			results, err := s.SequentialRetry(context.Background(), 1, 3, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != tt.wantCalls || client.Calls() != tt.wantCalls {
				t.Fatalf("results=%d calls=%d want %d", len(results), client.Calls(), tt.wantCalls)
			}
			for _, r := range results {
				if r.Category() != claim.TerminalRejection {
					t.Fatalf("unexpected %+v", r)
				}
			}
			if fmt.Sprint(sleeper.Delays()) != fmt.Sprint(tt.wantSleep) {
				t.Fatalf("sleeps %v want %v", sleeper.Delays(), tt.wantSleep)
			}
		})
	}
}

func TestSequentialRetryExhaustsRounds(t *testing.T) {
	t.Parallel()

	client := &scriptedAttempter{fallback: 500}
	sleeper := &recordingSleeper{}
	s := newTestStrategies(client, Config{MaxRetries: 3}, WithSleeper(sleeper))

	results, err := s.SequentialRetry(context.Background(), 1, 2, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 6 {
		t.Fatalf("got %d results, want 6 (2 rounds x 3 retries)", len(results))
	}
	want := []time.Duration{time.Second, 2 * time.Second, 100 * time.Millisecond, time.Second, 2 * time.Second}
	if fmt.Sprint(sleeper.Delays()) != fmt.Sprint(want) {
		t.Fatalf("sleeps %v want %v", sleeper.Delays(), want)
	}
}

func TestStrategiesUnknownIdentity(t *testing.T) {
	t.Parallel()

	client := &scriptedAttempter{fallback: 201}
	s := newTestStrategies(client, Config{}, WithSleeper(&recordingSleeper{}))

	if _, err := s.SequentialRetry(context.Background(), 42, 1, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("sequential err=%v", err)
	}
	if _, err := s.ParallelBurst(context.Background(), 42, 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("burst err=%v", err)
	}
	if _, err := s.FirstSuccessRace(context.Background(), 42, 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("race err=%v", err)
	}
	if client.Calls() != 0 {
		t.Fatalf("no attempt may be made for an unknown identity, got %d", client.Calls())
	}
}

func TestParallelBurstReturnsExactlyN(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 7, 15} {
		client := &scriptedAttempter{fallback: 409}
		s := newTestStrategies(client, Config{}, WithSleeper(&recordingSleeper{}))
		results, err := s.ParallelBurst(context.Background(), 1, n)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != n || client.Calls() != n {
			t.Fatalf("n=%d: results=%d calls=%d", n, len(results), client.Calls())
		}
	}
}

// labelAttempter tags each result with the order in which it was called.
type labelAttempter struct {
	mu sync.Mutex
	n  int
}

func (l *labelAttempter) Attempt(_ context.Context, _ domain.Identity) claim.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.n++
	return claim.Result{StatusCode: 201, ClaimCode: fmt.Sprintf("call-%d", l.n)}
}

func TestParallelBurstPreservesSubmissionOrder(t *testing.T) {
	t.Parallel()

	const n = 4
	// Later submissions get shorter staggers, so they reach the upstream first.
	var mu sync.Mutex
	next := 0
	jitter := func(time.Duration) time.Duration {
		mu.Lock()
		defer mu.Unlock()
		d := time.Duration(n-next) * 30 * time.Millisecond
		next++
		return d
	}
	s := newTestStrategies(&labelAttempter{}, Config{}, WithJitter(jitter))

	results, err := s.ParallelBurst(context.Background(), 1, n)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range results {
		want := fmt.Sprintf("call-%d", n-i)
		if r.ClaimCode != want {
			t.Fatalf("results[%d]=%q want %q (all: %+v)", i, r.ClaimCode, want, results)
		}
	}
}

// delayedAttempter rejects the first call immediately and succeeds slowly afterwards.
type delayedAttempter struct {
	mu    sync.Mutex
	calls int
	slow  time.Duration
}

func (d *delayedAttempter) Attempt(ctx context.Context, _ domain.Identity) claim.Result {
	d.mu.Lock()
	d.calls++
	first := d.calls == 1
	d.mu.Unlock()
	if first {
		return claim.Result{StatusCode: 409}
	}
	select {
	case <-time.After(d.slow):
	case <-ctx.Done():
	}
	return claim.Result{StatusCode: 201, ClaimCode: "late"}
}

func TestFirstSuccessRaceModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode RaceMode
		want int
	}{
		{FirstFinished, 409},
		{FirstSuccess, 201},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			t.Parallel()
			client := &delayedAttempter{slow: 80 * time.Millisecond}
			s := newTestStrategies(client, Config{RaceMode: tt.mode, RaceStagger: 20 * time.Millisecond})

			res, err := s.FirstSuccessRace(context.Background(), 1, 4)
			if err != nil {
				t.Fatal(err)
			}
			if res.StatusCode != tt.want {
				t.Fatalf("got %d want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestFirstSuccessRaceFallsBackToEarliest(t *testing.T) {
	t.Parallel()

	client := &scriptedAttempter{fallback: 429}
	s := newTestStrategies(client, Config{RaceMode: FirstSuccess}, WithSleeper(&recordingSleeper{}))
	res, err := s.FirstSuccessRace(context.Background(), 1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != 429 {
		t.Fatalf("got %+v", res)
	}
	if client.Calls() != 5 {
		t.Fatalf("calls=%d", client.Calls())
	}
}

func TestRaceStaggerIsIndexTimesStep(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	s := newTestStrategies(&scriptedAttempter{fallback: 409}, Config{RaceMode: FirstSuccess}, WithSleeper(sleeper))
	if _, err := s.FirstSuccessRace(context.Background(), 1, 3); err != nil {
		t.Fatal(err)
	}
	seen := map[time.Duration]bool{}
	for _, d := range sleeper.Delays() {
		seen[d] = true
	}
	for _, want := range []time.Duration{0, 10 * time.Millisecond, 20 * time.Millisecond} {
		if !seen[want] {
			t.Fatalf("missing stagger %v in %v", want, sleeper.Delays())
		}
	}
}

func TestBatchMapsUnknownIdentitiesTo404(t *testing.T) {
	t.Parallel()

	client := &scriptedAttempter{fallback: 201}
	s := newTestStrategies(client, Config{})
	items := s.Batch(context.Background(), []int64{1, 99, 2})
	if len(items) != 3 {
		t.Fatalf("items=%d", len(items))
	}
	if items[0].Result.StatusCode != 201 || items[0].Name != "Ana" {
		t.Fatalf("item0 %+v", items[0])
	}
	if items[1].IdentityID != 99 || items[1].Result.StatusCode != claim.CodeNotFound {
		t.Fatalf("item1 %+v", items[1])
	}
	if items[2].Result.StatusCode != 201 {
		t.Fatalf("item2 %+v", items[2])
	}
	if client.Calls() != 2 {
		t.Fatalf("calls=%d", client.Calls())
	}
}

func TestExecuteDispatch(t *testing.T) {
	t.Parallel()

	s := newTestStrategies(&scriptedAttempter{fallback: 201}, Config{}, WithSleeper(&recordingSleeper{}))
	for _, tt := range []struct {
		kind Kind
		n    int
		want int
	}{
		{Burst, 3, 3},
		{Race, 3, 1},
		{Sequential, 3, 1},
	} {
		res, err := s.Execute(context.Background(), tt.kind, 1, tt.n)
		if err != nil {
			t.Fatal(err)
		}
		if len(res) != tt.want {
			t.Fatalf("%v: got %d results want %d", tt.kind, len(res), tt.want)
		}
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second} {
		if got := backoff(time.Second, attempt); got != want {
			t.Fatalf("backoff(%d)=%v want %v", attempt, got, want)
		}
	}
}

func TestParseEnums(t *testing.T) {
	t.Parallel()

	if k, err := ParseKind("race"); err != nil || k != Race {
		t.Fatalf("ParseKind race: %v %v", k, err)
	}
	if k, err := ParseKind(""); err != nil || k != Burst {
		t.Fatalf("ParseKind empty: %v %v", k, err)
	}
	if _, err := ParseKind("lottery"); err == nil {
		t.Fatalf("expected error")
	}
	if p, err := ParseTerminalPolicy("abort"); err != nil || p != Abort {
		t.Fatalf("ParseTerminalPolicy: %v %v", p, err)
	}
	if m, err := ParseRaceMode("first_success"); err != nil || m != FirstSuccess {
		t.Fatalf("ParseRaceMode: %v %v", m, err)
	}
}
