package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoRunsSynchronouslyWhenIdle(t *testing.T) {
	l := New[string, int]()
	got := -1

	outcome, err := l.Do(context.Background(), "k", 7, func(_ context.Context, v int) error {
		got = v
		return nil
	})
	if err != nil || outcome != OutcomeRan {
		t.Fatalf("Do = (%v, %v), want (OutcomeRan, nil)", outcome, err)
	}
	if got != 7 {
		t.Errorf("work saw value %d, want 7", got)
	}
	if l.Active("k") {
		t.Error("ticket not released after run")
	}
}

func TestDoReturnsWorkError(t *testing.T) {
	l := New[string, int]()
	boom := errors.New("boom")

	_, err := l.Do(context.Background(), "k", 0, func(context.Context, int) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Do = %v, want boom", err)
	}
	if l.Active("k") {
		t.Error("ticket leaked after error")
	}
}

func TestPanicReleasesTicket(t *testing.T) {
	l := New[string, int]()

	_, err := l.Do(context.Background(), "k", 0, func(context.Context, int) error {
		panic("collaborator exploded")
	})
	if err == nil {
		t.Fatal("panic swallowed, want error")
	}
	if l.Active("k") {
		t.Error("ticket leaked after panic")
	}

	// Key must be usable again.
	if _, err := l.Do(context.Background(), "k", 0, func(context.Context, int) error { return nil }); err != nil {
		t.Fatalf("Do after panic = %v", err)
	}
}

// TestMailboxCarriesLatestValue pins the coalescing policy: while a run is
// active, extra triggers park their value in a one-slot mailbox, the newest
// displacing older parked values, and the re-run processes the parked value
// rather than replaying the active run's.
func TestMailboxCarriesLatestValue(t *testing.T) {
	l := New[string, int]()

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var processed []int

	done := make(chan error, 1)
	go func() {
		_, err := l.Do(context.Background(), "k", 1, func(_ context.Context, v int) error {
			mu.Lock()
			processed = append(processed, v)
			first := len(processed) == 1
			mu.Unlock()
			if first {
				close(started)
				<-release
			}
			return nil
		})
		done <- err
	}()

	<-started

	// Coalesced callers' own work functions must never run.
	trap := func(context.Context, int) error {
		t.Error("coalesced caller's work function ran")
		return nil
	}

	out1, err := l.Do(context.Background(), "k", 2, trap)
	if err != nil || out1 != OutcomeCoalesced {
		t.Fatalf("second trigger = (%v, %v), want (OutcomeCoalesced, nil)", out1, err)
	}

	out2, err := l.Do(context.Background(), "k", 3, trap)
	if err != nil || out2 != OutcomeReplaced {
		t.Fatalf("third trigger = (%v, %v), want (OutcomeReplaced, nil)", out2, err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("runner = %v", err)
	}

	// One original run plus exactly one re-run carrying the newest parked
	// value; the displaced value 2 is gone.
	mu.Lock()
	defer mu.Unlock()
	if len(processed) != 2 || processed[0] != 1 || processed[1] != 3 {
		t.Errorf("processed = %v, want [1 3]", processed)
	}
}

func TestDistinctKeysRunInParallel(t *testing.T) {
	l := New[string, int]()

	const n = 8
	gate := make(chan struct{})
	var inFlight atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		key := string(rune('a' + i))
		go func() {
			defer wg.Done()
			_, _ = l.Do(context.Background(), key, 0, func(context.Context, int) error {
				cur := inFlight.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				<-gate
				inFlight.Add(-1)
				return nil
			})
		}()
	}

	// Give all goroutines time to enter their work functions; they can
	// only all be in flight simultaneously if keys do not block each other.
	deadline := time.After(2 * time.Second)
	for inFlight.Load() < n {
		select {
		case <-deadline:
			t.Fatalf("only %d/%d keys in flight; cross-key blocking", inFlight.Load(), n)
		case <-time.After(time.Millisecond):
		}
	}
	close(gate)
	wg.Wait()

	if peak.Load() != n {
		t.Errorf("peak concurrency = %d, want %d", peak.Load(), n)
	}
}

func TestStressSameKeyNeverOverlaps(t *testing.T) {
	l := New[string, int]()

	var inside atomic.Int32
	var overlaps atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Do(context.Background(), "hot", 0, func(context.Context, int) error {
				if inside.Add(1) > 1 {
					overlaps.Add(1)
				}
				time.Sleep(100 * time.Microsecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if overlaps.Load() != 0 {
		t.Errorf("%d overlapping runs observed for one key", overlaps.Load())
	}
}
