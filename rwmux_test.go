package rwmux_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/neeraj-labs/rwmux"
)

type eventLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *eventLog) add(line string) {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func launchInArrivalOrder(fns ...func()) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		started := make(chan struct{})
		go func(fn func()) {
			defer wg.Done()
			close(started)
			fn()
		}(fn)
		<-started
		time.Sleep(5 * time.Millisecond)
	}
	return &wg
}

func TestEndToEndWriterFIFO(t *testing.T) {
	m := rwmux.NewMux("end-to-end")
	log := &eventLog{}
	ctx := context.Background()

	writer := func(delay time.Duration, name string) func() {
		return func() {
			_ = m.Exclusive(ctx, func(context.Context) error {
				time.Sleep(delay)
				log.add(name)
				return nil
			})
		}
	}

	wg := launchInArrivalOrder(
		writer(30*time.Millisecond, "A"),
		writer(10*time.Millisecond, "B"),
		writer(0, "C"),
	)
	wg.Wait()

	want := []string{"A", "B", "C"}
	if got := log.snapshot(); !equalStrings(got, want) {
		t.Errorf("log = %v, want %v", got, want)
	}
}

func TestEndToEndEscalationAcrossPublicAPI(t *testing.T) {
	m := rwmux.NewMux("escalation")
	ctx := context.Background()

	err := m.Shared(ctx, func(ctx context.Context) error {
		return m.Exclusive(ctx, func(context.Context) error { return nil })
	})
	if !errors.Is(err, rwmux.ErrEscalation) {
		t.Fatalf("expected rwmux.ErrEscalation, got %v", err)
	}
}

func TestEndToEndKeyedIsolationAndGlobalBarrier(t *testing.T) {
	km := rwmux.NewKeyedMux("keyed-end-to-end")
	ctx := context.Background()
	log := &eventLog{}

	k1Held := make(chan struct{})
	releaseK1 := make(chan struct{})
	go func() {
		_ = km.Exclusive(ctx, "k1", func(context.Context) error {
			log.add("K1")
			close(k1Held)
			<-releaseK1
			return nil
		})
	}()
	<-k1Held

	k2Done := make(chan struct{})
	go func() {
		_ = km.Exclusive(ctx, "k2", func(context.Context) error {
			log.add("K2")
			return nil
		})
		close(k2Done)
	}()
	select {
	case <-k2Done:
	case <-time.After(time.Second):
		t.Fatal("writer on independent key k2 blocked behind k1")
	}

	globalDone := make(chan struct{})
	go func() {
		_ = km.ExclusiveGlobal(ctx, func(context.Context) error {
			log.add("GLOBAL")
			return nil
		})
		close(globalDone)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-globalDone:
		t.Fatal("global writer ran before k1 released")
	default:
	}

	close(releaseK1)

	select {
	case <-globalDone:
	case <-time.After(time.Second):
		t.Fatal("global writer never completed after k1 released")
	}

	got := log.snapshot()
	if len(got) != 3 || got[0] != "K1" || got[1] != "K2" || got[2] != "GLOBAL" {
		t.Errorf("log = %v, want [K1 K2 GLOBAL]", got)
	}
}

func TestEndToEndCancellationDoesNotWedgeQueue(t *testing.T) {
	m := rwmux.NewMux("cancel-end-to-end")
	ctx := context.Background()

	h, err := m.AcquireExclusive(ctx)
	if err != nil {
		t.Fatalf("AcquireExclusive: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	waiterErr := make(chan error, 1)
	go func() {
		_, err := m.AcquireExclusive(cancelCtx)
		waiterErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-waiterErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected wrapped context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("canceled waiter never returned")
	}

	h.Release()

	done := make(chan error, 1)
	go func() {
		h2, err := m.AcquireExclusive(ctx)
		if err == nil {
			h2.Release()
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("acquire after cancellation failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queue is wedged after cancellation")
	}
}
