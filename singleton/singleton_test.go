package singleton

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrentCallersCoalesce(t *testing.T) {
	var c Cache[string, int]
	ctx := context.Background()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Do(ctx, "k", func() (int, error) {
				if atomic.AddInt32(&calls, 1) == 1 {
					close(started)
				}
				<-release
				return 42, nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
			results[i] = v
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected fn to run exactly once, ran %d times", calls)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("result[%d] = %d, want 42", i, v)
		}
	}
}

func TestSuccessfulResultIsCached(t *testing.T) {
	var c Cache[string, int]
	ctx := context.Background()

	var calls int32
	for i := 0; i < 3; i++ {
		v, err := c.Do(ctx, "k", func() (int, error) {
			atomic.AddInt32(&calls, 1)
			return 7, nil
		})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if v != 7 {
			t.Fatalf("Do returned %d, want 7", v)
		}
	}
	if calls != 1 {
		t.Fatalf("expected fn to run once across repeated Do calls, ran %d times", calls)
	}
}

func TestFailureEvictsForRetry(t *testing.T) {
	var c Cache[string, int]
	ctx := context.Background()
	boom := errors.New("boom")

	var calls int32
	fn := func() (int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return 0, boom
		}
		return 99, nil
	}

	_, err := c.Do(ctx, "k", fn)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	v, err := c.Do(ctx, "k", fn)
	if err != nil {
		t.Fatalf("second Do failed: %v", err)
	}
	if v != 99 {
		t.Fatalf("second Do = %d, want 99", v)
	}
	if calls != 2 {
		t.Fatalf("expected fn to run twice after the first failure, ran %d times", calls)
	}
}

func TestPanicEvictsAndRepropagates(t *testing.T) {
	var c Cache[string, int]
	ctx := context.Background()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Do to re-panic to the leader")
		}
	}()
	_, _ = c.Do(ctx, "k", func() (int, error) {
		panic("kaboom")
	})
}

func TestPanicIsReportedToWaitingFollowers(t *testing.T) {
	var c Cache[string, int]
	ctx := context.Background()

	entered := make(chan struct{})
	proceed := make(chan struct{})

	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		defer func() { recover() }()
		_, _ = c.Do(ctx, "k", func() (int, error) {
			close(entered)
			<-proceed
			panic("kaboom")
		})
	}()
	<-entered

	followerErr := make(chan error, 1)
	go func() {
		_, err := c.Do(ctx, "k", func() (int, error) {
			t.Error("follower must not run fn itself")
			return 0, nil
		})
		followerErr <- err
	}()

	// Give the follower time to reach Do and block on the leader's call.
	time.Sleep(20 * time.Millisecond)
	close(proceed)
	<-leaderDone

	select {
	case err := <-followerErr:
		if err == nil {
			t.Fatal("expected follower to observe the leader's panic as an error")
		}
	case <-time.After(time.Second):
		t.Fatal("follower never unblocked after leader panicked")
	}

	// The entry was evicted; a later call must recompute successfully.
	v, err := c.Do(ctx, "k", func() (int, error) { return 5, nil })
	if err != nil || v != 5 {
		t.Fatalf("Do after panic eviction = (%d, %v), want (5, nil)", v, err)
	}
}

func TestForgetEvictsWithoutWaiting(t *testing.T) {
	var c Cache[string, int]
	ctx := context.Background()

	var calls int32
	fn := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return int(calls), nil
	}

	v1, _ := c.Do(ctx, "k", fn)
	c.Forget("k")
	v2, _ := c.Do(ctx, "k", fn)

	if v1 == v2 {
		t.Fatalf("expected Forget to force recomputation, got %d twice", v1)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
