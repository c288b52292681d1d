package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLimiterNeverExceedsConcurrency(t *testing.T) {
	l := New(2)
	ctx := context.Background()

	var running, peak atomic.Int64
	var completed atomic.Int64

	// Five tasks that finish in reverse order of admission.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		delay := time.Duration(5-i) * 5 * time.Millisecond
		go func() {
			defer wg.Done()
			err := l.Run(ctx, func(ctx context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				if got := l.Active(); got > 2 {
					t.Errorf("Active() = %d while running", got)
				}
				time.Sleep(delay)
				running.Add(-1)
				completed.Add(1)
				return nil
			})
			if err != nil {
				t.Errorf("Run failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds 2", peak.Load())
	}
	if completed.Load() != 5 {
		t.Errorf("expected 5 completions, got %d", completed.Load())
	}
	if l.Active() != 0 || l.Pending() != 0 {
		t.Errorf("expected idle limiter, active=%d pending=%d", l.Active(), l.Pending())
	}
}

func TestLimiterAdmitsInFIFOOrder(t *testing.T) {
	l := New(1)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	blockerDone := make(chan struct{})
	go func() {
		defer close(blockerDone)
		_ = l.Run(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Run(ctx, func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// Let each goroutine join the queue before the next one.
		waitFor(t, func() bool { return l.Pending() == i+1 })
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	wg.Wait()
	<-blockerDone

	for i, v := range order {
		if v != i {
			t.Fatalf("admission order %v, want 0..3", order)
		}
	}
}

func TestLimiterReleasesSlotOnFailure(t *testing.T) {
	l := New(1)
	ctx := context.Background()
	boom := errors.New("boom")

	if err := l.Run(ctx, func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected task error, got %v", err)
	}

	ran := false
	if err := l.Run(ctx, func(ctx context.Context) error { ran = true; return nil }); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if !ran {
		t.Error("slot was not released after a failing task")
	}
}

func TestLimiterQueuedTaskHonoursContext(t *testing.T) {
	l := New(1)
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Run(ctx, func(ctx context.Context) error {
		t.Error("queued task should not run")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if l.Pending() != 0 {
		t.Errorf("expected no pending tasks, got %d", l.Pending())
	}

	close(release)
	<-done
}

func TestDo(t *testing.T) {
	l := New(3)
	v, err := Do(context.Background(), l, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Errorf("Do = %q, %v", v, err)
	}
}

func TestMapPreservesInputOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6}
	got, err := Map(context.Background(), items, 2, func(ctx context.Context, i int, item int) (int, error) {
		time.Sleep(time.Duration(len(items)-i) * time.Millisecond)
		return item * 10, nil
	})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	for i, v := range got {
		if v != items[i]*10 {
			t.Fatalf("results out of order: %v", got)
		}
	}
}

func TestMapReturnsErrorAfterAllTasks(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int64
	got, err := Map(context.Background(), []string{"a", "b", "c"}, 1, func(ctx context.Context, i int, item string) (string, error) {
		ran.Add(1)
		if item == "b" {
			return "", boom
		}
		return item + "!", nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if ran.Load() != 3 {
		t.Errorf("expected every task to run, ran %d", ran.Load())
	}
	if got[0] != "a!" || got[2] != "c!" {
		t.Errorf("unexpected partial results %v", got)
	}
}

func TestMapEmpty(t *testing.T) {
	got, err := Map(context.Background(), []int(nil), 4, func(ctx context.Context, i int, item int) (int, error) {
		return 0, nil
	})
	if err != nil || len(got) != 0 {
		t.Errorf("Map(nil) = %v, %v", got, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
