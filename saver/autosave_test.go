package saver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/richinex/canvasync/model"
)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAutosaverSavesDirtyProject(t *testing.T) {
	s := openStore(t, 1, 1)
	r := &fakeRemote{}
	c := NewCoordinator(s, r, passSanitizer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewAutosaver(s, c, 2*time.Millisecond, SaveOptions{}).Run(ctx) }()

	waitUntil(t, func() bool { return !s.Snapshot().Dirty })
	if s.Snapshot().Version != 2 {
		t.Errorf("version = %d", s.Snapshot().Version)
	}

	// Idle ticks do not save a clean project.
	calls := r.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if r.calls.Load() != calls {
		t.Error("autosaver saved a clean project")
	}

	s.UpdatePartial(model.Content{"title": "again"})
	waitUntil(t, func() bool { return r.calls.Load() == calls+1 && !s.Snapshot().Dirty })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
}

func TestAutosaverDoesNotResubmitFailedEdits(t *testing.T) {
	s := openStore(t, 1, 1)
	r := &fakeRemote{err: errors.New("offline")}
	c := NewCoordinator(s, r, passSanitizer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- NewAutosaver(s, c, 2*time.Millisecond, SaveOptions{}).Run(ctx) }()

	waitUntil(t, func() bool { return r.calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := r.calls.Load(); n != 1 {
		t.Fatalf("remote called %d times without new edits", n)
	}

	r.mu.Lock()
	r.err = nil
	r.mu.Unlock()
	s.UpdatePartial(model.Content{"title": "retry"})
	waitUntil(t, func() bool { return !s.Snapshot().Dirty })

	cancel()
	<-done
}
