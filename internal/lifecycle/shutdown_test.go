package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newManager(drain time.Duration) *ShutdownManager {
	return NewShutdownManager(ShutdownConfig{
		DrainTimeout: drain,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestShutdown_ClosersRunLIFO(t *testing.T) {
	sm := newManager(time.Second)
	var order []string
	for _, name := range []string{"telemetry", "ledger", "redis"} {
		name := name
		sm.RegisterCloser(name, CloserFunc(func() error {
			order = append(order, name)
			return nil
		}))
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	want := []string{"redis", "ledger", "telemetry"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("close order = %v, want %v", order, want)
		}
	}
}

func TestShutdown_CollectsCloseErrors(t *testing.T) {
	sm := newManager(time.Second)
	boom := errors.New("boom")
	closed := false
	sm.RegisterCloser("ok", CloserFunc(func() error { closed = true; return nil }))
	sm.RegisterCloser("broken", CloserFunc(func() error { return boom }))

	err := sm.Shutdown(context.Background(), "test")
	if !errors.Is(err, boom) {
		t.Errorf("expected close error, got %v", err)
	}
	if !closed {
		t.Error("remaining closers must still run after a failure")
	}
	if again := sm.Shutdown(context.Background(), "again"); !errors.Is(again, boom) {
		t.Errorf("second Shutdown should return the first result, got %v", again)
	}
}

func TestShutdown_TrackAndDrain(t *testing.T) {
	sm := newManager(time.Second)
	if !sm.Track() {
		t.Fatal("Track should succeed before shutdown")
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		sm.Untrack()
	}()

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("drain should succeed: %v", err)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("in flight = %d", sm.InFlightCount())
	}
	if sm.Track() {
		t.Error("Track should fail after shutdown")
	}
	if !sm.IsShuttingDown() {
		t.Error("IsShuttingDown should be true")
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := newManager(30 * time.Millisecond)
	sm.Track()

	err := sm.Shutdown(context.Background(), "test")
	if err == nil {
		t.Error("expected drain timeout error")
	}
}

func TestNotifyContext_CancelledOnShutdown(t *testing.T) {
	sm := newManager(time.Second)
	started := make(chan struct{})
	sm.OnShutdownStart(func() { close(started) })

	ctx, cancel := sm.NotifyContext(context.Background())
	defer cancel()

	go sm.Shutdown(context.Background(), "test")

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled on shutdown")
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Error("shutdown start callback not called")
	}
}
