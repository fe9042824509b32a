package sweeper

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"meshforge/internal/pkg/metrics"
)

type mockResetStore struct {
	deleteFunc func(ctx context.Context, before time.Time) (int64, error)
	calls      atomic.Int64
}

func (m *mockResetStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.calls.Add(1)
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, before)
	}
	return 0, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_SweepsOnStartAndOnTick(t *testing.T) {
	metrics.InitMetrics()
	store := &mockResetStore{
		deleteFunc: func(ctx context.Context, before time.Time) (int64, error) {
			if time.Until(before) > time.Second {
				t.Errorf("cutoff must not be in the future: %v", before)
			}
			return 3, nil
		},
	}
	s := New(store, 20*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 sweeps, got %d", store.calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestRun_KeepsGoingAfterStoreError(t *testing.T) {
	metrics.InitMetrics()
	var failed atomic.Bool
	store := &mockResetStore{
		deleteFunc: func(ctx context.Context, before time.Time) (int64, error) {
			if failed.CompareAndSwap(false, true) {
				return 0, context.DeadlineExceeded
			}
			return 0, nil
		},
	}
	s := New(store, 10*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for store.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sweeper must survive a store error, got %d calls", store.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNew_DefaultsInterval(t *testing.T) {
	s := New(&mockResetStore{}, 0, discardLogger())
	if s.interval != 30*time.Minute {
		t.Fatalf("expected default interval, got %v", s.interval)
	}
}
