package sweeper_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"devmatch/internal/sweeper"
)

type fakeExpirer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeExpirer) ExpirePendingCandidates(ctx context.Context) (int, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return 2, nil
}

func TestRunOnce(t *testing.T) {
	f := &fakeExpirer{}
	s, err := sweeper.New(f, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	n, err := s.RunOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("run once: %d, %v", n, err)
	}
	f.err = errors.New("disk full")
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestStartRunsPeriodically(t *testing.T) {
	f := &fakeExpirer{}
	s, err := sweeper.New(f, 20*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if f.calls.Load() < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", f.calls.Load())
	}
}

func TestNewRejectsZeroInterval(t *testing.T) {
	if _, err := sweeper.New(&fakeExpirer{}, 0, nil); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}
