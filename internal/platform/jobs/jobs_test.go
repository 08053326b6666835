package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunner_AddRejectsBadSpec(t *testing.T) {
	r := NewRunner(time.UTC, zerolog.Nop())
	if err := r.Add("bad", "not a cron line", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if err := r.Add("good", "*/15 * * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunner_RunNow(t *testing.T) {
	r := NewRunner(time.UTC, zerolog.Nop())
	done := make(chan struct{})
	r.RunNow("once", func(context.Context) error {
		close(done)
		return errors.New("logged, not returned")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestRunner_StopCancelsRunningJob(t *testing.T) {
	r := NewRunner(time.UTC, zerolog.Nop())
	r.Start()

	started := make(chan struct{})
	var cancelled atomic.Bool
	r.RunNow("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if !cancelled.Load() {
		t.Error("expected running job to observe cancellation")
	}
}

func TestRunner_RecoversPanic(t *testing.T) {
	r := NewRunner(time.UTC, zerolog.Nop())
	done := make(chan struct{})
	r.RunNow("panics", func(context.Context) error {
		defer close(done)
		panic("boom")
	})
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}
