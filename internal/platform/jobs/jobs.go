// Package jobs runs periodic background work on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Func is one unit of scheduled work. The context is cancelled when the
// runner stops.
type Func func(ctx context.Context) error

// Runner schedules jobs with standard five-field cron expressions. Runs of
// the same job never overlap: a tick that arrives while the previous run is
// still going is skipped.
type Runner struct {
	cron   *cron.Cron
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(loc *time.Location, logger zerolog.Logger) *Runner {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron:   cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under name on spec.
func (r *Runner) Add(name, spec string, fn Func) error {
	_, err := r.cron.AddFunc(spec, func() { r.run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule job %s (%q): %w", name, spec, err)
	}
	r.logger.Info().Str("job", name).Str("schedule", spec).Msg("job scheduled")
	return nil
}

// RunNow executes fn once in the background outside the schedule.
func (r *Runner) RunNow(name string, fn Func) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(name, fn)
	}()
}

func (r *Runner) run(name string, fn Func) {
	if r.ctx.Err() != nil {
		return
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str("job", name).Interface("panic", p).Msg("job panicked")
			report(name, fmt.Errorf("job %s panicked: %v", name, p))
		}
	}()

	if err := fn(r.ctx); err != nil {
		r.logger.Error().Err(err).Str("job", name).Dur("duration", time.Since(start)).Msg("job failed")
		report(name, err)
		return
	}
	r.logger.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("job finished")
}

// report sends a job failure to sentry when a client is configured.
func report(name string, err error) {
	hub := sentry.CurrentHub()
	if hub.Client() == nil {
		return
	}
	hub = hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("job", name)
	})
	hub.CaptureException(err)
}

func (r *Runner) Start() { r.cron.Start() }

// Stop halts the schedule, cancels running jobs, and waits for them to
// return or for ctx to end.
func (r *Runner) Stop(ctx context.Context) error {
	stopped := r.cron.Stop()
	r.cancel()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
