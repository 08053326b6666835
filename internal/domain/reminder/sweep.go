package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Reminders    int `json:"reminders"`
	DosesCreated int `json:"doses_created"`
	DosesMissed  int `json:"doses_missed"`
	Failures     int `json:"failures"`
}

// Sweeper is the periodic job that keeps dose instances ahead of the clock
// and closes out doses nobody acted on.
type Sweeper struct {
	svc         *Service
	missedAfter time.Duration
	logger      zerolog.Logger
}

func NewSweeper(svc *Service, missedAfter time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{svc: svc, missedAfter: missedAfter, logger: logger}
}

// Run materializes today's and tomorrow's doses for every enabled reminder
// whose window has not closed, then marks pending doses older than the missed
// threshold as missed. Today is included so a reminder whose start date
// arrived between runs still gets its first-day doses.
//
// Every step is idempotent. A failing reminder is logged and skipped; the
// joined error of all failures is returned after the run completes.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.svc.clock()
	today := startOfDay(now)
	tomorrow := today.AddDate(0, 0, 1)

	reminders, err := s.svc.reminders.ListEnabled(ctx)
	if err != nil {
		return res, fmt.Errorf("list enabled reminders: %w", err)
	}

	var errs []error
	for _, r := range reminders {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if r.EndDate != nil && r.EndDate.Before(today) {
			continue
		}
		res.Reminders++
		for _, day := range []time.Time{today, tomorrow} {
			created, err := s.svc.GenerateDosesForDate(ctx, r, day)
			res.DosesCreated += len(created)
			if err != nil {
				res.Failures++
				errs = append(errs, fmt.Errorf("reminder %s: %w", r.ID, err))
				s.logger.Warn().Err(err).
					Str("reminder_id", r.ID.String()).
					Str("day", day.Format("2006-01-02")).
					Msg("sweep: generate doses failed")
				break
			}
		}
	}

	missed, err := s.svc.doses.MarkMissed(ctx, now.Add(-s.missedAfter))
	if err != nil {
		res.Failures++
		errs = append(errs, fmt.Errorf("mark missed doses: %w", err))
	}
	res.DosesMissed = missed

	evt := s.logger.Info()
	if len(errs) > 0 {
		evt = s.logger.Error().Err(errors.Join(errs...))
	}
	evt.
		Int("reminders", res.Reminders).
		Int("doses_created", res.DosesCreated).
		Int("doses_missed", res.DosesMissed).
		Int("failures", res.Failures).
		Msg("sweep completed")

	return res, errors.Join(errs...)
}
