package reminder

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Vikaumar/Prescripto/internal/platform/recurrence"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		valid bool
	}{
		{"08:00", "08:00", true},
		{"8:05", "08:05", true},
		{" 23:59 ", "23:59", true},
		{"24:00", "", false},
		{"12:60", "", false},
		{"1200", "", false},
		{"12:5", "", false},
		{"ab:cd", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := parseClock(tt.in)
			if tt.valid != (err == nil) {
				t.Fatalf("parseClock(%q) error = %v, want valid=%v", tt.in, err, tt.valid)
			}
			if tt.valid && c.String() != tt.want {
				t.Errorf("parseClock(%q) = %s, want %s", tt.in, c, tt.want)
			}
		})
	}
}

func TestNormalizeTimes(t *testing.T) {
	got, err := normalizeTimes([]string{"20:00", "8:00", "08:00", "14:30"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"08:00", "14:30", "20:00"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if _, err := normalizeTimes([]string{"08:00", "nope"}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDefaultTimes(t *testing.T) {
	if got := DefaultTimes(FrequencyThreeTimesDaily); len(got) != 3 {
		t.Errorf("expected 3 times, got %v", got)
	}
	if got := DefaultTimes(FrequencyFourTimesDaily); len(got) != 4 {
		t.Errorf("expected 4 times, got %v", got)
	}
	if got := DefaultTimes(FrequencyOnceDaily); len(got) != 1 || got[0] != "08:00" {
		t.Errorf("expected [08:00], got %v", got)
	}
}

func TestIsCurrentlyActive(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -1)
	future := now.AddDate(0, 0, 1)

	tests := []struct {
		name string
		r    Reminder
		want bool
	}{
		{"open ended", Reminder{IsActive: true, StartDate: past}, true},
		{"within window", Reminder{IsActive: true, StartDate: past, EndDate: &future}, true},
		{"inactive", Reminder{IsActive: false, StartDate: past}, false},
		{"paused", Reminder{IsActive: true, IsPaused: true, StartDate: past}, false},
		{"not started", Reminder{IsActive: true, StartDate: future}, false},
		{"ended", Reminder{IsActive: true, StartDate: past.AddDate(0, 0, -5), EndDate: &past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.IsCurrentlyActive(now); got != tt.want {
				t.Errorf("IsCurrentlyActive = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextOccurrence(t *testing.T) {
	r := &Reminder{Times: []string{"20:00", "08:00"}}

	next := r.NextOccurrence(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	if next == nil || !next.Equal(time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)) {
		t.Errorf("expected 20:00 today, got %v", next)
	}

	// A time equal to the current minute is not upcoming.
	next = r.NextOccurrence(time.Date(2026, 3, 10, 20, 0, 30, 0, time.UTC))
	if next == nil || !next.Equal(time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("expected 08:00 tomorrow, got %v", next)
	}

	if (&Reminder{}).NextOccurrence(time.Now()) != nil {
		t.Error("expected nil without times")
	}
}

func TestRunsOn(t *testing.T) {
	tuesday := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	weekly := &Reminder{Frequency: FrequencyWeekly, DaysOfWeek: []int{1, 3}}
	if weekly.RunsOn(tuesday) {
		t.Error("weekly Mon/Wed reminder should not run on Tuesday")
	}
	if !weekly.RunsOn(tuesday.AddDate(0, 0, 1)) {
		t.Error("weekly Mon/Wed reminder should run on Wednesday")
	}
	daily := &Reminder{Frequency: FrequencyOnceDaily, DaysOfWeek: []int{1}}
	if !daily.RunsOn(tuesday) {
		t.Error("days of week only restrict weekly reminders")
	}
}

func TestDoseApply(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 5, 0, 0, time.UTC)
	pending := DoseInstance{Status: StatusPending, ScheduledTime: now.Add(-5 * time.Minute), NotificationSent: true}

	t.Run("taken", func(t *testing.T) {
		got, err := pending.Apply(Transition{Status: StatusTaken}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != StatusTaken || got.TakenAt == nil || !got.TakenAt.Equal(now) {
			t.Errorf("unexpected dose %+v", got)
		}
		if pending.Status != StatusPending {
			t.Error("Apply must not modify the receiver")
		}
	})

	t.Run("skipped", func(t *testing.T) {
		got, err := pending.Apply(Transition{Status: StatusSkipped}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != StatusSkipped || got.TakenAt != nil {
			t.Errorf("unexpected dose %+v", got)
		}
	})

	t.Run("snoozed", func(t *testing.T) {
		got, err := pending.Apply(Transition{Status: StatusSnoozed, SnoozeMinutes: 30}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != StatusPending || got.SnoozeCount != 1 || got.NotificationSent {
			t.Errorf("unexpected dose %+v", got)
		}
		if !got.SnoozedUntil.Equal(now.Add(30 * time.Minute)) {
			t.Errorf("expected snoozed until %s, got %s", now.Add(30*time.Minute), got.SnoozedUntil)
		}
	})

	t.Run("not pending", func(t *testing.T) {
		taken := pending
		taken.Status = StatusTaken
		if _, err := taken.Apply(Transition{Status: StatusSkipped}, now); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("notes too long", func(t *testing.T) {
		long := make([]byte, MaxDoseNotes+1)
		for i := range long {
			long[i] = 'x'
		}
		notes := string(long)
		if _, err := pending.Apply(Transition{Status: StatusTaken, Notes: &notes}, now); !errors.Is(err, ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestIsLate(t *testing.T) {
	scheduled := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	d := &DoseInstance{Status: StatusPending, ScheduledTime: scheduled}
	if d.IsLate(scheduled.Add(30 * time.Minute)) {
		t.Error("exactly thirty minutes is not late")
	}
	if !d.IsLate(scheduled.Add(31 * time.Minute)) {
		t.Error("expected late after thirty minutes")
	}
	d.Status = StatusTaken
	if d.IsLate(scheduled.Add(time.Hour)) {
		t.Error("taken doses are never late")
	}
}

func TestTimesAcceptedByValidationAlsoBuildRules(t *testing.T) {
	for _, in := range []string{"08:00", "8:05", " 23:59 ", "+1:00", "1:5", "24:00", "0:00"} {
		_, clockErr := parseClock(in)
		_, ruleErr := recurrence.Rules(recurrence.Schedule{Times: []string{in}})
		if (clockErr == nil) != (ruleErr == nil) {
			t.Errorf("%q: validation error %v, rule error %v", in, clockErr, ruleErr)
		}
	}
}

func TestReminderView_RecurrenceRule(t *testing.T) {
	svc, _, _ := newTestService()
	res := createTwiceDaily(t, svc)

	lines := strings.Split(res.Reminder.RecurrenceRule, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one rule per time, got %q", res.Reminder.RecurrenceRule)
	}
	if !strings.HasPrefix(lines[0], "RRULE:FREQ=DAILY") || !strings.Contains(lines[0], "BYHOUR=8;BYMINUTE=0") {
		t.Errorf("unexpected first rule %q", lines[0])
	}
}
