package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestSweeper_Run(t *testing.T) {
	svc, _, doses := newTestService()
	res := createTwiceDaily(t, svc)

	svc.setNow(testNow.Add(30 * time.Minute))
	sweeper := NewSweeper(svc, 2*time.Hour, zerolog.Nop())

	got, err := sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := SweepResult{Reminders: 1, DosesCreated: 2, DosesMissed: 1}
	if got != want {
		t.Errorf("first run = %+v, want %+v", got, want)
	}

	list, _ := doses.ListByReminder(context.Background(), res.Reminder.ID)
	if len(list) != 4 {
		t.Fatalf("expected 4 doses after sweep, got %d", len(list))
	}
	if list[0].Status != StatusMissed || list[1].Status != StatusPending {
		t.Errorf("expected 08:00 missed and 20:00 pending, got %s and %s", list[0].Status, list[1].Status)
	}

	got, err = sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DosesCreated != 0 || got.DosesMissed != 0 {
		t.Errorf("expected second run to change nothing, got %+v", got)
	}
}

func TestSweeper_SkipsPausedAndEnded(t *testing.T) {
	svc, reminders, doses := newTestService()
	paused := createTwiceDaily(t, svc)
	if _, err := svc.ToggleReminder(context.Background(), paused.Reminder.ID, testUser, "isPaused"); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	ended := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	old := &Reminder{
		UserID:       testUser,
		MedicineName: "Old course",
		Frequency:    FrequencyOnceDaily,
		Times:        []string{"09:00"},
		StartDate:    ended.AddDate(0, 0, -7),
		EndDate:      &ended,
		IsActive:     true,
	}
	if err := reminders.Create(context.Background(), old); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := len(doses.doses)

	got, err := NewSweeper(svc, 2*time.Hour, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Reminders != 0 || got.DosesCreated != 0 {
		t.Errorf("expected nothing swept, got %+v", got)
	}
	if len(doses.doses) != before {
		t.Errorf("expected %d doses, got %d", before, len(doses.doses))
	}
}

func TestSweeper_SnoozedDoseIsNotMissed(t *testing.T) {
	svc, _, doses := newTestService()
	res := createTwiceDaily(t, svc)
	morning := res.Doses[0]

	if _, err := svc.LogDose(context.Background(), res.Reminder.ID, testUser, LogDoseRequest{
		DoseID: &morning.ID, Status: StatusSnoozed, SnoozeMinutes: 120,
	}); err != nil {
		t.Fatalf("snooze: %v", err)
	}

	svc.setNow(testNow.Add(30 * time.Minute))
	got, err := NewSweeper(svc, 2*time.Hour, zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DosesMissed != 0 {
		t.Errorf("expected snoozed dose to survive, got %+v", got)
	}
	if d := doses.doses[morning.ID]; d.Status != StatusPending {
		t.Errorf("expected pending, got %s", d.Status)
	}
}

func TestSweeper_ContinuesPastFailures(t *testing.T) {
	svc, reminders, _ := newTestService()
	createTwiceDaily(t, svc)

	// Stored directly so validation is bypassed.
	broken := &Reminder{
		ID:           uuid.New(),
		UserID:       testUser,
		MedicineName: "Broken",
		Frequency:    FrequencyOnceDaily,
		Times:        []string{"not-a-time"},
		StartDate:    *startOfTestDay(),
		IsActive:     true,
	}
	if err := reminders.Create(context.Background(), broken); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := NewSweeper(svc, 2*time.Hour, zerolog.Nop()).Run(context.Background())
	if err == nil {
		t.Fatal("expected joined error for the broken reminder")
	}
	if got.Failures != 1 {
		t.Errorf("expected 1 failure, got %d", got.Failures)
	}
	if got.Reminders != 2 || got.DosesCreated != 2 {
		t.Errorf("expected the healthy reminder to be swept, got %+v", got)
	}
}
