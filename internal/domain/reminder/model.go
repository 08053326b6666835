package reminder

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Vikaumar/Prescripto/internal/platform/recurrence"
)

// Frequency classifies how often a reminder fires.
type Frequency string

const (
	FrequencyOnceDaily       Frequency = "once_daily"
	FrequencyTwiceDaily      Frequency = "twice_daily"
	FrequencyThreeTimesDaily Frequency = "three_times_daily"
	FrequencyFourTimesDaily  Frequency = "four_times_daily"
	FrequencyWeekly          Frequency = "weekly"
	FrequencyCustom          Frequency = "custom"
)

var validFrequencies = map[Frequency]bool{
	FrequencyOnceDaily:       true,
	FrequencyTwiceDaily:      true,
	FrequencyThreeTimesDaily: true,
	FrequencyFourTimesDaily:  true,
	FrequencyWeekly:          true,
	FrequencyCustom:          true,
}

// Valid reports whether f is one of the known frequency classes.
func (f Frequency) Valid() bool { return validFrequencies[f] }

// DefaultTimes returns the times of day used when a schedule is drafted
// without explicit times.
func DefaultTimes(f Frequency) []string {
	switch f {
	case FrequencyTwiceDaily:
		return []string{"08:00", "20:00"}
	case FrequencyThreeTimesDaily:
		return []string{"08:00", "14:00", "20:00"}
	case FrequencyFourTimesDaily:
		return []string{"08:00", "12:00", "16:00", "20:00"}
	case FrequencyWeekly, FrequencyCustom:
		return []string{"09:00"}
	default:
		return []string{"08:00"}
	}
}

const (
	DefaultColor         = "#6366f1"
	MaxReminderNotes     = 500
	MaxDoseNotes         = 200
	DefaultSnoozeMinutes = 15
	LateAfter            = 30 * time.Minute
)

type NotificationSettings struct {
	PushEnabled    bool `json:"push_enabled"`
	EmailEnabled   bool `json:"email_enabled"`
	SoundEnabled   bool `json:"sound_enabled"`
	ReminderOffset int  `json:"reminder_offset"`
}

func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{PushEnabled: true, SoundEnabled: true}
}

// Reminder is a recurring medication schedule owned by one user.
type Reminder struct {
	ID                   uuid.UUID            `db:"id" json:"id"`
	UserID               string               `db:"user_id" json:"user_id"`
	PrescriptionID       *string              `db:"prescription_id" json:"prescription_id,omitempty"`
	FamilyMemberID       *string              `db:"family_member_id" json:"family_member_id,omitempty"`
	MedicineName         string               `db:"medicine_name" json:"medicine_name"`
	Dosage               string               `db:"dosage" json:"dosage,omitempty"`
	Instructions         string               `db:"instructions" json:"instructions,omitempty"`
	Frequency            Frequency            `db:"frequency" json:"frequency"`
	Times                []string             `db:"times" json:"times"`
	DaysOfWeek           []int                `db:"days_of_week" json:"days_of_week,omitempty"`
	StartDate            time.Time            `db:"start_date" json:"start_date"`
	EndDate              *time.Time           `db:"end_date" json:"end_date,omitempty"`
	IsActive             bool                 `db:"is_active" json:"is_active"`
	IsPaused             bool                 `db:"is_paused" json:"is_paused"`
	NotificationSettings NotificationSettings `db:"notification_settings" json:"notification_settings"`
	PushSubscription     json.RawMessage      `db:"push_subscription" json:"push_subscription,omitempty"`
	LastNotificationSent *time.Time           `db:"last_notification_sent" json:"last_notification_sent,omitempty"`
	Color                string               `db:"color" json:"color"`
	Notes                string               `db:"notes" json:"notes,omitempty"`
	CreatedAt            time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time            `db:"updated_at" json:"updated_at"`
}

// IsCurrentlyActive reports whether the reminder is enabled, not paused, and
// now lies within [StartDate, EndDate]. A nil EndDate is open-ended.
func (r *Reminder) IsCurrentlyActive(now time.Time) bool {
	if !r.IsActive || r.IsPaused {
		return false
	}
	if !r.StartDate.IsZero() && now.Before(r.StartDate) {
		return false
	}
	if r.EndDate != nil && now.After(*r.EndDate) {
		return false
	}
	return true
}

// NextOccurrence returns the earliest configured time today strictly after
// the current minute, else the first time tomorrow. Wall-clock times are
// interpreted in now's location. Returns nil when Times is empty.
func (r *Reminder) NextOccurrence(now time.Time) *time.Time {
	clocks := make([]clock, 0, len(r.Times))
	for _, s := range r.Times {
		c, err := parseClock(s)
		if err != nil {
			continue
		}
		clocks = append(clocks, c)
	}
	if len(clocks) == 0 {
		return nil
	}
	sort.Slice(clocks, func(i, j int) bool { return clocks[i].minutes() < clocks[j].minutes() })

	current := now.Hour()*60 + now.Minute()
	for _, c := range clocks {
		if c.minutes() > current {
			next := c.on(now)
			return &next
		}
	}
	next := clocks[0].on(now.AddDate(0, 0, 1))
	return &next
}

// RunsOn reports whether the schedule materializes doses on the weekday of
// day. Only weekly reminders with a non-empty DaysOfWeek are restricted.
func (r *Reminder) RunsOn(day time.Time) bool {
	if r.Frequency != FrequencyWeekly || len(r.DaysOfWeek) == 0 {
		return true
	}
	wd := int(day.Weekday())
	for _, d := range r.DaysOfWeek {
		if d == wd {
			return true
		}
	}
	return false
}

type ReminderView struct {
	*Reminder
	CurrentlyActive bool       `json:"is_currently_active"`
	NextOccurrence  *time.Time `json:"next_occurrence,omitempty"`
	RecurrenceRule  string     `json:"recurrence_rule,omitempty"`
}

// DoseStatus is the lifecycle state of a dose instance.
type DoseStatus string

const (
	StatusPending DoseStatus = "pending"
	StatusTaken   DoseStatus = "taken"
	StatusSkipped DoseStatus = "skipped"
	StatusSnoozed DoseStatus = "snoozed"
	StatusMissed  DoseStatus = "missed"
)

var validDoseStatuses = map[DoseStatus]bool{
	StatusPending: true,
	StatusTaken:   true,
	StatusSkipped: true,
	StatusSnoozed: true,
	StatusMissed:  true,
}

func (s DoseStatus) Valid() bool { return validDoseStatuses[s] }

// Loggable reports whether a user may request s when logging a dose.
func (s DoseStatus) Loggable() bool {
	return s == StatusTaken || s == StatusSkipped || s == StatusSnoozed
}

// Terminal reports whether s counts toward completed doses.
func (s DoseStatus) Terminal() bool {
	return s == StatusTaken || s == StatusSkipped || s == StatusMissed
}

// DoseInstance is one dated occurrence of a reminder's schedule.
type DoseInstance struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	ReminderID         uuid.UUID  `db:"reminder_id" json:"reminder_id"`
	UserID             string     `db:"user_id" json:"user_id"`
	FamilyMemberID     *string    `db:"family_member_id" json:"family_member_id,omitempty"`
	MedicineName       string     `db:"medicine_name" json:"medicine_name"`
	Dosage             string     `db:"dosage" json:"dosage,omitempty"`
	ScheduledTime      time.Time  `db:"scheduled_time" json:"scheduled_time"`
	Status             DoseStatus `db:"status" json:"status"`
	TakenAt            *time.Time `db:"taken_at" json:"taken_at,omitempty"`
	SnoozedUntil       *time.Time `db:"snoozed_until" json:"snoozed_until,omitempty"`
	SnoozeCount        int        `db:"snooze_count" json:"snooze_count"`
	Notes              string     `db:"notes" json:"notes,omitempty"`
	NotificationSent   bool       `db:"notification_sent" json:"notification_sent"`
	NotificationSentAt *time.Time `db:"notification_sent_at" json:"notification_sent_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// IsLate reports whether the dose is still pending more than thirty minutes
// after its scheduled time. It never changes the status.
func (d *DoseInstance) IsLate(now time.Time) bool {
	return d.Status == StatusPending && now.After(d.ScheduledTime.Add(LateAfter))
}

// Transition is a requested change to a dose instance's status.
type Transition struct {
	Status        DoseStatus
	Notes         *string
	SnoozeMinutes int
}

// Apply returns the dose as it looks after t at time now. Only pending doses
// may transition. A snooze defers the dose: the stored status goes back to
// pending with SnoozedUntil moved forward and SnoozeCount incremented.
func (d DoseInstance) Apply(t Transition, now time.Time) (DoseInstance, error) {
	if !t.Status.Loggable() {
		return d, &ValidationError{Field: "status", Msg: fmt.Sprintf("status must be taken, skipped or snoozed, got %q", t.Status)}
	}
	if d.Status != StatusPending {
		return d, fmt.Errorf("%w: dose is already %s", ErrConflict, d.Status)
	}

	next := d
	switch t.Status {
	case StatusTaken:
		at := now
		next.Status = StatusTaken
		next.TakenAt = &at
	case StatusSkipped:
		next.Status = StatusSkipped
	case StatusSnoozed:
		minutes := t.SnoozeMinutes
		if minutes <= 0 {
			minutes = DefaultSnoozeMinutes
		}
		until := now.Add(time.Duration(minutes) * time.Minute)
		next.SnoozedUntil = &until
		next.SnoozeCount++
		next.NotificationSent = false
		next.Status = StatusPending
	}

	if t.Notes != nil {
		notes := strings.TrimSpace(*t.Notes)
		if utf8.RuneCountInString(notes) > MaxDoseNotes {
			return d, &ValidationError{Field: "notes", Msg: fmt.Sprintf("notes must be at most %d characters", MaxDoseNotes)}
		}
		next.Notes = notes
	}
	next.UpdatedAt = now
	return next, nil
}

// clock is a wall-clock time of day.
type clock struct {
	hour, minute int
}

func (c clock) minutes() int { return c.hour*60 + c.minute }

func (c clock) String() string { return fmt.Sprintf("%02d:%02d", c.hour, c.minute) }

// on returns the instant at this time of day on day's calendar date, in
// day's location.
func (c clock) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.hour, c.minute, 0, 0, day.Location())
}

func parseClock(s string) (clock, error) {
	c, err := recurrence.ParseClock(s)
	if err != nil {
		return clock{}, err
	}
	return clock{hour: c.Hour, minute: c.Minute}, nil
}

// normalizeTimes validates every entry, rewrites it as zero-padded HH:MM,
// removes duplicates, and sorts ascending.
func normalizeTimes(times []string) ([]string, error) {
	seen := make(map[int]bool, len(times))
	clocks := make([]clock, 0, len(times))
	for _, s := range times {
		c, err := parseClock(s)
		if err != nil {
			return nil, &ValidationError{Field: "times", Msg: err.Error()}
		}
		if seen[c.minutes()] {
			continue
		}
		seen[c.minutes()] = true
		clocks = append(clocks, c)
	}
	sort.Slice(clocks, func(i, j int) bool { return clocks[i].minutes() < clocks[j].minutes() })
	out := make([]string, len(clocks))
	for i, c := range clocks {
		out[i] = c.String()
	}
	return out, nil
}
