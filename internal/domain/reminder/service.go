package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Vikaumar/Prescripto/internal/platform/recurrence"
)

const (
	MaxSnoozeMinutes = 24 * 60
	MaxDueLookahead  = 24 * time.Hour
	// Matches JavaScript's Date.prototype.toISOString so clients can key on it.
	groupKeyLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Period selects the stats window ending now.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// ParsePeriod maps unknown or empty values to PeriodWeek.
func ParsePeriod(s string) Period {
	switch Period(strings.ToLower(strings.TrimSpace(s))) {
	case PeriodMonth:
		return PeriodMonth
	case PeriodYear:
		return PeriodYear
	default:
		return PeriodWeek
	}
}

// Window returns [now minus the period, now].
func (p Period) Window(now time.Time) (time.Time, time.Time) {
	switch p {
	case PeriodMonth:
		return now.AddDate(0, -1, 0), now
	case PeriodYear:
		return now.AddDate(-1, 0, 0), now
	default:
		return now.AddDate(0, 0, -7), now
	}
}

type CreateRequest struct {
	PrescriptionID       *string               `json:"prescription_id"`
	FamilyMemberID       *string               `json:"family_member_id"`
	MedicineName         string                `json:"medicine_name"`
	Dosage               string                `json:"dosage"`
	Instructions         string                `json:"instructions"`
	Frequency            Frequency             `json:"frequency"`
	Times                []string              `json:"times"`
	DaysOfWeek           []int                 `json:"days_of_week"`
	StartDate            *time.Time            `json:"start_date"`
	EndDate              *time.Time            `json:"end_date"`
	NotificationSettings *NotificationSettings `json:"notification_settings"`
	Color                string                `json:"color"`
	Notes                string                `json:"notes"`
}

// UpdateRequest lists the fields a user may change. Nil fields are left
// untouched. A non-nil empty Times is rejected.
type UpdateRequest struct {
	MedicineName         *string               `json:"medicine_name"`
	Dosage               *string               `json:"dosage"`
	Instructions         *string               `json:"instructions"`
	Frequency            *Frequency            `json:"frequency"`
	Times                []string              `json:"times"`
	DaysOfWeek           []int                 `json:"days_of_week"`
	StartDate            *time.Time            `json:"start_date"`
	EndDate              *time.Time            `json:"end_date"`
	ClearEndDate         bool                  `json:"clear_end_date"`
	IsActive             *bool                 `json:"is_active"`
	IsPaused             *bool                 `json:"is_paused"`
	NotificationSettings *NotificationSettings `json:"notification_settings"`
	Color                *string               `json:"color"`
	Notes                *string               `json:"notes"`
}

type LogDoseRequest struct {
	DoseID        *uuid.UUID `json:"dose_id"`
	Status        DoseStatus `json:"status"`
	Notes         *string    `json:"notes"`
	SnoozeMinutes int        `json:"snooze_minutes"`
}

type CreateResult struct {
	Reminder ReminderView    `json:"reminder"`
	Doses    []*DoseInstance `json:"doses"`
}

type DoseView struct {
	*DoseInstance
	Late bool `json:"is_late"`
}

type TodayResult struct {
	Count   int                   `json:"count"`
	Data    []DoseView            `json:"data"`
	Grouped map[string][]DoseView `json:"grouped"`
}

type Service struct {
	reminders ReminderRepository
	doses     DoseRepository
	loc       *time.Location
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(reminders ReminderRepository, doses DoseRepository, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		reminders: reminders,
		doses:     doses,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

// Location is the zone used for day boundaries and wall-clock times.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) clock() time.Time { return s.now().In(s.loc) }

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// -- Reminders --

func (s *Service) validate(r *Reminder) error {
	r.MedicineName = strings.TrimSpace(r.MedicineName)
	if r.MedicineName == "" {
		return invalid("medicine_name", "medicine name is required")
	}
	if r.Frequency == "" {
		r.Frequency = FrequencyOnceDaily
	}
	if !r.Frequency.Valid() {
		return invalid("frequency", "invalid frequency: %s", r.Frequency)
	}
	if len(r.Times) == 0 {
		return invalid("times", "at least one reminder time is required")
	}
	times, err := normalizeTimes(r.Times)
	if err != nil {
		return err
	}
	r.Times = times

	seen := make(map[int]bool, len(r.DaysOfWeek))
	days := make([]int, 0, len(r.DaysOfWeek))
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return invalid("days_of_week", "days of week must be between 0 and 6, got %d", d)
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)
	r.DaysOfWeek = days

	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return invalid("end_date", "end date must not be before start date")
	}
	r.Notes = strings.TrimSpace(r.Notes)
	if utf8.RuneCountInString(r.Notes) > MaxReminderNotes {
		return invalid("notes", "notes must be at most %d characters", MaxReminderNotes)
	}
	if r.Color == "" {
		r.Color = DefaultColor
	}
	if r.NotificationSettings.ReminderOffset < 0 {
		return invalid("notification_settings", "reminder offset must not be negative")
	}
	return nil
}

func (s *Service) view(r *Reminder) ReminderView {
	now := s.clock()
	v := ReminderView{
		Reminder:        r,
		CurrentlyActive: r.IsCurrentlyActive(now),
		NextOccurrence:  r.NextOccurrence(now),
	}
	if rules, err := recurrence.Rules(s.schedule(r)); err == nil {
		v.RecurrenceRule = strings.Join(rules, "\n")
	}
	return v
}

func (s *Service) schedule(r *Reminder) recurrence.Schedule {
	sched := recurrence.Schedule{
		Times:    r.Times,
		Start:    r.StartDate,
		End:      r.EndDate,
		Location: s.loc,
	}
	if r.Frequency == FrequencyWeekly {
		sched.Weekdays = r.DaysOfWeek
	}
	return sched
}

// CreateReminder persists a new schedule for userID and immediately
// materializes today's dose instances.
func (s *Service) CreateReminder(ctx context.Context, userID string, req CreateRequest) (*CreateResult, error) {
	now := s.clock()
	r := &Reminder{
		UserID:               userID,
		PrescriptionID:       req.PrescriptionID,
		FamilyMemberID:       req.FamilyMemberID,
		MedicineName:         req.MedicineName,
		Dosage:               strings.TrimSpace(req.Dosage),
		Instructions:         strings.TrimSpace(req.Instructions),
		Frequency:            req.Frequency,
		Times:                req.Times,
		DaysOfWeek:           req.DaysOfWeek,
		StartDate:            now,
		EndDate:              req.EndDate,
		IsActive:             true,
		NotificationSettings: DefaultNotificationSettings(),
		Color:                req.Color,
		Notes:                req.Notes,
	}
	if req.StartDate != nil {
		r.StartDate = *req.StartDate
	}
	if req.NotificationSettings != nil {
		r.NotificationSettings = *req.NotificationSettings
	}
	if err := s.validate(r); err != nil {
		return nil, err
	}
	if err := s.reminders.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}

	doses, err := s.GenerateDosesForDate(ctx, r, now)
	if err != nil {
		return nil, fmt.Errorf("generate doses for reminder %s: %w", r.ID, err)
	}
	if doses == nil {
		doses = []*DoseInstance{}
	}
	return &CreateResult{Reminder: s.view(r), Doses: doses}, nil
}

func (s *Service) GetReminder(ctx context.Context, id uuid.UUID, userID string) (*ReminderView, error) {
	r, err := s.reminders.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	v := s.view(r)
	return &v, nil
}

func (s *Service) ListReminders(ctx context.Context, f ListFilter) ([]ReminderView, int, error) {
	items, total, err := s.reminders.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	views := make([]ReminderView, len(items))
	for i, r := range items {
		views[i] = s.view(r)
	}
	return views, total, nil
}

// UpdateReminder applies the allow-listed fields of req. Existing dose
// instances keep the name and dosage they were created with.
func (s *Service) UpdateReminder(ctx context.Context, id uuid.UUID, userID string, req UpdateRequest) (*ReminderView, error) {
	r, err := s.reminders.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if req.MedicineName != nil {
		r.MedicineName = *req.MedicineName
	}
	if req.Dosage != nil {
		r.Dosage = strings.TrimSpace(*req.Dosage)
	}
	if req.Instructions != nil {
		r.Instructions = strings.TrimSpace(*req.Instructions)
	}
	if req.Frequency != nil {
		r.Frequency = *req.Frequency
	}
	if req.Times != nil {
		if len(req.Times) == 0 {
			return nil, invalid("times", "at least one reminder time is required")
		}
		r.Times = req.Times
	}
	if req.DaysOfWeek != nil {
		r.DaysOfWeek = req.DaysOfWeek
	}
	if req.StartDate != nil {
		r.StartDate = *req.StartDate
	}
	switch {
	case req.ClearEndDate && req.EndDate != nil:
		return nil, invalid("end_date", "end_date and clear_end_date are mutually exclusive")
	case req.ClearEndDate:
		r.EndDate = nil
	case req.EndDate != nil:
		r.EndDate = req.EndDate
	}
	if req.IsActive != nil {
		r.IsActive = *req.IsActive
	}
	if req.IsPaused != nil {
		r.IsPaused = *req.IsPaused
	}
	if req.NotificationSettings != nil {
		r.NotificationSettings = *req.NotificationSettings
	}
	if req.Color != nil {
		r.Color = strings.TrimSpace(*req.Color)
	}
	if req.Notes != nil {
		r.Notes = *req.Notes
	}
	if err := s.validate(r); err != nil {
		return nil, err
	}
	if err := s.reminders.Update(ctx, r); err != nil {
		return nil, err
	}
	v := s.view(r)
	return &v, nil
}

// DeleteReminder removes the reminder and all of its dose instances. Doses
// go first so a failure part way leaves a reminder that can be deleted again.
func (s *Service) DeleteReminder(ctx context.Context, id uuid.UUID, userID string) (int, error) {
	if _, err := s.reminders.GetByID(ctx, id, userID); err != nil {
		return 0, err
	}
	n, err := s.doses.DeleteByReminder(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("delete doses of reminder %s: %w", id, err)
	}
	if err := s.reminders.Delete(ctx, id, userID); err != nil {
		return n, err
	}
	return n, nil
}

// ToggleReminder flips isActive or isPaused. Snake-case names are accepted too.
func (s *Service) ToggleReminder(ctx context.Context, id uuid.UUID, userID, field string) (*ReminderView, error) {
	var flip func(r *Reminder)
	switch field {
	case "isActive", "is_active":
		flip = func(r *Reminder) { r.IsActive = !r.IsActive }
	case "isPaused", "is_paused":
		flip = func(r *Reminder) { r.IsPaused = !r.IsPaused }
	default:
		return nil, invalid("field", "invalid field, must be isActive or isPaused")
	}

	r, err := s.reminders.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	flip(r)
	if err := s.reminders.Update(ctx, r); err != nil {
		return nil, err
	}
	v := s.view(r)
	return &v, nil
}

// SavePushSubscription stores a dispatcher payload on every active reminder
// of the user.
func (s *Service) SavePushSubscription(ctx context.Context, userID string, payload json.RawMessage) (int, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "null" {
		return 0, invalid("subscription", "subscription is required")
	}
	if !json.Valid([]byte(trimmed)) {
		return 0, invalid("subscription", "subscription must be valid JSON")
	}
	return s.reminders.SetPushSubscription(ctx, userID, json.RawMessage(trimmed))
}

// UpcomingOccurrences expands the reminder's schedule into its next n fire times.
func (s *Service) UpcomingOccurrences(ctx context.Context, id uuid.UUID, userID string, n int) ([]time.Time, error) {
	if n < 1 || n > recurrence.MaxUpcoming {
		return nil, invalid("count", "count must be between 1 and %d", recurrence.MaxUpcoming)
	}
	r, err := s.reminders.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	out, err := recurrence.Upcoming(s.schedule(r), s.clock(), n)
	if err != nil {
		return nil, fmt.Errorf("expand schedule of reminder %s: %w", id, err)
	}
	if out == nil {
		out = []time.Time{}
	}
	return out, nil
}

// -- Dose instances --

// GenerateDosesForDate materializes one pending dose per configured time on
// date's calendar day. Times before the reminder's start or after its end
// date, and weekdays excluded by a weekly schedule are skipped. Existing
// doses are left alone, so repeated calls are safe. It returns only the
// doses created by this call.
func (s *Service) GenerateDosesForDate(ctx context.Context, r *Reminder, date time.Time) ([]*DoseInstance, error) {
	if len(r.Times) == 0 {
		return nil, nil
	}
	day := date.In(s.loc)
	if !r.RunsOn(day) {
		return nil, nil
	}
	if r.EndDate != nil && startOfDay(day).After(*r.EndDate) {
		return nil, nil
	}

	var created []*DoseInstance
	for _, t := range r.Times {
		c, err := parseClock(t)
		if err != nil {
			return created, &ValidationError{Field: "times", Msg: err.Error()}
		}
		scheduled := c.on(day)
		if scheduled.Before(r.StartDate) {
			continue
		}
		if r.EndDate != nil && scheduled.After(*r.EndDate) {
			continue
		}
		d := &DoseInstance{
			ReminderID:     r.ID,
			UserID:         r.UserID,
			FamilyMemberID: r.FamilyMemberID,
			MedicineName:   r.MedicineName,
			Dosage:         r.Dosage,
			ScheduledTime:  scheduled,
			Status:         StatusPending,
		}
		ok, err := s.doses.CreateIfAbsent(ctx, d)
		if err != nil {
			return created, fmt.Errorf("create dose at %s: %w", scheduled.Format(time.RFC3339), err)
		}
		if ok {
			created = append(created, d)
		}
	}
	return created, nil
}

// LogDose records a user action on a dose. Without an explicit dose id the
// pending dose of the reminder with the latest scheduled time is used, which
// is not necessarily the most overdue one.
func (s *Service) LogDose(ctx context.Context, reminderID uuid.UUID, userID string, req LogDoseRequest) (*DoseInstance, error) {
	if !req.Status.Loggable() {
		return nil, invalid("status", "invalid status, must be taken, skipped or snoozed")
	}
	if req.SnoozeMinutes < 0 || req.SnoozeMinutes > MaxSnoozeMinutes {
		return nil, invalid("snooze_minutes", "snooze minutes must be between 0 and %d", MaxSnoozeMinutes)
	}

	var (
		dose *DoseInstance
		err  error
	)
	if req.DoseID != nil {
		dose, err = s.doses.GetByID(ctx, *req.DoseID, userID)
	} else {
		dose, err = s.doses.FindLatestPending(ctx, reminderID, userID)
	}
	if err != nil {
		return nil, err
	}

	next, err := dose.Apply(Transition{
		Status:        req.Status,
		Notes:         req.Notes,
		SnoozeMinutes: req.SnoozeMinutes,
	}, s.clock())
	if err != nil {
		return nil, err
	}
	if err := s.doses.UpdateTransition(ctx, &next, dose.SnoozeCount); err != nil {
		return nil, err
	}
	return &next, nil
}

// -- Queries --

// DueToday lists the user's doses scheduled on the current local day,
// ascending, plus the same doses grouped by exact scheduled time.
func (s *Service) DueToday(ctx context.Context, userID string, familyMemberID *string) (*TodayResult, error) {
	now := s.clock()
	doses, err := s.doses.ListInRange(ctx, DoseFilter{
		UserID:         userID,
		FamilyMemberID: familyMemberID,
		From:           startOfDay(now),
		To:             endOfDay(now),
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(doses, func(i, j int) bool { return doses[i].ScheduledTime.Before(doses[j].ScheduledTime) })

	res := &TodayResult{
		Count:   len(doses),
		Data:    make([]DoseView, 0, len(doses)),
		Grouped: make(map[string][]DoseView),
	}
	for _, d := range doses {
		v := DoseView{DoseInstance: d, Late: d.IsLate(now)}
		res.Data = append(res.Data, v)
		key := d.ScheduledTime.UTC().Format(groupKeyLayout)
		res.Grouped[key] = append(res.Grouped[key], v)
	}
	return res, nil
}

// Stats aggregates the user's doses over the period ending now.
func (s *Service) Stats(ctx context.Context, userID string, period Period, familyMemberID *string) (*Stats, error) {
	from, to := period.Window(s.clock())
	st, err := s.StatsBetween(ctx, userID, from, to, familyMemberID)
	if err != nil {
		return nil, err
	}
	st.Period = period
	return st, nil
}

// StatsBetween aggregates the user's doses scheduled in [from, to].
func (s *Service) StatsBetween(ctx context.Context, userID string, from, to time.Time, familyMemberID *string) (*Stats, error) {
	if to.Before(from) {
		return nil, invalid("to", "to must not be before from")
	}
	doses, err := s.doses.ListInRange(ctx, DoseFilter{
		UserID:         userID,
		FamilyMemberID: familyMemberID,
		From:           from,
		To:             to,
	})
	if err != nil {
		return nil, err
	}
	daily := DailyAdherence(doses, s.loc)
	return &Stats{
		From:          from,
		To:            to,
		Overall:       OverallAdherence(doses),
		Daily:         daily,
		ByMedicine:    MedicineAdherence(doses),
		CurrentStreak: CurrentStreak(daily),
	}, nil
}

// DueDoses is the dispatcher poll: pending doses not yet notified that are
// due within lookahead of now.
func (s *Service) DueDoses(ctx context.Context, lookahead time.Duration) ([]*DoseInstance, error) {
	if lookahead < 0 || lookahead > MaxDueLookahead {
		return nil, invalid("lookahead", "lookahead must be between 0 and %s", MaxDueLookahead)
	}
	doses, err := s.doses.ListDue(ctx, s.clock().Add(lookahead))
	if err != nil {
		return nil, err
	}
	if doses == nil {
		doses = []*DoseInstance{}
	}
	return doses, nil
}

// MarkNotified records that the dispatcher delivered a notification for the
// dose and stamps the owning reminder.
func (s *Service) MarkNotified(ctx context.Context, doseID uuid.UUID) (*DoseInstance, error) {
	now := s.clock()
	d, err := s.doses.MarkNotified(ctx, doseID, now)
	if err != nil {
		return nil, err
	}
	err = s.reminders.SetLastNotificationSent(ctx, d.ReminderID, now)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn().Err(err).Str("dose_id", doseID.String()).Msg("reminder of notified dose not found")
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stamp reminder %s: %w", d.ReminderID, err)
	}
	return d, nil
}
