package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Reminder Repository ===========

type reminderRepoPG struct{ db queryable }

func NewReminderRepoPG(pool *pgxpool.Pool) ReminderRepository { return &reminderRepoPG{db: pool} }

const reminderCols = `id, user_id, prescription_id, family_member_id, medicine_name, dosage,
	instructions, frequency, times, days_of_week, start_date, end_date, is_active, is_paused,
	notification_settings, push_subscription, last_notification_sent, color, notes,
	created_at, updated_at`

func scanReminder(row pgx.Row) (*Reminder, error) {
	var r Reminder
	var days []int32
	var sub []byte
	err := row.Scan(&r.ID, &r.UserID, &r.PrescriptionID, &r.FamilyMemberID, &r.MedicineName, &r.Dosage,
		&r.Instructions, &r.Frequency, &r.Times, &days, &r.StartDate, &r.EndDate, &r.IsActive, &r.IsPaused,
		&r.NotificationSettings, &sub, &r.LastNotificationSent, &r.Color, &r.Notes,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(sub) > 0 {
		r.PushSubscription = json.RawMessage(sub)
	}
	for _, d := range days {
		r.DaysOfWeek = append(r.DaysOfWeek, int(d))
	}
	return &r, nil
}

func daysParam(days []int) []int32 {
	out := make([]int32, len(days))
	for i, d := range days {
		out[i] = int32(d)
	}
	return out
}

func subscriptionParam(p json.RawMessage) interface{} {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}

func (r *reminderRepoPG) Create(ctx context.Context, rem *Reminder) error {
	if rem.ID == uuid.Nil {
		rem.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO reminder (id, user_id, prescription_id, family_member_id, medicine_name, dosage,
			instructions, frequency, times, days_of_week, start_date, end_date, is_active, is_paused,
			notification_settings, push_subscription, color, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`,
		rem.ID, rem.UserID, rem.PrescriptionID, rem.FamilyMemberID, rem.MedicineName, rem.Dosage,
		rem.Instructions, rem.Frequency, rem.Times, daysParam(rem.DaysOfWeek), rem.StartDate, rem.EndDate,
		rem.IsActive, rem.IsPaused, rem.NotificationSettings, subscriptionParam(rem.PushSubscription),
		rem.Color, rem.Notes,
	).Scan(&rem.CreatedAt, &rem.UpdatedAt)
}

func (r *reminderRepoPG) GetByID(ctx context.Context, id uuid.UUID, userID string) (*Reminder, error) {
	rem, err := scanReminder(r.db.QueryRow(ctx,
		`SELECT `+reminderCols+` FROM reminder WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reminderNotFound()
	}
	return rem, err
}

func (r *reminderRepoPG) List(ctx context.Context, f ListFilter) ([]*Reminder, int, error) {
	where := []string{"user_id = $1"}
	args := []interface{}{f.UserID}
	if f.ActiveOnly {
		where = append(where, "is_active = TRUE", "is_paused = FALSE")
	}
	if f.FamilyMemberID != nil {
		args = append(args, *f.FamilyMemberID)
		where = append(where, fmt.Sprintf("family_member_id = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM reminder WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + reminderCols + ` FROM reminder WHERE ` + clause + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rem)
	}
	return items, total, rows.Err()
}

func (r *reminderRepoPG) ListEnabled(ctx context.Context) ([]*Reminder, error) {
	rows, err := r.db.Query(ctx, `SELECT `+reminderCols+` FROM reminder
		WHERE is_active = TRUE AND is_paused = FALSE ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rem)
	}
	return items, rows.Err()
}

func (r *reminderRepoPG) Update(ctx context.Context, rem *Reminder) error {
	err := r.db.QueryRow(ctx, `
		UPDATE reminder SET medicine_name=$3, dosage=$4, instructions=$5, frequency=$6, times=$7,
			days_of_week=$8, start_date=$9, end_date=$10, is_active=$11, is_paused=$12,
			notification_settings=$13, push_subscription=$14, last_notification_sent=$15,
			color=$16, notes=$17, updated_at=NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING updated_at`,
		rem.ID, rem.UserID, rem.MedicineName, rem.Dosage, rem.Instructions, rem.Frequency, rem.Times,
		daysParam(rem.DaysOfWeek), rem.StartDate, rem.EndDate, rem.IsActive, rem.IsPaused,
		rem.NotificationSettings, subscriptionParam(rem.PushSubscription), rem.LastNotificationSent,
		rem.Color, rem.Notes,
	).Scan(&rem.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return reminderNotFound()
	}
	return err
}

func (r *reminderRepoPG) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM reminder WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return reminderNotFound()
	}
	return nil
}

func (r *reminderRepoPG) SetLastNotificationSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminder SET last_notification_sent = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return reminderNotFound()
	}
	return nil
}

func (r *reminderRepoPG) SetPushSubscription(ctx context.Context, userID string, payload json.RawMessage) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE reminder SET push_subscription = $2, updated_at = NOW()
		WHERE user_id = $1 AND is_active = TRUE`, userID, subscriptionParam(payload))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =========== Dose Repository ===========

type doseRepoPG struct{ db queryable }

func NewDoseRepoPG(pool *pgxpool.Pool) DoseRepository { return &doseRepoPG{db: pool} }

const doseCols = `id, reminder_id, user_id, family_member_id, medicine_name, dosage, scheduled_time,
	status, taken_at, snoozed_until, snooze_count, notes, notification_sent, notification_sent_at,
	created_at, updated_at`

func scanDose(row pgx.Row) (*DoseInstance, error) {
	var d DoseInstance
	err := row.Scan(&d.ID, &d.ReminderID, &d.UserID, &d.FamilyMemberID, &d.MedicineName, &d.Dosage,
		&d.ScheduledTime, &d.Status, &d.TakenAt, &d.SnoozedUntil, &d.SnoozeCount, &d.Notes,
		&d.NotificationSent, &d.NotificationSentAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDoses(rows pgx.Rows) ([]*DoseInstance, error) {
	defer rows.Close()
	var items []*DoseInstance
	for rows.Next() {
		d, err := scanDose(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *doseRepoPG) CreateIfAbsent(ctx context.Context, d *DoseInstance) (bool, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO dose_instance (id, reminder_id, user_id, family_member_id, medicine_name, dosage,
			scheduled_time, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (reminder_id, scheduled_time) DO NOTHING
		RETURNING created_at, updated_at`,
		d.ID, d.ReminderID, d.UserID, d.FamilyMemberID, d.MedicineName, d.Dosage,
		d.ScheduledTime, d.Status,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *doseRepoPG) GetByID(ctx context.Context, id uuid.UUID, userID string) (*DoseInstance, error) {
	d, err := scanDose(r.db.QueryRow(ctx,
		`SELECT `+doseCols+` FROM dose_instance WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, doseNotFound()
	}
	return d, err
}

func (r *doseRepoPG) FindLatestPending(ctx context.Context, reminderID uuid.UUID, userID string) (*DoseInstance, error) {
	d, err := scanDose(r.db.QueryRow(ctx, `SELECT `+doseCols+` FROM dose_instance
		WHERE reminder_id = $1 AND user_id = $2 AND status = 'pending'
		ORDER BY scheduled_time DESC LIMIT 1`, reminderID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, doseNotFound()
	}
	return d, err
}

func (r *doseRepoPG) ListByReminder(ctx context.Context, reminderID uuid.UUID) ([]*DoseInstance, error) {
	rows, err := r.db.Query(ctx, `SELECT `+doseCols+` FROM dose_instance
		WHERE reminder_id = $1 ORDER BY scheduled_time`, reminderID)
	if err != nil {
		return nil, err
	}
	return collectDoses(rows)
}

func (r *doseRepoPG) ListInRange(ctx context.Context, f DoseFilter) ([]*DoseInstance, error) {
	query := `SELECT ` + doseCols + ` FROM dose_instance
		WHERE user_id = $1 AND scheduled_time >= $2 AND scheduled_time <= $3`
	args := []interface{}{f.UserID, f.From, f.To}
	if f.FamilyMemberID != nil {
		query += ` AND family_member_id = $4`
		args = append(args, *f.FamilyMemberID)
	}
	rows, err := r.db.Query(ctx, query+` ORDER BY scheduled_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectDoses(rows)
}

func (r *doseRepoPG) UpdateTransition(ctx context.Context, d *DoseInstance, readSnoozeCount int) error {
	err := r.db.QueryRow(ctx, `
		UPDATE dose_instance SET status=$3, taken_at=$4, snoozed_until=$5, snooze_count=$6,
			notes=$7, notification_sent=$8, updated_at=NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'pending' AND snooze_count = $9
		RETURNING updated_at`,
		d.ID, d.UserID, d.Status, d.TakenAt, d.SnoozedUntil, d.SnoozeCount, d.Notes, d.NotificationSent,
		readSnoozeCount,
	).Scan(&d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: dose %s changed or is no longer pending", ErrConflict, d.ID)
	}
	return err
}

func (r *doseRepoPG) DeleteByReminder(ctx context.Context, reminderID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM dose_instance WHERE reminder_id = $1`, reminderID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *doseRepoPG) MarkMissed(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE dose_instance SET status = 'missed', updated_at = NOW()
		WHERE status = 'pending' AND scheduled_time < $1
			AND (snoozed_until IS NULL OR snoozed_until < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *doseRepoPG) ListDue(ctx context.Context, until time.Time) ([]*DoseInstance, error) {
	rows, err := r.db.Query(ctx, `SELECT `+doseCols+` FROM dose_instance
		WHERE status = 'pending' AND notification_sent = FALSE AND scheduled_time <= $1
			AND (snoozed_until IS NULL OR snoozed_until <= $1)
		ORDER BY scheduled_time`, until)
	if err != nil {
		return nil, err
	}
	return collectDoses(rows)
}

func (r *doseRepoPG) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) (*DoseInstance, error) {
	d, err := scanDose(r.db.QueryRow(ctx, `
		UPDATE dose_instance SET notification_sent = TRUE, notification_sent_at = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+doseCols, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, doseNotFound()
	}
	return d, err
}
