package reminder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ListFilter selects a user's reminders. Results are ordered by CreatedAt
// descending. A Limit of zero returns every match.
type ListFilter struct {
	UserID         string
	ActiveOnly     bool
	FamilyMemberID *string
	Limit          int
	Offset         int
}

// DoseFilter selects a user's dose instances with ScheduledTime in
// [From, To]. Results are ordered by ScheduledTime ascending.
type DoseFilter struct {
	UserID         string
	FamilyMemberID *string
	From           time.Time
	To             time.Time
}

type ReminderRepository interface {
	Create(ctx context.Context, r *Reminder) error
	// GetByID returns a *NotFoundError when id is absent or owned by another user.
	GetByID(ctx context.Context, id uuid.UUID, userID string) (*Reminder, error)
	List(ctx context.Context, f ListFilter) ([]*Reminder, int, error)
	// ListEnabled returns reminders with is_active set and is_paused clear for
	// every user. The caller applies the date window.
	ListEnabled(ctx context.Context) ([]*Reminder, error)
	Update(ctx context.Context, r *Reminder) error
	Delete(ctx context.Context, id uuid.UUID, userID string) error
	// SetLastNotificationSent stamps only last_notification_sent. It returns
	// a *NotFoundError when id is absent.
	SetLastNotificationSent(ctx context.Context, id uuid.UUID, at time.Time) error
	// SetPushSubscription stores payload on all of the user's active
	// reminders and returns how many were updated.
	SetPushSubscription(ctx context.Context, userID string, payload json.RawMessage) (int, error)
}

type DoseRepository interface {
	// CreateIfAbsent inserts d unless a dose already exists for
	// (d.ReminderID, d.ScheduledTime). The check and insert are one atomic
	// write. created is false when the dose already existed.
	CreateIfAbsent(ctx context.Context, d *DoseInstance) (created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID, userID string) (*DoseInstance, error)
	// FindLatestPending returns the pending dose of the reminder with the
	// greatest ScheduledTime.
	FindLatestPending(ctx context.Context, reminderID uuid.UUID, userID string) (*DoseInstance, error)
	ListByReminder(ctx context.Context, reminderID uuid.UUID) ([]*DoseInstance, error)
	ListInRange(ctx context.Context, f DoseFilter) ([]*DoseInstance, error)
	// UpdateTransition persists the lifecycle fields of d only while the
	// stored dose is still pending and its snooze count still equals
	// readSnoozeCount. It returns ErrConflict otherwise.
	UpdateTransition(ctx context.Context, d *DoseInstance, readSnoozeCount int) error
	DeleteByReminder(ctx context.Context, reminderID uuid.UUID) (int, error)
	// MarkMissed moves every pending dose scheduled before cutoff to missed,
	// skipping doses snoozed until after cutoff.
	MarkMissed(ctx context.Context, cutoff time.Time) (int, error)
	// ListDue returns pending, unnotified doses scheduled at or before until
	// whose snooze, if any, also ends by until.
	ListDue(ctx context.Context, until time.Time) ([]*DoseInstance, error)
	// MarkNotified sets the notification bookkeeping and returns the dose.
	MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) (*DoseInstance, error)
}
