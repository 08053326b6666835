package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	reminderCollection = "reminders"
	doseCollection     = "dose_instances"
)

type notificationDoc struct {
	PushEnabled    bool `bson:"push_enabled"`
	EmailEnabled   bool `bson:"email_enabled"`
	SoundEnabled   bool `bson:"sound_enabled"`
	ReminderOffset int  `bson:"reminder_offset"`
}

type reminderDoc struct {
	ID                   string          `bson:"_id"`
	UserID               string          `bson:"user_id"`
	PrescriptionID       *string         `bson:"prescription_id,omitempty"`
	FamilyMemberID       *string         `bson:"family_member_id,omitempty"`
	MedicineName         string          `bson:"medicine_name"`
	Dosage               string          `bson:"dosage"`
	Instructions         string          `bson:"instructions"`
	Frequency            string          `bson:"frequency"`
	Times                []string        `bson:"times"`
	DaysOfWeek           []int           `bson:"days_of_week"`
	StartDate            time.Time       `bson:"start_date"`
	EndDate              *time.Time      `bson:"end_date,omitempty"`
	IsActive             bool            `bson:"is_active"`
	IsPaused             bool            `bson:"is_paused"`
	NotificationSettings notificationDoc `bson:"notification_settings"`
	PushSubscription     string          `bson:"push_subscription,omitempty"`
	LastNotificationSent *time.Time      `bson:"last_notification_sent,omitempty"`
	Color                string          `bson:"color"`
	Notes                string          `bson:"notes"`
	CreatedAt            time.Time       `bson:"created_at"`
	UpdatedAt            time.Time       `bson:"updated_at"`
}

func toReminderDoc(r *Reminder) reminderDoc {
	return reminderDoc{
		ID:                   r.ID.String(),
		UserID:               r.UserID,
		PrescriptionID:       r.PrescriptionID,
		FamilyMemberID:       r.FamilyMemberID,
		MedicineName:         r.MedicineName,
		Dosage:               r.Dosage,
		Instructions:         r.Instructions,
		Frequency:            string(r.Frequency),
		Times:                r.Times,
		DaysOfWeek:           r.DaysOfWeek,
		StartDate:            r.StartDate,
		EndDate:              r.EndDate,
		IsActive:             r.IsActive,
		IsPaused:             r.IsPaused,
		NotificationSettings: notificationDoc(r.NotificationSettings),
		PushSubscription:     string(r.PushSubscription),
		LastNotificationSent: r.LastNotificationSent,
		Color:                r.Color,
		Notes:                r.Notes,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func (d reminderDoc) toReminder() (*Reminder, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode reminder id %q: %w", d.ID, err)
	}
	r := &Reminder{
		ID:                   id,
		UserID:               d.UserID,
		PrescriptionID:       d.PrescriptionID,
		FamilyMemberID:       d.FamilyMemberID,
		MedicineName:         d.MedicineName,
		Dosage:               d.Dosage,
		Instructions:         d.Instructions,
		Frequency:            Frequency(d.Frequency),
		Times:                d.Times,
		DaysOfWeek:           d.DaysOfWeek,
		StartDate:            d.StartDate,
		EndDate:              d.EndDate,
		IsActive:             d.IsActive,
		IsPaused:             d.IsPaused,
		NotificationSettings: NotificationSettings(d.NotificationSettings),
		LastNotificationSent: d.LastNotificationSent,
		Color:                d.Color,
		Notes:                d.Notes,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
	if d.PushSubscription != "" {
		r.PushSubscription = json.RawMessage(d.PushSubscription)
	}
	return r, nil
}

type doseDoc struct {
	ID                 string     `bson:"_id"`
	ReminderID         string     `bson:"reminder_id"`
	UserID             string     `bson:"user_id"`
	FamilyMemberID     *string    `bson:"family_member_id,omitempty"`
	MedicineName       string     `bson:"medicine_name"`
	Dosage             string     `bson:"dosage"`
	ScheduledTime      time.Time  `bson:"scheduled_time"`
	Status             string     `bson:"status"`
	TakenAt            *time.Time `bson:"taken_at,omitempty"`
	SnoozedUntil       *time.Time `bson:"snoozed_until,omitempty"`
	SnoozeCount        int        `bson:"snooze_count"`
	Notes              string     `bson:"notes"`
	NotificationSent   bool       `bson:"notification_sent"`
	NotificationSentAt *time.Time `bson:"notification_sent_at,omitempty"`
	CreatedAt          time.Time  `bson:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at"`
}

func (d doseDoc) toDose() (*DoseInstance, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode dose id %q: %w", d.ID, err)
	}
	rid, err := uuid.Parse(d.ReminderID)
	if err != nil {
		return nil, fmt.Errorf("decode reminder id %q: %w", d.ReminderID, err)
	}
	return &DoseInstance{
		ID:                 id,
		ReminderID:         rid,
		UserID:             d.UserID,
		FamilyMemberID:     d.FamilyMemberID,
		MedicineName:       d.MedicineName,
		Dosage:             d.Dosage,
		ScheduledTime:      d.ScheduledTime,
		Status:             DoseStatus(d.Status),
		TakenAt:            d.TakenAt,
		SnoozedUntil:       d.SnoozedUntil,
		SnoozeCount:        d.SnoozeCount,
		Notes:              d.Notes,
		NotificationSent:   d.NotificationSent,
		NotificationSentAt: d.NotificationSentAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}, nil
}

// EnsureMongoIndexes creates the indexes the repositories rely on. The
// unique (reminder_id, scheduled_time) index is what makes CreateIfAbsent
// safe under concurrent sweeps.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(reminderCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_active", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create reminder indexes: %w", err)
	}
	_, err = db.Collection(doseCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "scheduled_time", Value: 1}}},
		{
			Keys:    bson.D{{Key: "reminder_id", Value: 1}, {Key: "scheduled_time", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduled_time", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create dose indexes: %w", err)
	}
	return nil
}

// =========== Reminder Repository ===========

type reminderRepoMongo struct{ coll *mongo.Collection }

func NewReminderRepoMongo(db *mongo.Database) ReminderRepository {
	return &reminderRepoMongo{coll: db.Collection(reminderCollection)}
}

func decodeReminders(ctx context.Context, cur *mongo.Cursor) ([]*Reminder, error) {
	defer cur.Close(ctx)
	var items []*Reminder
	for cur.Next(ctx) {
		var doc reminderDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		r, err := doc.toReminder()
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, cur.Err()
}

func (r *reminderRepoMongo) Create(ctx context.Context, rem *Reminder) error {
	if rem.ID == uuid.Nil {
		rem.ID = uuid.New()
	}
	now := time.Now().UTC()
	rem.CreatedAt, rem.UpdatedAt = now, now
	_, err := r.coll.InsertOne(ctx, toReminderDoc(rem))
	return err
}

func (r *reminderRepoMongo) GetByID(ctx context.Context, id uuid.UUID, userID string) (*Reminder, error) {
	var doc reminderDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String(), "user_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, reminderNotFound()
	}
	if err != nil {
		return nil, err
	}
	return doc.toReminder()
}

func (r *reminderRepoMongo) List(ctx context.Context, f ListFilter) ([]*Reminder, int, error) {
	filter := bson.M{"user_id": f.UserID}
	if f.ActiveOnly {
		filter["is_active"] = true
		filter["is_paused"] = false
	}
	if f.FamilyMemberID != nil {
		filter["family_member_id"] = *f.FamilyMemberID
	}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit)).SetSkip(int64(f.Offset))
	}
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	items, err := decodeReminders(ctx, cur)
	return items, int(total), err
}

func (r *reminderRepoMongo) ListEnabled(ctx context.Context) ([]*Reminder, error) {
	cur, err := r.coll.Find(ctx, bson.M{"is_active": true, "is_paused": false},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeReminders(ctx, cur)
}

func (r *reminderRepoMongo) Update(ctx context.Context, rem *Reminder) error {
	rem.UpdatedAt = time.Now().UTC()
	doc := toReminderDoc(rem)
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID, "user_id": rem.UserID}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return reminderNotFound()
	}
	return nil
}

func (r *reminderRepoMongo) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String(), "user_id": userID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return reminderNotFound()
	}
	return nil
}

func (r *reminderRepoMongo) SetLastNotificationSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"last_notification_sent": at, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return reminderNotFound()
	}
	return nil
}

func (r *reminderRepoMongo) SetPushSubscription(ctx context.Context, userID string, payload json.RawMessage) (int, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"user_id": userID, "is_active": true},
		bson.M{"$set": bson.M{"push_subscription": string(payload), "updated_at": time.Now().UTC()}})
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

// =========== Dose Repository ===========

type doseRepoMongo struct{ coll *mongo.Collection }

func NewDoseRepoMongo(db *mongo.Database) DoseRepository {
	return &doseRepoMongo{coll: db.Collection(doseCollection)}
}

func decodeDoses(ctx context.Context, cur *mongo.Cursor) ([]*DoseInstance, error) {
	defer cur.Close(ctx)
	var items []*DoseInstance
	for cur.Next(ctx) {
		var doc doseDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		d, err := doc.toDose()
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, cur.Err()
}

func (r *doseRepoMongo) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*DoseInstance, error) {
	var doc doseDoc
	err := r.coll.FindOne(ctx, filter, opts...).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, doseNotFound()
	}
	if err != nil {
		return nil, err
	}
	return doc.toDose()
}

func (r *doseRepoMongo) CreateIfAbsent(ctx context.Context, d *DoseInstance) (bool, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	insert := bson.M{
		"_id":               d.ID.String(),
		"user_id":           d.UserID,
		"medicine_name":     d.MedicineName,
		"dosage":            d.Dosage,
		"status":            string(d.Status),
		"snooze_count":      0,
		"notes":             "",
		"notification_sent": false,
		"created_at":        now,
		"updated_at":        now,
	}
	if d.FamilyMemberID != nil {
		insert["family_member_id"] = *d.FamilyMemberID
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"reminder_id": d.ReminderID.String(), "scheduled_time": d.ScheduledTime},
		bson.M{"$setOnInsert": insert},
		options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert won the race on the unique index.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (r *doseRepoMongo) GetByID(ctx context.Context, id uuid.UUID, userID string) (*DoseInstance, error) {
	return r.findOne(ctx, bson.M{"_id": id.String(), "user_id": userID})
}

func (r *doseRepoMongo) FindLatestPending(ctx context.Context, reminderID uuid.UUID, userID string) (*DoseInstance, error) {
	return r.findOne(ctx,
		bson.M{"reminder_id": reminderID.String(), "user_id": userID, "status": string(StatusPending)},
		options.FindOne().SetSort(bson.D{{Key: "scheduled_time", Value: -1}}))
}

func (r *doseRepoMongo) ListByReminder(ctx context.Context, reminderID uuid.UUID) ([]*DoseInstance, error) {
	cur, err := r.coll.Find(ctx, bson.M{"reminder_id": reminderID.String()},
		options.Find().SetSort(bson.D{{Key: "scheduled_time", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeDoses(ctx, cur)
}

func (r *doseRepoMongo) ListInRange(ctx context.Context, f DoseFilter) ([]*DoseInstance, error) {
	filter := bson.M{
		"user_id":        f.UserID,
		"scheduled_time": bson.M{"$gte": f.From, "$lte": f.To},
	}
	if f.FamilyMemberID != nil {
		filter["family_member_id"] = *f.FamilyMemberID
	}
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "scheduled_time", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeDoses(ctx, cur)
}

func (r *doseRepoMongo) UpdateTransition(ctx context.Context, d *DoseInstance, readSnoozeCount int) error {
	d.UpdatedAt = time.Now().UTC()
	set := bson.M{
		"status":            string(d.Status),
		"snooze_count":      d.SnoozeCount,
		"notes":             d.Notes,
		"notification_sent": d.NotificationSent,
		"updated_at":        d.UpdatedAt,
	}
	if d.TakenAt != nil {
		set["taken_at"] = *d.TakenAt
	}
	if d.SnoozedUntil != nil {
		set["snoozed_until"] = *d.SnoozedUntil
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{
			"_id":          d.ID.String(),
			"user_id":      d.UserID,
			"status":       string(StatusPending),
			"snooze_count": readSnoozeCount,
		},
		bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: dose %s changed or is no longer pending", ErrConflict, d.ID)
	}
	return nil
}

func (r *doseRepoMongo) DeleteByReminder(ctx context.Context, reminderID uuid.UUID) (int, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"reminder_id": reminderID.String()})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

func (r *doseRepoMongo) MarkMissed(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{
			"status":         string(StatusPending),
			"scheduled_time": bson.M{"$lt": cutoff},
			"$or": bson.A{
				bson.M{"snoozed_until": bson.M{"$exists": false}},
				bson.M{"snoozed_until": bson.M{"$lt": cutoff}},
			},
		},
		bson.M{"$set": bson.M{"status": string(StatusMissed), "updated_at": time.Now().UTC()}})
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (r *doseRepoMongo) ListDue(ctx context.Context, until time.Time) ([]*DoseInstance, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{
			"status":            string(StatusPending),
			"notification_sent": false,
			"scheduled_time":    bson.M{"$lte": until},
			"$or": bson.A{
				bson.M{"snoozed_until": bson.M{"$exists": false}},
				bson.M{"snoozed_until": bson.M{"$lte": until}},
			},
		},
		options.Find().SetSort(bson.D{{Key: "scheduled_time", Value: 1}}))
	if err != nil {
		return nil, err
	}
	return decodeDoses(ctx, cur)
}

func (r *doseRepoMongo) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) (*DoseInstance, error) {
	var doc doseDoc
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"notification_sent": true, "notification_sent_at": at, "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, doseNotFound()
	}
	if err != nil {
		return nil, err
	}
	return doc.toDose()
}
