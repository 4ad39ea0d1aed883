package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/pkg/apperror"
)

const (
	scheduleCollection = "schedules"
	queueCollection    = "queues"
)

// IndexSpecs lists the indexes the scheduling collections need. The unique
// (scheduleId, queueNumber) index backs the queue numbering invariant.
func IndexSpecs() []db.IndexSpec {
	return []db.IndexSpec{
		{Collection: scheduleCollection, Models: []mongo.IndexModel{
			{Keys: bson.D{{Key: "scheduleId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "doctorId", Value: 1}, {Key: "date", Value: 1}}},
			{Keys: bson.D{{Key: "date", Value: -1}, {Key: "status", Value: 1}}},
		}},
		{Collection: queueCollection, Models: []mongo.IndexModel{
			{Keys: bson.D{{Key: "scheduleId", Value: 1}, {Key: "queueNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "queueId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "queueDate", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "patientId", Value: 1}}},
		}},
	}
}

type scheduleDoc struct {
	ID             string    `bson:"_id"`
	ScheduleID     string    `bson:"scheduleId"`
	DoctorID       string    `bson:"doctorId"`
	PolyclinicID   string    `bson:"polyclinicId"`
	Date           string    `bson:"date"`
	StartTime      string    `bson:"startTime"`
	EndTime        string    `bson:"endTime"`
	TotalSlots     int       `bson:"totalSlots"`
	BookedSlots    int       `bson:"bookedSlots"`
	AvailableSlots int       `bson:"availableSlots"`
	Status         string    `bson:"status"`
	Notes          *string   `bson:"notes,omitempty"`
	CreatedAt      time.Time `bson:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

func scheduleToDoc(s *Schedule) scheduleDoc {
	return scheduleDoc{
		ID: s.ID.String(), ScheduleID: s.ScheduleID, DoctorID: s.DoctorID.String(), PolyclinicID: s.PolyclinicID.String(),
		Date: s.Date, StartTime: s.StartTime, EndTime: s.EndTime,
		TotalSlots: s.TotalSlots, BookedSlots: s.BookedSlots, AvailableSlots: s.AvailableSlots,
		Status: string(s.Status), Notes: s.Notes, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
}

func (d scheduleDoc) model() *Schedule {
	return &Schedule{
		ID: parseUUID(d.ID), ScheduleID: d.ScheduleID, DoctorID: parseUUID(d.DoctorID), PolyclinicID: parseUUID(d.PolyclinicID),
		Date: d.Date, StartTime: d.StartTime, EndTime: d.EndTime,
		TotalSlots: d.TotalSlots, BookedSlots: d.BookedSlots, AvailableSlots: d.AvailableSlots,
		Status: ScheduleStatus(d.Status), Notes: d.Notes, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

type queueDoc struct {
	ID           string     `bson:"_id"`
	QueueID      string     `bson:"queueId"`
	PatientID    string     `bson:"patientId"`
	DoctorID     string     `bson:"doctorId"`
	PolyclinicID string     `bson:"polyclinicId"`
	ScheduleID   string     `bson:"scheduleId"`
	QueueNumber  int        `bson:"queueNumber"`
	QueueDate    string     `bson:"queueDate"`
	Status       string     `bson:"status"`
	Priority     string     `bson:"priority"`
	Notes        *string    `bson:"notes,omitempty"`
	RegisteredAt time.Time  `bson:"registeredAt"`
	CalledAt     *time.Time `bson:"calledAt,omitempty"`
	StartedAt    *time.Time `bson:"startedAt,omitempty"`
	EndedAt      *time.Time `bson:"endedAt,omitempty"`
	CreatedAt    time.Time  `bson:"createdAt"`
	UpdatedAt    time.Time  `bson:"updatedAt"`
}

func queueToDoc(e *QueueEntry) queueDoc {
	return queueDoc{
		ID: e.ID.String(), QueueID: e.QueueID, PatientID: e.PatientID.String(), DoctorID: e.DoctorID.String(),
		PolyclinicID: e.PolyclinicID.String(), ScheduleID: e.ScheduleID.String(), QueueNumber: e.QueueNumber,
		QueueDate: e.QueueDate, Status: string(e.Status), Priority: string(e.Priority), Notes: e.Notes,
		RegisteredAt: e.RegisteredAt, CalledAt: e.CalledAt, StartedAt: e.StartedAt, EndedAt: e.EndedAt,
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
	}
}

func (d queueDoc) model() *QueueEntry {
	return &QueueEntry{
		ID: parseUUID(d.ID), QueueID: d.QueueID, PatientID: parseUUID(d.PatientID), DoctorID: parseUUID(d.DoctorID),
		PolyclinicID: parseUUID(d.PolyclinicID), ScheduleID: parseUUID(d.ScheduleID), QueueNumber: d.QueueNumber,
		QueueDate: d.QueueDate, Status: QueueStatus(d.Status), Priority: Priority(d.Priority), Notes: d.Notes,
		RegisteredAt: d.RegisteredAt, CalledAt: d.CalledAt, StartedAt: d.StartedAt, EndedAt: d.EndedAt,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

func parseUUID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

// =========== Schedule Repository ===========

type scheduleRepoMongo struct {
	client    *mongo.Client
	schedules *mongo.Collection
	queues    *mongo.Collection
}

func NewScheduleRepoMongo(client *mongo.Client, database *mongo.Database) ScheduleRepository {
	return &scheduleRepoMongo{
		client:    client,
		schedules: database.Collection(scheduleCollection),
		queues:    database.Collection(queueCollection),
	}
}

func (r *scheduleRepoMongo) Create(ctx context.Context, s *Schedule) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	if _, err := r.schedules.InsertOne(ctx, scheduleToDoc(s)); err != nil {
		if db.IsDuplicateKey(err) {
			return &apperror.Error{Kind: apperror.KindConflict, Message: "schedule already exists", Err: err}
		}
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	var doc scheduleDoc
	err := r.schedules.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperror.NotFound("schedule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return doc.model(), nil
}

func (r *scheduleRepoMongo) Update(ctx context.Context, id uuid.UUID, fn func(s *Schedule) error) (*Schedule, error) {
	var out *Schedule
	err := db.WithMongoTx(ctx, r.client, func(ctx context.Context) error {
		s, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		prevDate := s.Date
		if err := fn(s); err != nil {
			return err
		}
		if s.TotalSlots < s.BookedSlots {
			return apperror.InvalidArgument("totalSlots (%d) cannot be less than booked slots (%d)", s.TotalSlots, s.BookedSlots)
		}
		s.AvailableSlots = s.TotalSlots - s.BookedSlots
		s.UpdatedAt = time.Now().UTC()

		// Any concurrent booking on this document aborts the transaction
		// with a write conflict and the driver re-runs this function.
		res, err := r.schedules.UpdateOne(ctx,
			bson.M{"_id": id.String(), "bookedSlots": s.BookedSlots},
			bson.M{"$set": bson.M{
				"date": s.Date, "startTime": s.StartTime, "endTime": s.EndTime,
				"totalSlots": s.TotalSlots, "availableSlots": s.AvailableSlots,
				"status": string(s.Status), "notes": s.Notes, "updatedAt": s.UpdatedAt,
			}})
		if err != nil {
			return fmt.Errorf("update schedule %s: %w", id, err)
		}
		if res.MatchedCount == 0 {
			return apperror.Conflict("schedule %s changed concurrently, retry the update", id)
		}
		if s.Date != prevDate {
			if _, err := r.queues.UpdateMany(ctx, bson.M{"scheduleId": id.String()},
				bson.M{"$set": bson.M{"queueDate": s.Date, "updatedAt": s.UpdatedAt}}); err != nil {
				return fmt.Errorf("move queue entries of schedule %s: %w", id, err)
			}
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *scheduleRepoMongo) Cancel(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	var out *Schedule
	err := db.WithMongoTx(ctx, r.client, func(ctx context.Context) error {
		s, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		entries, err := r.queues.CountDocuments(ctx, bson.M{"scheduleId": id.String()})
		if err != nil {
			return fmt.Errorf("count queue entries: %w", err)
		}
		if entries > 0 {
			return apperror.Conflict("cannot cancel schedule with %d existing queue entries", entries)
		}
		s.Status = ScheduleCancelled
		s.UpdatedAt = time.Now().UTC()
		if _, err := r.schedules.UpdateOne(ctx, bson.M{"_id": id.String()},
			bson.M{"$set": bson.M{"status": string(s.Status), "updatedAt": s.UpdatedAt}}); err != nil {
			return fmt.Errorf("cancel schedule %s: %w", id, err)
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *scheduleRepoMongo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*Schedule, error) {
	cur, err := r.schedules.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find schedules: %w", err)
	}
	var docs []scheduleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}
	items := make([]*Schedule, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.model())
	}
	return items, nil
}

func (r *scheduleRepoMongo) Search(ctx context.Context, f ScheduleFilter) ([]*Schedule, int, error) {
	filter := bson.M{}
	if f.DoctorID != nil {
		filter["doctorId"] = f.DoctorID.String()
	}
	if f.PolyclinicID != nil {
		filter["polyclinicId"] = f.PolyclinicID.String()
	}
	if f.Date != "" {
		filter["date"] = f.Date
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	total, err := r.schedules.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "startTime", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit)).SetSkip(int64(f.Offset))
	}
	items, err := r.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return items, int(total), nil
}

func (r *scheduleRepoMongo) FindOverlapping(ctx context.Context, doctorID uuid.UUID, date, start, end string, excludeID uuid.UUID) ([]*Schedule, error) {
	filter := bson.M{
		"doctorId":  doctorID.String(),
		"date":      date,
		"startTime": bson.M{"$lt": end},
		"endTime":   bson.M{"$gt": start},
		"_id":       bson.M{"$ne": excludeID.String()},
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "startTime", Value: 1}}))
}

// =========== Queue Repository ===========

type queueRepoMongo struct {
	client    *mongo.Client
	schedules *mongo.Collection
	queues    *mongo.Collection
}

func NewQueueRepoMongo(client *mongo.Client, database *mongo.Database) QueueRepository {
	return &queueRepoMongo{
		client:    client,
		schedules: database.Collection(scheduleCollection),
		queues:    database.Collection(queueCollection),
	}
}

func (r *queueRepoMongo) Book(ctx context.Context, e *QueueEntry) (*Schedule, error) {
	var sched *Schedule
	err := db.WithMongoTx(ctx, r.client, func(ctx context.Context) error {
		now := time.Now().UTC()

		var doc scheduleDoc
		err := r.schedules.FindOneAndUpdate(ctx,
			bson.M{"_id": e.ScheduleID.String(), "status": string(ScheduleActive), "availableSlots": bson.M{"$gt": 0}},
			bson.M{
				"$inc": bson.M{"bookedSlots": 1, "availableSlots": -1},
				"$set": bson.M{"updatedAt": now},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return r.bookingRejected(ctx, e.ScheduleID)
		}
		if err != nil {
			return fmt.Errorf("reserve slot: %w", err)
		}

		var last queueDoc
		err = r.queues.FindOne(ctx, bson.M{"scheduleId": e.ScheduleID.String()},
			options.FindOne().SetSort(bson.D{{Key: "queueNumber", Value: -1}})).Decode(&last)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			e.QueueNumber = 1
		case err != nil:
			return fmt.Errorf("next queue number: %w", err)
		default:
			e.QueueNumber = last.QueueNumber + 1
		}

		s := doc.model()
		e.ID = uuid.New()
		e.DoctorID = s.DoctorID
		e.PolyclinicID = s.PolyclinicID
		e.QueueDate = s.Date
		e.CreatedAt = now
		e.UpdatedAt = now
		if _, err := r.queues.InsertOne(ctx, queueToDoc(e)); err != nil {
			if db.IsDuplicateKey(err) {
				return &apperror.Error{Kind: apperror.KindConflict, Message: "queue number already taken, retry the booking", Err: err}
			}
			return fmt.Errorf("insert queue entry: %w", err)
		}
		sched = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sched, nil
}

func (r *queueRepoMongo) bookingRejected(ctx context.Context, scheduleID uuid.UUID) error {
	var doc scheduleDoc
	err := r.schedules.FindOne(ctx, bson.M{"_id": scheduleID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperror.NotFound("schedule %s not found", scheduleID)
	}
	if err != nil {
		return fmt.Errorf("get schedule %s: %w", scheduleID, err)
	}
	if ScheduleStatus(doc.Status) != ScheduleActive {
		return apperror.InvalidState("schedule is %s and does not accept bookings", doc.Status)
	}
	return apperror.CapacityExceeded("no available slots on this schedule")
}

func (r *queueRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	var doc queueDoc
	err := r.queues.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperror.NotFound("queue entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry %s: %w", id, err)
	}
	return doc.model(), nil
}

func (r *queueRepoMongo) Transition(ctx context.Context, e *QueueEntry, from QueueStatus, release bool) error {
	return db.WithMongoTx(ctx, r.client, func(ctx context.Context) error {
		now := time.Now().UTC()
		res, err := r.queues.UpdateOne(ctx,
			bson.M{"_id": e.ID.String(), "status": string(from)},
			bson.M{"$set": bson.M{
				"status": string(e.Status), "calledAt": e.CalledAt, "startedAt": e.StartedAt,
				"endedAt": e.EndedAt, "updatedAt": now,
			}})
		if err != nil {
			return fmt.Errorf("update queue entry %s: %w", e.ID, err)
		}
		if res.MatchedCount == 0 {
			current, err := r.GetByID(ctx, e.ID)
			if err != nil {
				return err
			}
			return apperror.InvalidState("queue entry is now %s, expected %s", current.Status, from)
		}
		e.UpdatedAt = now

		if !release {
			return nil
		}
		res, err = r.schedules.UpdateOne(ctx,
			bson.M{"_id": e.ScheduleID.String(), "bookedSlots": bson.M{"$gt": 0}},
			bson.M{
				"$inc": bson.M{"bookedSlots": -1, "availableSlots": 1},
				"$set": bson.M{"updatedAt": now},
			})
		if err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
		if res.MatchedCount == 0 {
			return apperror.Internal(nil, "schedule %s has no booked slot to release", e.ScheduleID)
		}
		return nil
	})
}

func queueFilterDoc(f QueueFilter) bson.M {
	filter := bson.M{}
	if f.Date != "" {
		filter["queueDate"] = f.Date
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.DoctorID != nil {
		filter["doctorId"] = f.DoctorID.String()
	}
	if f.PolyclinicID != nil {
		filter["polyclinicId"] = f.PolyclinicID.String()
	}
	if f.ScheduleID != nil {
		filter["scheduleId"] = f.ScheduleID.String()
	}
	if f.PatientID != nil {
		filter["patientId"] = f.PatientID.String()
	}
	return filter
}

func (r *queueRepoMongo) Search(ctx context.Context, f QueueFilter) ([]*QueueEntry, int, error) {
	filter := queueFilterDoc(f)
	total, err := r.queues.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count queue entries: %w", err)
	}

	// Order like the Postgres store: by day, then schedule start time.
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: scheduleCollection},
			{Key: "localField", Value: "scheduleId"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "schedule"},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "queueDate", Value: 1},
			{Key: "schedule.startTime", Value: 1},
			{Key: "scheduleId", Value: 1},
			{Key: "queueNumber", Value: 1},
		}}},
	}
	if f.Limit > 0 {
		pipeline = append(pipeline,
			bson.D{{Key: "$skip", Value: int64(f.Offset)}},
			bson.D{{Key: "$limit", Value: int64(f.Limit)}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$project", Value: bson.D{{Key: "schedule", Value: 0}}}})

	cur, err := r.queues.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue entries: %w", err)
	}
	var docs []queueDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode queue entries: %w", err)
	}
	items := make([]*QueueEntry, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.model())
	}
	return items, int(total), nil
}

func (r *queueRepoMongo) CountByStatus(ctx context.Context, f QueueFilter) (map[QueueStatus]int, error) {
	cur, err := r.queues.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: queueFilterDoc(f)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("count queue entries by status: %w", err)
	}
	var groups []struct {
		Status string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("decode status counts: %w", err)
	}
	counts := make(map[QueueStatus]int, len(groups))
	for _, g := range groups {
		counts[QueueStatus(g.Status)] = g.Count
	}
	return counts, nil
}
