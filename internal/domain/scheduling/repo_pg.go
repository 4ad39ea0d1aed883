package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/pkg/apperror"
)

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

const schedCols = `id, schedule_id, doctor_id, polyclinic_id, to_char(schedule_date, 'YYYY-MM-DD'),
	start_time, end_time, total_slots, booked_slots, available_slots, status, notes, created_at, updated_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.ScheduleID, &s.DoctorID, &s.PolyclinicID, &s.Date,
		&s.StartTime, &s.EndTime, &s.TotalSlots, &s.BookedSlots, &s.AvailableSlots, &s.Status, &s.Notes,
		&s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func collectSchedules(rows pgx.Rows) ([]*Schedule, error) {
	defer rows.Close()
	var items []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	s.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO schedules (id, schedule_id, doctor_id, polyclinic_id, schedule_date, start_time, end_time,
			total_slots, booked_slots, available_slots, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		s.ID, s.ScheduleID, s.DoctorID, s.PolyclinicID, s.Date, s.StartTime, s.EndTime,
		s.TotalSlots, s.BookedSlots, s.AvailableSlots, s.Status, s.Notes).Scan(&s.CreatedAt, &s.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return &apperror.Error{Kind: apperror.KindConflict, Message: "schedule already exists", Err: err}
	}
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	s, err := scanSchedule(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+schedCols+` FROM schedules WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("schedule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return s, nil
}

func (r *scheduleRepoPG) lock(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	s, err := scanSchedule(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+schedCols+` FROM schedules WHERE id = $1 FOR UPDATE`, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("schedule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock schedule %s: %w", id, err)
	}
	return s, nil
}

func (r *scheduleRepoPG) Update(ctx context.Context, id uuid.UUID, fn func(s *Schedule) error) (*Schedule, error) {
	var out *Schedule
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		s, err := r.lock(ctx, id)
		if err != nil {
			return err
		}
		prevDate := s.Date
		if err := fn(s); err != nil {
			return err
		}
		q := db.Conn(ctx, r.pool)
		out, err = scanSchedule(q.QueryRow(ctx, `
			UPDATE schedules SET schedule_date = $2, start_time = $3, end_time = $4, total_slots = $5,
				available_slots = $5 - booked_slots, status = $6, notes = $7, updated_at = NOW()
			WHERE id = $1 AND booked_slots <= $5
			RETURNING `+schedCols,
			id, s.Date, s.StartTime, s.EndTime, s.TotalSlots, s.Status, s.Notes))
		if db.IsNoRows(err) {
			return apperror.InvalidArgument("totalSlots (%d) cannot be less than booked slots (%d)", s.TotalSlots, s.BookedSlots)
		}
		if err != nil {
			return fmt.Errorf("update schedule %s: %w", id, err)
		}
		if out.Date != prevDate {
			if _, err := q.Exec(ctx,
				`UPDATE queue_entries SET queue_date = $2, updated_at = NOW() WHERE schedule_id = $1`,
				id, out.Date); err != nil {
				return fmt.Errorf("move queue entries of schedule %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *scheduleRepoPG) Cancel(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	var out *Schedule
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.lock(ctx, id); err != nil {
			return err
		}
		q := db.Conn(ctx, r.pool)

		// Bookings take the schedule row lock first, so this count is stable.
		var entries int
		if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM queue_entries WHERE schedule_id = $1`, id).Scan(&entries); err != nil {
			return fmt.Errorf("count queue entries: %w", err)
		}
		if entries > 0 {
			return apperror.Conflict("cannot cancel schedule with %d existing queue entries", entries)
		}

		var err error
		out, err = scanSchedule(q.QueryRow(ctx, `
			UPDATE schedules SET status = $2, updated_at = NOW()
			WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM queue_entries WHERE schedule_id = $1)
			RETURNING `+schedCols, id, ScheduleCancelled))
		if db.IsNoRows(err) {
			return apperror.Conflict("cannot cancel schedule with existing queue entries")
		}
		if err != nil {
			return fmt.Errorf("cancel schedule %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *scheduleRepoPG) Search(ctx context.Context, f ScheduleFilter) ([]*Schedule, int, error) {
	w := db.NewWhere()
	if f.DoctorID != nil {
		w.Add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PolyclinicID != nil {
		w.Add("polyclinic_id = $%d", *f.PolyclinicID)
	}
	if f.Date != "" {
		w.Add("schedule_date = $%d", f.Date)
	}
	if f.Status != "" {
		w.Add("status = $%d", f.Status)
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM schedules`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}

	limit, args := w.Page(f.Limit, f.Offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+schedCols+` FROM schedules`+w.SQL()+` ORDER BY schedule_date DESC, start_time ASC`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}
	items, err := collectSchedules(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *scheduleRepoPG) FindOverlapping(ctx context.Context, doctorID uuid.UUID, date, start, end string, excludeID uuid.UUID) ([]*Schedule, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+schedCols+` FROM schedules
		WHERE doctor_id = $1 AND schedule_date = $2 AND start_time < $3 AND end_time > $4 AND id <> $5
		ORDER BY start_time`,
		doctorID, date, end, start, excludeID)
	if err != nil {
		return nil, fmt.Errorf("find overlapping schedules: %w", err)
	}
	return collectSchedules(rows)
}

// =========== Queue Repository ===========

type queueRepoPG struct{ pool *pgxpool.Pool }

func NewQueueRepoPG(pool *pgxpool.Pool) QueueRepository { return &queueRepoPG{pool: pool} }

const queueCols = `q.id, q.queue_id, q.patient_id, q.doctor_id, q.polyclinic_id, q.schedule_id, q.queue_number,
	to_char(q.queue_date, 'YYYY-MM-DD'), q.status, q.priority, q.notes, q.registered_at, q.called_at,
	q.started_at, q.ended_at, q.created_at, q.updated_at`

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	err := row.Scan(&e.ID, &e.QueueID, &e.PatientID, &e.DoctorID, &e.PolyclinicID, &e.ScheduleID, &e.QueueNumber,
		&e.QueueDate, &e.Status, &e.Priority, &e.Notes, &e.RegisteredAt, &e.CalledAt,
		&e.StartedAt, &e.EndedAt, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *queueRepoPG) Book(ctx context.Context, e *QueueEntry) (*Schedule, error) {
	var sched *Schedule
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)

		// The conditional update takes the schedule row lock, serialising
		// concurrent bookings on the same schedule.
		s, err := scanSchedule(q.QueryRow(ctx, `
			UPDATE schedules SET booked_slots = booked_slots + 1, available_slots = available_slots - 1,
				updated_at = NOW()
			WHERE id = $1 AND status = $2 AND available_slots > 0
			RETURNING `+schedCols, e.ScheduleID, ScheduleActive))
		if db.IsNoRows(err) {
			return r.bookingRejected(ctx, q, e.ScheduleID)
		}
		if err != nil {
			return fmt.Errorf("reserve slot: %w", err)
		}

		if err := q.QueryRow(ctx,
			`SELECT COALESCE(MAX(queue_number), 0) + 1 FROM queue_entries WHERE schedule_id = $1`,
			s.ID).Scan(&e.QueueNumber); err != nil {
			return fmt.Errorf("next queue number: %w", err)
		}

		e.ID = uuid.New()
		e.DoctorID = s.DoctorID
		e.PolyclinicID = s.PolyclinicID
		e.QueueDate = s.Date
		err = q.QueryRow(ctx, `
			INSERT INTO queue_entries (id, queue_id, patient_id, doctor_id, polyclinic_id, schedule_id, queue_number,
				queue_date, status, priority, notes, registered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING created_at, updated_at`,
			e.ID, e.QueueID, e.PatientID, e.DoctorID, e.PolyclinicID, e.ScheduleID, e.QueueNumber,
			e.QueueDate, e.Status, e.Priority, e.Notes, e.RegisteredAt).Scan(&e.CreatedAt, &e.UpdatedAt)
		if db.IsUniqueViolation(err) {
			return &apperror.Error{Kind: apperror.KindConflict, Message: "queue number already taken, retry the booking", Err: err}
		}
		if err != nil {
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

// bookingRejected explains why the conditional reservation matched no row.
func (r *queueRepoPG) bookingRejected(ctx context.Context, q db.Querier, scheduleID uuid.UUID) error {
	var status ScheduleStatus
	err := q.QueryRow(ctx, `SELECT status FROM schedules WHERE id = $1`, scheduleID).Scan(&status)
	if db.IsNoRows(err) {
		return apperror.NotFound("schedule %s not found", scheduleID)
	}
	if err != nil {
		return fmt.Errorf("get schedule %s: %w", scheduleID, err)
	}
	if status != ScheduleActive {
		return apperror.InvalidState("schedule is %s and does not accept bookings", status)
	}
	return apperror.CapacityExceeded("no available slots on this schedule")
}

func (r *queueRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	e, err := scanQueueEntry(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+queueCols+` FROM queue_entries q WHERE q.id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("queue entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry %s: %w", id, err)
	}
	return e, nil
}

func (r *queueRepoPG) Transition(ctx context.Context, e *QueueEntry, from QueueStatus, release bool) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		err := q.QueryRow(ctx, `
			UPDATE queue_entries SET status = $3, called_at = $4, started_at = $5, ended_at = $6, updated_at = NOW()
			WHERE id = $1 AND status = $2
			RETURNING updated_at`,
			e.ID, from, e.Status, e.CalledAt, e.StartedAt, e.EndedAt).Scan(&e.UpdatedAt)
		if db.IsNoRows(err) {
			var current QueueStatus
			err := q.QueryRow(ctx, `SELECT status FROM queue_entries WHERE id = $1`, e.ID).Scan(&current)
			if db.IsNoRows(err) {
				return apperror.NotFound("queue entry %s not found", e.ID)
			}
			if err != nil {
				return fmt.Errorf("get queue entry %s: %w", e.ID, err)
			}
			return apperror.InvalidState("queue entry is now %s, expected %s", current, from)
		}
		if err != nil {
			return fmt.Errorf("update queue entry %s: %w", e.ID, err)
		}

		if !release {
			return nil
		}
		tag, err := q.Exec(ctx, `
			UPDATE schedules SET booked_slots = booked_slots - 1, available_slots = available_slots + 1,
				updated_at = NOW()
			WHERE id = $1 AND booked_slots > 0`, e.ScheduleID)
		if err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperror.Internal(nil, "schedule %s has no booked slot to release", e.ScheduleID)
		}
		return nil
	})
}

func queueWhere(f QueueFilter) *db.Where {
	w := db.NewWhere()
	if f.Date != "" {
		w.Add("q.queue_date = $%d", f.Date)
	}
	if f.Status != "" {
		w.Add("q.status = $%d", f.Status)
	}
	if f.DoctorID != nil {
		w.Add("q.doctor_id = $%d", *f.DoctorID)
	}
	if f.PolyclinicID != nil {
		w.Add("q.polyclinic_id = $%d", *f.PolyclinicID)
	}
	if f.ScheduleID != nil {
		w.Add("q.schedule_id = $%d", *f.ScheduleID)
	}
	if f.PatientID != nil {
		w.Add("q.patient_id = $%d", *f.PatientID)
	}
	return w
}

func (r *queueRepoPG) Search(ctx context.Context, f QueueFilter) ([]*QueueEntry, int, error) {
	w := queueWhere(f)

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM queue_entries q`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue entries: %w", err)
	}

	limit, args := w.Page(f.Limit, f.Offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+queueCols+` FROM queue_entries q JOIN schedules s ON s.id = q.schedule_id`+w.SQL()+`
		ORDER BY q.queue_date, s.start_time, q.schedule_id, q.queue_number`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()
	var items []*QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *queueRepoPG) CountByStatus(ctx context.Context, f QueueFilter) (map[QueueStatus]int, error) {
	w := queueWhere(f)
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT q.status, COUNT(*) FROM queue_entries q`+w.SQL()+` GROUP BY q.status`, w.Args()...)
	if err != nil {
		return nil, fmt.Errorf("count queue entries by status: %w", err)
	}
	defer rows.Close()
	counts := make(map[QueueStatus]int)
	for rows.Next() {
		var status QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
