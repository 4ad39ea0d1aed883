package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/pkg/apperror"
)

// Directory resolves the reference data schedules and queue entries point
// at. Each method returns a NotFound error for unknown ids.
type Directory interface {
	EnsureDoctor(ctx context.Context, id uuid.UUID) error
	EnsurePolyclinic(ctx context.Context, id uuid.UUID) error
	EnsurePatient(ctx context.Context, id uuid.UUID) error
}

// clock decides what "now" and "today" mean for schedules and queues.
type clock struct {
	now func() time.Time
	loc *time.Location
}

func newClock(loc *time.Location) clock {
	if loc == nil {
		loc = time.Local
	}
	return clock{now: time.Now, loc: loc}
}

func (c clock) Now() time.Time { return c.now().In(c.loc) }

func (c clock) Today() string { return c.Now().Format(DateLayout) }

// Service implements schedule management.
type Service struct {
	schedules ScheduleRepository
	queues    QueueRepository
	directory Directory
	clock     clock
}

func NewService(schedules ScheduleRepository, queues QueueRepository, directory Directory, loc *time.Location) *Service {
	return &Service{schedules: schedules, queues: queues, directory: directory, clock: newClock(loc)}
}

type CreateScheduleInput struct {
	DoctorID     uuid.UUID
	PolyclinicID uuid.UUID
	Date         string
	StartTime    string
	EndTime      string
	TotalSlots   int
	Notes        *string
}

// SchedulePatch carries the fields an update may change; nil means keep.
type SchedulePatch struct {
	Date       *string
	StartTime  *string
	EndTime    *string
	TotalSlots *int
	Status     *ScheduleStatus
	Notes      *string
}

func validateWindow(date, start, end string) (time.Time, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, apperror.InvalidArgument("date must be YYYY-MM-DD, got %q", date)
	}
	if start >= end {
		return time.Time{}, apperror.InvalidArgument("startTime (%s) must be before endTime (%s)", start, end)
	}
	return day, nil
}

func (s *Service) checkOverlap(ctx context.Context, doctorID uuid.UUID, date, start, end string, exclude uuid.UUID) error {
	overlapping, err := s.schedules.FindOverlapping(ctx, doctorID, date, start, end, exclude)
	if err != nil {
		return err
	}
	if len(overlapping) > 0 {
		o := overlapping[0]
		return apperror.Conflict("doctor already has schedule %s from %s to %s on %s", o.ScheduleID, o.StartTime, o.EndTime, o.Date)
	}
	return nil
}

func (s *Service) CreateSchedule(ctx context.Context, in CreateScheduleInput) (*Schedule, error) {
	day, err := validateWindow(in.Date, in.StartTime, in.EndTime)
	if err != nil {
		return nil, err
	}
	if in.TotalSlots <= 0 {
		return nil, apperror.InvalidArgument("totalSlots must be greater than 0")
	}
	if err := s.directory.EnsureDoctor(ctx, in.DoctorID); err != nil {
		return nil, err
	}
	if err := s.directory.EnsurePolyclinic(ctx, in.PolyclinicID); err != nil {
		return nil, err
	}
	if err := s.checkOverlap(ctx, in.DoctorID, in.Date, in.StartTime, in.EndTime, uuid.Nil); err != nil {
		return nil, err
	}

	sched := &Schedule{
		ScheduleID:     newScheduleID(day),
		DoctorID:       in.DoctorID,
		PolyclinicID:   in.PolyclinicID,
		Date:           in.Date,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		TotalSlots:     in.TotalSlots,
		BookedSlots:    0,
		AvailableSlots: in.TotalSlots,
		Status:         ScheduleActive,
		Notes:          in.Notes,
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.schedules.GetByID(ctx, id)
}

// GetScheduleDetail returns the schedule with its queue in number order.
func (s *Service) GetScheduleDetail(ctx context.Context, id uuid.UUID) (*ScheduleDetail, error) {
	sched, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, _, err := s.queues.Search(ctx, QueueFilter{ScheduleID: &id})
	if err != nil {
		return nil, err
	}
	return &ScheduleDetail{Schedule: sched, Queues: viewsOf(entries, s.clock.Now())}, nil
}

func (s *Service) UpdateSchedule(ctx context.Context, id uuid.UUID, patch SchedulePatch) (*Schedule, error) {
	current, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != ScheduleActive {
		return nil, apperror.InvalidState("schedule is %s and can no longer be changed", current.Status)
	}
	if patch.Status != nil && *patch.Status != ScheduleCompleted && *patch.Status != ScheduleActive {
		return nil, apperror.InvalidArgument("status may only be set to %s; cancel the schedule instead", ScheduleCompleted)
	}
	if patch.TotalSlots != nil && *patch.TotalSlots <= 0 {
		return nil, apperror.InvalidArgument("totalSlots must be greater than 0")
	}

	date, start, end := current.Date, current.StartTime, current.EndTime
	if patch.Date != nil {
		date = *patch.Date
	}
	if patch.StartTime != nil {
		start = *patch.StartTime
	}
	if patch.EndTime != nil {
		end = *patch.EndTime
	}
	if date != current.Date || start != current.StartTime || end != current.EndTime {
		if _, err := validateWindow(date, start, end); err != nil {
			return nil, err
		}
		if err := s.checkOverlap(ctx, current.DoctorID, date, start, end, id); err != nil {
			return nil, err
		}
	}

	return s.schedules.Update(ctx, id, func(sched *Schedule) error {
		if sched.Status != ScheduleActive {
			return apperror.InvalidState("schedule is %s and can no longer be changed", sched.Status)
		}
		if patch.TotalSlots != nil {
			if *patch.TotalSlots < sched.BookedSlots {
				return apperror.InvalidArgument("totalSlots (%d) cannot be less than booked slots (%d)",
					*patch.TotalSlots, sched.BookedSlots)
			}
			sched.TotalSlots = *patch.TotalSlots
		}
		sched.Date, sched.StartTime, sched.EndTime = date, start, end
		if patch.Status != nil {
			sched.Status = *patch.Status
		}
		if patch.Notes != nil {
			sched.Notes = patch.Notes
		}
		sched.AvailableSlots = sched.TotalSlots - sched.BookedSlots
		return nil
	})
}

// CancelSchedule soft-cancels a schedule nobody has booked against.
func (s *Service) CancelSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.schedules.Cancel(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, f ScheduleFilter) ([]*Schedule, int, error) {
	return s.schedules.Search(ctx, f)
}
