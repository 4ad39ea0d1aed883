package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// ScheduleRepository persists schedules. Implementations return
// *apperror.Error values for NotFound, Conflict and guard failures.
type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	// Update loads the schedule under a lock, applies fn and stores the
	// result in the same transaction. An error from fn aborts the update.
	// The stored slot counters are re-derived from bookedSlots. A date change
	// moves the schedule's queue entries to the new date in the same
	// transaction.
	Update(ctx context.Context, id uuid.UUID, fn func(s *Schedule) error) (*Schedule, error)
	// Cancel marks the schedule Cancelled. It fails with Conflict while any
	// queue entry references the schedule.
	Cancel(ctx context.Context, id uuid.UUID) (*Schedule, error)
	Search(ctx context.Context, f ScheduleFilter) ([]*Schedule, int, error)
	// FindOverlapping returns the doctor's schedules on date whose time range
	// intersects [start, end), ignoring excludeID. Cancelled schedules are
	// included.
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, date, start, end string, excludeID uuid.UUID) ([]*Schedule, error)
}

// QueueRepository persists queue entries and owns the capacity counters of
// the schedules they book against.
type QueueRepository interface {
	// Book reserves one slot on e.ScheduleID, numbers the entry after the
	// schedule's highest queue number and inserts it, as one atomic
	// operation. Doctor, polyclinic and queue date are copied from the
	// schedule. Fails with NotFound, InvalidState (schedule not Active) or
	// CapacityExceeded. Returns the schedule with updated counters.
	Book(ctx context.Context, e *QueueEntry) (*Schedule, error)
	GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	// Transition stores e's status and timestamps only if the stored status
	// still equals from; otherwise it fails with InvalidState. With release
	// set it also returns one slot to the schedule in the same operation.
	Transition(ctx context.Context, e *QueueEntry, from QueueStatus, release bool) error
	Search(ctx context.Context, f QueueFilter) ([]*QueueEntry, int, error)
	CountByStatus(ctx context.Context, f QueueFilter) (map[QueueStatus]int, error)
}
