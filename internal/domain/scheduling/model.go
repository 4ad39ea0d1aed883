package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/pkg/ident"
)

// Schedule maps to the schedules table: one doctor's practice session at a
// polyclinic on a given date, with a fixed number of queue slots.
type Schedule struct {
	ID             uuid.UUID      `json:"id"`
	ScheduleID     string         `json:"scheduleId"`
	DoctorID       uuid.UUID      `json:"doctorId"`
	PolyclinicID   uuid.UUID      `json:"polyclinicId"`
	Date           string         `json:"date"`
	StartTime      string         `json:"startTime"`
	EndTime        string         `json:"endTime"`
	TotalSlots     int            `json:"totalSlots"`
	BookedSlots    int            `json:"bookedSlots"`
	AvailableSlots int            `json:"availableSlots"`
	Status         ScheduleStatus `json:"status"`
	Notes          *string        `json:"notes,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Overlaps reports whether the half-open ranges [start, end) intersect.
// Times are zero-padded HH:MM so lexical order is chronological order.
func (s *Schedule) Overlaps(start, end string) bool {
	return s.StartTime < end && s.EndTime > start
}

// QueueEntry maps to the queue_entries table: one patient's ticket against
// one schedule.
type QueueEntry struct {
	ID           uuid.UUID   `json:"id"`
	QueueID      string      `json:"queueId"`
	PatientID    uuid.UUID   `json:"patientId"`
	DoctorID     uuid.UUID   `json:"doctorId"`
	PolyclinicID uuid.UUID   `json:"polyclinicId"`
	ScheduleID   uuid.UUID   `json:"scheduleId"`
	QueueNumber  int         `json:"queueNumber"`
	QueueDate    string      `json:"queueDate"`
	Status       QueueStatus `json:"status"`
	Priority     Priority    `json:"priority"`
	Notes        *string     `json:"notes,omitempty"`
	RegisteredAt time.Time   `json:"registeredAt"`
	CalledAt     *time.Time  `json:"calledAt,omitempty"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	EndedAt      *time.Time  `json:"endedAt,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// QueueView is a queue entry as returned to clients, with the computed
// waiting time in minutes.
type QueueView struct {
	*QueueEntry
	WaitingTime int `json:"waitingTime"`
}

// ScheduleDetail is a schedule together with its queue.
type ScheduleDetail struct {
	*Schedule
	Queues []QueueView `json:"queues"`
}

// QueueStats summarises one day's queue.
type QueueStats struct {
	Date     string              `json:"date"`
	Total    int                 `json:"total"`
	ByStatus map[QueueStatus]int `json:"byStatus"`
}

// ScheduleFilter narrows schedule listings. Zero values mean no constraint.
type ScheduleFilter struct {
	DoctorID     *uuid.UUID
	PolyclinicID *uuid.UUID
	Date         string
	Status       ScheduleStatus
	Limit        int
	Offset       int
}

// QueueFilter narrows queue listings. A zero Limit returns every match.
type QueueFilter struct {
	Date         string
	Status       QueueStatus
	DoctorID     *uuid.UUID
	PolyclinicID *uuid.UUID
	ScheduleID   *uuid.UUID
	PatientID    *uuid.UUID
	Limit        int
	Offset       int
}

// DateLayout is the calendar date format used for schedule and queue dates.
const DateLayout = "2006-01-02"

func newScheduleID(t time.Time) string { return ident.Dated("SCH", t) }

func newQueueID(t time.Time) string { return ident.Dated("Q", t) }
