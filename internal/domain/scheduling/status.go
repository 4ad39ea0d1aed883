package scheduling

import "github.com/medqueue/medqueue/pkg/apperror"

type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "Active"
	ScheduleCancelled ScheduleStatus = "Cancelled"
	ScheduleCompleted ScheduleStatus = "Completed"
)

func ParseScheduleStatus(s string) (ScheduleStatus, error) {
	switch st := ScheduleStatus(s); st {
	case ScheduleActive, ScheduleCancelled, ScheduleCompleted:
		return st, nil
	}
	return "", apperror.InvalidArgument("unknown schedule status %q", s)
}

type QueueStatus string

const (
	QueueWaiting    QueueStatus = "Waiting"
	QueueInProgress QueueStatus = "In Progress"
	QueueCompleted  QueueStatus = "Completed"
	QueueCancelled  QueueStatus = "Cancelled"
	QueueNoShow     QueueStatus = "No Show"
)

// AllQueueStatuses lists statuses in display order.
var AllQueueStatuses = []QueueStatus{QueueWaiting, QueueInProgress, QueueCompleted, QueueCancelled, QueueNoShow}

// queueTransitions is the queue entry state machine. Statuses without an
// entry are terminal.
var queueTransitions = map[QueueStatus][]QueueStatus{
	QueueWaiting:    {QueueInProgress, QueueCancelled, QueueNoShow},
	QueueInProgress: {QueueCompleted, QueueCancelled},
}

func ParseQueueStatus(s string) (QueueStatus, error) {
	for _, st := range AllQueueStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", apperror.InvalidArgument("unknown queue status %q", s)
}

// IsTerminal reports whether no further transition is possible.
func (s QueueStatus) IsTerminal() bool {
	return len(queueTransitions[s]) == 0
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s QueueStatus) CanTransitionTo(next QueueStatus) bool {
	for _, allowed := range queueTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityNormal    Priority = "Normal"
	PriorityUrgent    Priority = "Urgent"
	PriorityEmergency Priority = "Emergency"
)

// ParsePriority maps the empty string to Normal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case "":
		return PriorityNormal, nil
	case PriorityNormal, PriorityUrgent, PriorityEmergency:
		return p, nil
	}
	return "", apperror.InvalidArgument("unknown priority %q", s)
}
