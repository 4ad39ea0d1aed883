package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medqueue/medqueue/internal/platform/notification"
	"github.com/medqueue/medqueue/pkg/apperror"
)

// EventQueueUpdated is published after every queue mutation with the day's
// queue as payload.
const EventQueueUpdated = "queue:updated"

const defaultBroadcastTimeout = 5 * time.Second

// QueueSnapshot is the payload of EventQueueUpdated.
type QueueSnapshot struct {
	Date   string      `json:"date"`
	Queues []QueueView `json:"queues"`
}

// Booking creates queue entries against schedule capacity and drives them
// through their status lifecycle.
type Booking struct {
	queues    QueueRepository
	directory Directory
	notifier  notification.Notifier
	logger    zerolog.Logger
	clock     clock

	broadcastTimeout time.Duration
	inflight         sync.WaitGroup
}

func NewBooking(queues QueueRepository, directory Directory, notifier notification.Notifier,
	logger zerolog.Logger, loc *time.Location) *Booking {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Booking{
		queues:           queues,
		directory:        directory,
		notifier:         notifier,
		logger:           logger.With().Str("component", "booking").Logger(),
		clock:            newClock(loc),
		broadcastTimeout: defaultBroadcastTimeout,
	}
}

type BookingInput struct {
	PatientID  uuid.UUID
	ScheduleID uuid.UUID
	Notes      *string
	Priority   Priority
}

// CreateQueueEntry books the patient onto the schedule. The slot reservation,
// numbering and insert are a single store operation.
func (b *Booking) CreateQueueEntry(ctx context.Context, in BookingInput) (*QueueEntry, error) {
	priority, err := ParsePriority(string(in.Priority))
	if err != nil {
		return nil, err
	}
	if err := b.directory.EnsurePatient(ctx, in.PatientID); err != nil {
		return nil, err
	}

	now := b.clock.Now()
	entry := &QueueEntry{
		QueueID:      newQueueID(now),
		PatientID:    in.PatientID,
		ScheduleID:   in.ScheduleID,
		Status:       QueueWaiting,
		Priority:     priority,
		Notes:        in.Notes,
		RegisteredAt: now,
	}
	if _, err := b.queues.Book(ctx, entry); err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("queue_id", entry.QueueID).
		Str("schedule_id", entry.ScheduleID.String()).
		Int("queue_number", entry.QueueNumber).
		Msg("queue entry booked")
	b.broadcast()
	return entry, nil
}

// applyStatus moves e to next and stamps the lifecycle timestamps.
func applyStatus(e *QueueEntry, next QueueStatus, now time.Time) {
	switch next {
	case QueueInProgress:
		if e.CalledAt == nil {
			e.CalledAt = &now
		}
		e.StartedAt = &now
	case QueueCompleted, QueueCancelled, QueueNoShow:
		e.EndedAt = &now
	}
	e.Status = next
}

// UpdateQueueStatus applies one state machine transition. Moving to
// Cancelled goes through CancelQueueEntry so capacity is restored.
func (b *Booking) UpdateQueueStatus(ctx context.Context, id uuid.UUID, next QueueStatus) (*QueueEntry, error) {
	entry, err := b.queues.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if next == QueueCancelled {
		return b.cancel(ctx, entry)
	}
	if !entry.Status.CanTransitionTo(next) {
		return nil, apperror.InvalidState("cannot change queue entry status from %s to %s", entry.Status, next)
	}

	prev := entry.Status
	applyStatus(entry, next, b.clock.Now())
	if err := b.queues.Transition(ctx, entry, prev, false); err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("queue_id", entry.QueueID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("queue status changed")
	b.broadcast()
	return entry, nil
}

// CancelQueueEntry cancels a live entry and returns its slot to the
// schedule exactly once.
func (b *Booking) CancelQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	entry, err := b.queues.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.cancel(ctx, entry)
}

func (b *Booking) cancel(ctx context.Context, entry *QueueEntry) (*QueueEntry, error) {
	if entry.Status.IsTerminal() {
		return nil, apperror.InvalidState("queue entry is already %s, cannot cancel", entry.Status)
	}

	prev := entry.Status
	applyStatus(entry, QueueCancelled, b.clock.Now())
	if err := b.queues.Transition(ctx, entry, prev, true); err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("queue_id", entry.QueueID).
		Str("schedule_id", entry.ScheduleID.String()).
		Msg("queue entry cancelled")
	b.broadcast()
	return entry, nil
}

// CallQueueEntry records that a waiting patient has been called in.
func (b *Booking) CallQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	entry, err := b.queues.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != QueueWaiting {
		return nil, apperror.InvalidState("only %s entries can be called, entry is %s", QueueWaiting, entry.Status)
	}

	now := b.clock.Now()
	entry.CalledAt = &now
	if err := b.queues.Transition(ctx, entry, QueueWaiting, false); err != nil {
		return nil, err
	}
	b.broadcast()
	return entry, nil
}

func (b *Booking) GetQueueEntry(ctx context.Context, id uuid.UUID) (*QueueView, error) {
	entry, err := b.queues.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &QueueView{QueueEntry: entry, WaitingTime: WaitTime(entry, b.clock.Now())}, nil
}

// ListQueues lists queue entries, defaulting to today's.
func (b *Booking) ListQueues(ctx context.Context, f QueueFilter) ([]QueueView, int, error) {
	if f.Date == "" {
		f.Date = b.clock.Today()
	}
	entries, total, err := b.queues.Search(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return viewsOf(entries, b.clock.Now()), total, nil
}

// QueueStats counts a day's entries per status; every status is present.
func (b *Booking) QueueStats(ctx context.Context, date string) (*QueueStats, error) {
	if date == "" {
		date = b.clock.Today()
	}
	counts, err := b.queues.CountByStatus(ctx, QueueFilter{Date: date})
	if err != nil {
		return nil, err
	}
	stats := &QueueStats{Date: date, ByStatus: make(map[QueueStatus]int, len(AllQueueStatuses))}
	for _, st := range AllQueueStatuses {
		stats.ByStatus[st] = counts[st]
		stats.Total += counts[st]
	}
	return stats, nil
}

// broadcast publishes today's queue on its own goroutine. Failures are
// logged and dropped.
func (b *Booking) broadcast() {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), b.broadcastTimeout)
		defer cancel()

		now := b.clock.Now()
		today := now.Format(DateLayout)
		entries, _, err := b.queues.Search(ctx, QueueFilter{Date: today})
		if err != nil {
			b.logger.Warn().Err(err).Str("date", today).Msg("queue snapshot failed, skipping broadcast")
			return
		}
		snapshot := QueueSnapshot{Date: today, Queues: viewsOf(entries, now)}
		if err := b.notifier.Publish(ctx, EventQueueUpdated, snapshot); err != nil {
			b.logger.Warn().Err(err).Str("event", EventQueueUpdated).Msg("queue broadcast failed")
		}
	}()
}

// Wait blocks until in-flight broadcasts have finished.
func (b *Booking) Wait() {
	b.inflight.Wait()
}

// WaitTime is the number of whole minutes the entry has been in the queue.
// Completed and cancelled entries report zero.
func WaitTime(e *QueueEntry, now time.Time) int {
	if e.Status == QueueCompleted || e.Status == QueueCancelled {
		return 0
	}
	minutes := int(now.Sub(e.CreatedAt) / time.Minute)
	if minutes < 0 {
		return 0
	}
	return minutes
}

func viewsOf(entries []*QueueEntry, now time.Time) []QueueView {
	views := make([]QueueView, 0, len(entries))
	for _, e := range entries {
		views = append(views, QueueView{QueueEntry: e, WaitingTime: WaitTime(e, now)})
	}
	return views
}
