package scheduling

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/pkg/apperror"
)

func TestBooking_CreateQueueEntry(t *testing.T) {
	f := newFixture(t)
	s := f.createSchedule(t, "09:00", "12:00", 5)

	e := f.book(t, s.ID)

	if e.QueueNumber != 1 {
		t.Errorf("expected queue number 1, got %d", e.QueueNumber)
	}
	if e.Status != QueueWaiting || e.Priority != PriorityNormal {
		t.Errorf("expected Waiting/Normal, got %s/%s", e.Status, e.Priority)
	}
	if e.QueueDate != testDate || e.DoctorID != f.doctor || e.PolyclinicID != f.polyclinic {
		t.Errorf("entry not denormalized from schedule: %+v", e)
	}
	if !regexp.MustCompile(`^Q-20240301-[A-Z0-9]{6}$`).MatchString(e.QueueID) {
		t.Errorf("unexpected queue id %q", e.QueueID)
	}
	if !e.RegisteredAt.Equal(fixedNow) {
		t.Errorf("expected registeredAt %s, got %s", fixedNow, e.RegisteredAt)
	}
	assertCounters(t, f.store.schedule(s.ID), 1, 4)

	f.booking.Wait()
	if f.notifier.count() != 1 || f.notifier.events[0] != EventQueueUpdated {
		t.Fatalf("expected one %s event, got %v", EventQueueUpdated, f.notifier.events)
	}
	snap, ok := f.notifier.last.(QueueSnapshot)
	if !ok {
		t.Fatalf("expected QueueSnapshot payload, got %T", f.notifier.last)
	}
	if snap.Date != testDate || len(snap.Queues) != 1 || snap.Queues[0].ID != e.ID {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestBooking_CreateQueueEntry_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture) BookingInput
		kind  apperror.Kind
	}{
		{
			name: "unknown schedule",
			setup: func(t *testing.T, f *fixture) BookingInput {
				return BookingInput{PatientID: f.patient, ScheduleID: uuid.New()}
			},
			kind: apperror.KindNotFound,
		},
		{
			name: "unknown patient",
			setup: func(t *testing.T, f *fixture) BookingInput {
				s := f.createSchedule(t, "09:00", "12:00", 5)
				return BookingInput{PatientID: uuid.New(), ScheduleID: s.ID}
			},
			kind: apperror.KindNotFound,
		},
		{
			name: "cancelled schedule",
			setup: func(t *testing.T, f *fixture) BookingInput {
				s := f.createSchedule(t, "09:00", "12:00", 5)
				if _, err := f.svc.CancelSchedule(context.Background(), s.ID); err != nil {
					t.Fatal(err)
				}
				return BookingInput{PatientID: f.patient, ScheduleID: s.ID}
			},
			kind: apperror.KindInvalidState,
		},
		{
			name: "completed schedule",
			setup: func(t *testing.T, f *fixture) BookingInput {
				s := f.createSchedule(t, "09:00", "12:00", 5)
				completed := ScheduleCompleted
				if _, err := f.svc.UpdateSchedule(context.Background(), s.ID, SchedulePatch{Status: &completed}); err != nil {
					t.Fatal(err)
				}
				return BookingInput{PatientID: f.patient, ScheduleID: s.ID}
			},
			kind: apperror.KindInvalidState,
		},
		{
			name: "unknown priority",
			setup: func(t *testing.T, f *fixture) BookingInput {
				s := f.createSchedule(t, "09:00", "12:00", 5)
				return BookingInput{PatientID: f.patient, ScheduleID: s.ID, Priority: "Critical"}
			},
			kind: apperror.KindInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := tt.setup(t, f)
			if _, err := f.booking.CreateQueueEntry(context.Background(), in); !apperror.Is(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestBooking_CapacityRestoredOnCancel(t *testing.T) {
	f := newFixture(t)
	s := f.createSchedule(t, "09:00", "12:00", 1)
	patientB := f.dir.add("patient")

	a := f.book(t, s.ID)
	if a.QueueNumber != 1 {
		t.Fatalf("expected queue number 1, got %d", a.QueueNumber)
	}

	_, err := f.booking.CreateQueueEntry(context.Background(), BookingInput{PatientID: patientB, ScheduleID: s.ID})
	if !apperror.Is(err, apperror.KindCapacityExceeded) {
		t.Fatalf("expected CapacityExceeded, got %v", err)
	}
	assertCounters(t, f.store.schedule(s.ID), 1, 0)

	if _, err := f.booking.CancelQueueEntry(context.Background(), a.ID); err != nil {
		t.Fatalf("CancelQueueEntry: %v", err)
	}
	assertCounters(t, f.store.schedule(s.ID), 0, 1)

	b, err := f.booking.CreateQueueEntry(context.Background(), BookingInput{PatientID: patientB, ScheduleID: s.ID})
	if err != nil {
		t.Fatalf("rebooking after cancel: %v", err)
	}
	if b.QueueNumber != 2 {
		t.Errorf("expected queue number 2 after cancel, got %d", b.QueueNumber)
	}
	assertCounters(t, f.store.schedule(s.ID), 1, 0)
}

func TestBooking_CancelTwiceRestoresOnce(t *testing.T) {
	f := newFixture(t)
	s := f.createSchedule(t, "09:00", "12:00", 3)
	e := f.book(t, s.ID)
	f.book(t, s.ID)

	cancelled, err := f.booking.CancelQueueEntry(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("CancelQueueEntry: %v", err)
	}
	if cancelled.Status != QueueCancelled || cancelled.EndedAt == nil {
		t.Errorf("expected Cancelled with endedAt, got %+v", cancelled)
	}

	if _, err := f.booking.CancelQueueEntry(context.Background(), e.ID); !apperror.Is(err, apperror.KindInvalidState) {
		t.Errorf("expected InvalidState on second cancel, got %v", err)
	}
	assertCounters(t, f.store.schedule(s.ID), 1, 2)
}

func TestBooking_ConcurrentBookingNeverOverbooks(t *testing.T) {
	f := newFixture(t)
	const slots, attempts = 10, 40
	s := f.createSchedule(t, "09:00", "12:00", slots)

	patients := make([]uuid.UUID, attempts)
	for i := range patients {
		patients[i] = f.dir.add("patient")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		numbers  = make(map[int]bool)
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(patient uuid.UUID) {
			defer wg.Done()
			e, err := f.booking.CreateQueueEntry(context.Background(), BookingInput{PatientID: patient, ScheduleID: s.ID})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !apperror.Is(err, apperror.KindCapacityExceeded) {
					t.Errorf("unexpected error: %v", err)
				}
				rejected++
				return
			}
			if numbers[e.QueueNumber] {
				t.Errorf("queue number %d issued twice", e.QueueNumber)
			}
			numbers[e.QueueNumber] = true
		}(patients[i])
	}
	wg.Wait()

	if len(numbers) != slots || rejected != attempts-slots {
		t.Errorf("expected %d bookings and %d rejections, got %d and %d", slots, attempts-slots, len(numbers), rejected)
	}
	for n := 1; n <= slots; n++ {
		if !numbers[n] {
			t.Errorf("queue number %d missing", n)
		}
	}
	assertCounters(t, f.store.schedule(s.ID), slots, 0)
}

func TestBooking_QueueNumbersIncrease(t *testing.T) {
	f := newFixture(t)
	s := f.createSchedule(t, "09:00", "12:00", 10)

	prev := 0
	for i := 0; i < 5; i++ {
		e := f.book(t, s.ID)
		if e.QueueNumber <= prev {
			t.Fatalf("queue number %d not greater than %d", e.QueueNumber, prev)
		}
		prev = e.QueueNumber
	}
}

func TestBooking_UpdateQueueStatus_Lifecycle(t *testing.T) {
	f := newFixture(t)
	s := f.createSchedule(t, "09:00", "12:00", 5)
	e := f.book(t, s.ID)

	started, err := f.booking.UpdateQueueStatus(context.Background(), e.ID, QueueInProgress)
	if err != nil {
		t.Fatalf("Waiting -> In Progress: %v", err)
	}
	if started.StartedAt == nil || started.CalledAt == nil {
		t.Error("expected startedAt and calledAt to be set")
	}

	done, err := f.booking.UpdateQueueStatus(context.Background(), e.ID, QueueCompleted)
	if err != nil {
		t.Fatalf("In Progress -> Completed: %v", err)
	}
	if done.EndedAt == nil {
		t.Error("expected endedAt to be set")
	}

	if _, err := f.booking.UpdateQueueStatus(context.Background(), e.ID, QueueWaiting); !apperror.Is(err, apperror.KindInvalidState) {
		t.Errorf("expected InvalidState leaving Completed, got %v", err)
	}
	if _, err := f.booking.CancelQueueEntry(context.Background(), e.ID); !apperror.Is(err, apperror.KindInvalidState) {
		t.Errorf("expected InvalidState cancelling Completed, got %v", err)
	}
	assertCounters(t, f.store.schedule(s.ID), 1, 4)
}

func TestBooking_UpdateQueueStatus_SkipRejected(t *testing.T) {
	f := newFixture(t)
	s := f.createSchedule(t, "09:00", "12:00", 5)
	e := f.book(t, s.ID)

	if _, err := f.booking.UpdateQueueStatus(context.Background(), e.ID, QueueCompleted); !apperror.Is(err, apperror.KindInvalidState) {
		t.Errorf("expected InvalidState for Waiting -> Completed, got %v", err)
	}
	stored, err := f.booking.GetQueueEntry(context.Background(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != QueueWaiting {
		t.Errorf("expected entry to stay Waiting, got %s", stored.Status)
	}
}

func TestBooking_UpdateQueueStatus_CancelledRestoresCapacity(t *testing.T) {
	f := newFixture(t)
	s := f.createSchedule(t, "09:00", "12:00", 5)
	e := f.book(t, s.ID)
	if _, err := f.booking.UpdateQueueStatus(context.Background(), e.ID, QueueInProgress); err != nil {
		t.Fatal(err)
	}

	if _, err := f.booking.UpdateQueueStatus(context.Background(), e.ID, QueueCancelled); err != nil {
		t.Fatalf("In Progress -> Cancelled: %v", err)
	}
	assertCounters(t, f.store.schedule(s.ID), 0, 5)
}

func TestBooking_NoShowKeepsSlot(t *testing.T) {
	f := newFixture(t)
	s := f.createSchedule(t, "09:00", "12:00", 5)
	e := f.book(t, s.ID)

	noShow, err := f.booking.UpdateQueueStatus(context.Background(), e.ID, QueueNoShow)
	if err != nil {
		t.Fatalf("Waiting -> No Show: %v", err)
	}
	if noShow.EndedAt == nil {
		t.Error("expected endedAt on No Show")
	}
	assertCounters(t, f.store.schedule(s.ID), 1, 4)

	if _, err := f.booking.CancelQueueEntry(context.Background(), e.ID); !apperror.Is(err, apperror.KindInvalidState) {
		t.Errorf("expected InvalidState cancelling No Show, got %v", err)
	}
	assertCounters(t, f.store.schedule(s.ID), 1, 4)
}

func TestBooking_CallQueueEntry(t *testing.T) {
	f := newFixture(t)
	s := f.createSchedule(t, "09:00", "12:00", 5)
	e := f.book(t, s.ID)

	called, err := f.booking.CallQueueEntry(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("CallQueueEntry: %v", err)
	}
	if called.Status != QueueWaiting || called.CalledAt == nil {
		t.Errorf("expected Waiting with calledAt, got %+v", called)
	}

	started, err := f.booking.UpdateQueueStatus(context.Background(), e.ID, QueueInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if !started.CalledAt.Equal(*called.CalledAt) {
		t.Error("expected calledAt to be preserved when starting")
	}

	if _, err := f.booking.CallQueueEntry(context.Background(), e.ID); !apperror.Is(err, apperror.KindInvalidState) {
		t.Errorf("expected InvalidState calling In Progress entry, got %v", err)
	}
}

func TestBooking_NotFound(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	if _, err := f.booking.GetQueueEntry(context.Background(), id); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("GetQueueEntry: expected NotFound, got %v", err)
	}
	if _, err := f.booking.UpdateQueueStatus(context.Background(), id, QueueInProgress); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("UpdateQueueStatus: expected NotFound, got %v", err)
	}
	if _, err := f.booking.CancelQueueEntry(context.Background(), id); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("CancelQueueEntry: expected NotFound, got %v", err)
	}
}

func TestBooking_ListQueuesDefaultsToToday(t *testing.T) {
	f := newFixture(t)
	today := f.createSchedule(t, "09:00", "12:00", 5)
	f.book(t, today.ID)

	tomorrow, err := f.svc.CreateSchedule(context.Background(), CreateScheduleInput{
		DoctorID: f.doctor, PolyclinicID: f.polyclinic, Date: "2024-03-02",
		StartTime: "09:00", EndTime: "12:00", TotalSlots: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.book(t, tomorrow.ID)

	views, total, err := f.booking.ListQueues(context.Background(), QueueFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(views) != 1 || views[0].QueueDate != testDate {
		t.Errorf("expected only today's entry, got %d", total)
	}

	views, _, err = f.booking.ListQueues(context.Background(), QueueFilter{Date: "2024-03-02"})
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].ScheduleID != tomorrow.ID {
		t.Errorf("expected tomorrow's entry, got %+v", views)
	}
}

func TestBooking_QueueStats(t *testing.T) {
	f := newFixture(t)
	s := f.createSchedule(t, "09:00", "12:00", 10)
	a := f.book(t, s.ID)
	b := f.book(t, s.ID)
	f.book(t, s.ID)
	if _, err := f.booking.UpdateQueueStatus(context.Background(), a.ID, QueueInProgress); err != nil {
		t.Fatal(err)
	}
	if _, err := f.booking.CancelQueueEntry(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}

	stats, err := f.booking.QueueStats(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Date != testDate || stats.Total != 3 {
		t.Errorf("expected 3 entries on %s, got %d on %s", testDate, stats.Total, stats.Date)
	}
	want := map[QueueStatus]int{
		QueueWaiting: 1, QueueInProgress: 1, QueueCompleted: 0, QueueCancelled: 1, QueueNoShow: 0,
	}
	for st, n := range want {
		got, ok := stats.ByStatus[st]
		if !ok {
			t.Errorf("status %s missing from stats", st)
		}
		if got != n {
			t.Errorf("status %s: expected %d, got %d", st, n, got)
		}
	}
}

func TestBooking_BroadcastFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("redis unavailable")
	s := f.createSchedule(t, "09:00", "12:00", 5)

	if _, err := f.booking.CreateQueueEntry(context.Background(), BookingInput{PatientID: f.patient, ScheduleID: s.ID}); err != nil {
		t.Fatalf("expected booking to succeed despite broadcast failure, got %v", err)
	}
	f.booking.Wait()
	if f.notifier.count() != 1 {
		t.Errorf("expected one publish attempt, got %d", f.notifier.count())
	}
}

func TestBooking_RejectedMutationDoesNotBroadcast(t *testing.T) {
	f := newFixture(t)
	s := f.createSchedule(t, "09:00", "12:00", 1)
	f.book(t, s.ID)
	f.booking.Wait()

	other := f.dir.add("patient")
	if _, err := f.booking.CreateQueueEntry(context.Background(), BookingInput{PatientID: other, ScheduleID: s.ID}); err == nil {
		t.Fatal("expected capacity error")
	}
	f.booking.Wait()
	if f.notifier.count() != 1 {
		t.Errorf("expected only the successful booking to broadcast, got %d events", f.notifier.count())
	}
}

func TestWaitTime(t *testing.T) {
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	now := created.Add(42*time.Minute + 30*time.Second)
	tests := []struct {
		status QueueStatus
		want   int
	}{
		{QueueWaiting, 42},
		{QueueInProgress, 42},
		{QueueNoShow, 42},
		{QueueCompleted, 0},
		{QueueCancelled, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			e := &QueueEntry{Status: tt.status, CreatedAt: created}
			if got := WaitTime(e, now); got != tt.want {
				t.Errorf("WaitTime() = %d, want %d", got, tt.want)
			}
		})
	}

	future := &QueueEntry{Status: QueueWaiting, CreatedAt: now.Add(time.Minute)}
	if got := WaitTime(future, now); got != 0 {
		t.Errorf("expected 0 for entry created after now, got %d", got)
	}
}
