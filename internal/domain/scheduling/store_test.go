package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/pkg/apperror"
)

// memStore is an in-memory implementation of both repositories. A single
// mutex makes every method one atomic operation, matching the transactional
// guarantees of the real stores.
type memStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*Schedule
	queues    map[uuid.UUID]*QueueEntry
}

func newMemStore() *memStore {
	return &memStore{
		schedules: make(map[uuid.UUID]*Schedule),
		queues:    make(map[uuid.UUID]*QueueEntry),
	}
}

func (m *memStore) scheduleRepo() ScheduleRepository { return memScheduleRepo{m} }
func (m *memStore) queueRepo() QueueRepository       { return memQueueRepo{m} }

// schedule returns a copy of the stored schedule for assertions.
func (m *memStore) schedule(id uuid.UUID) Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.schedules[id]
}

func (m *memStore) queueCount(scheduleID uuid.UUID) int {
	n := 0
	for _, e := range m.queues {
		if e.ScheduleID == scheduleID {
			n++
		}
	}
	return n
}

type memScheduleRepo struct{ *memStore }

func (r memScheduleRepo) Create(_ context.Context, s *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	r.schedules[s.ID] = &cp
	return nil
}

func (r memScheduleRepo) GetByID(_ context.Context, id uuid.UUID) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, apperror.NotFound("schedule %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (r memScheduleRepo) Update(_ context.Context, id uuid.UUID, fn func(s *Schedule) error) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.schedules[id]
	if !ok {
		return nil, apperror.NotFound("schedule %s not found", id)
	}
	cp := *stored
	if err := fn(&cp); err != nil {
		return nil, err
	}
	if cp.TotalSlots < stored.BookedSlots {
		return nil, apperror.InvalidArgument("totalSlots cannot be less than booked slots")
	}
	cp.BookedSlots = stored.BookedSlots
	cp.AvailableSlots = cp.TotalSlots - cp.BookedSlots
	cp.UpdatedAt = time.Now()
	if cp.Date != stored.Date {
		for _, e := range r.queues {
			if e.ScheduleID == id {
				e.QueueDate = cp.Date
				e.UpdatedAt = cp.UpdatedAt
			}
		}
	}
	r.schedules[id] = &cp
	out := cp
	return &out, nil
}

func (r memScheduleRepo) Cancel(_ context.Context, id uuid.UUID) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, apperror.NotFound("schedule %s not found", id)
	}
	if n := r.queueCount(id); n > 0 {
		return nil, apperror.Conflict("cannot cancel schedule with %d existing queue entries", n)
	}
	s.Status = ScheduleCancelled
	cp := *s
	return &cp, nil
}

func (r memScheduleRepo) Search(_ context.Context, f ScheduleFilter) ([]*Schedule, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*Schedule
	for _, s := range r.schedules {
		if f.DoctorID != nil && s.DoctorID != *f.DoctorID {
			continue
		}
		if f.PolyclinicID != nil && s.PolyclinicID != *f.PolyclinicID {
			continue
		}
		if f.Date != "" && s.Date != f.Date {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		cp := *s
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date > items[j].Date
		}
		return items[i].StartTime < items[j].StartTime
	})
	return page(items, f.Limit, f.Offset), len(items), nil
}

func (r memScheduleRepo) FindOverlapping(_ context.Context, doctorID uuid.UUID, date, start, end string, excludeID uuid.UUID) ([]*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*Schedule
	for _, s := range r.schedules {
		if s.ID == excludeID || s.DoctorID != doctorID || s.Date != date || !s.Overlaps(start, end) {
			continue
		}
		cp := *s
		items = append(items, &cp)
	}
	return items, nil
}

type memQueueRepo struct{ *memStore }

func (r memQueueRepo) Book(_ context.Context, e *QueueEntry) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[e.ScheduleID]
	if !ok {
		return nil, apperror.NotFound("schedule %s not found", e.ScheduleID)
	}
	if s.Status != ScheduleActive {
		return nil, apperror.InvalidState("schedule is %s and does not accept bookings", s.Status)
	}
	if s.AvailableSlots <= 0 {
		return nil, apperror.CapacityExceeded("no available slots on this schedule")
	}

	next := 1
	for _, existing := range r.queues {
		if existing.ScheduleID == s.ID && existing.QueueNumber >= next {
			next = existing.QueueNumber + 1
		}
	}
	s.BookedSlots++
	s.AvailableSlots--

	e.ID = uuid.New()
	e.QueueNumber = next
	e.DoctorID = s.DoctorID
	e.PolyclinicID = s.PolyclinicID
	e.QueueDate = s.Date
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	r.queues[e.ID] = &cp
	out := *s
	return &out, nil
}

func (r memQueueRepo) GetByID(_ context.Context, id uuid.UUID) (*QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.queues[id]
	if !ok {
		return nil, apperror.NotFound("queue entry %s not found", id)
	}
	cp := *e
	return &cp, nil
}

func (r memQueueRepo) Transition(_ context.Context, e *QueueEntry, from QueueStatus, release bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.queues[e.ID]
	if !ok {
		return apperror.NotFound("queue entry %s not found", e.ID)
	}
	if stored.Status != from {
		return apperror.InvalidState("queue entry is now %s, expected %s", stored.Status, from)
	}
	if release {
		s := r.schedules[e.ScheduleID]
		if s.BookedSlots <= 0 {
			return apperror.Internal(nil, "schedule has no booked slot to release")
		}
		s.BookedSlots--
		s.AvailableSlots++
	}
	e.UpdatedAt = time.Now()
	cp := *e
	r.queues[e.ID] = &cp
	return nil
}

func (r memQueueRepo) matching(f QueueFilter) []*QueueEntry {
	var items []*QueueEntry
	for _, e := range r.queues {
		if f.Date != "" && e.QueueDate != f.Date {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.DoctorID != nil && e.DoctorID != *f.DoctorID {
			continue
		}
		if f.PolyclinicID != nil && e.PolyclinicID != *f.PolyclinicID {
			continue
		}
		if f.ScheduleID != nil && e.ScheduleID != *f.ScheduleID {
			continue
		}
		if f.PatientID != nil && e.PatientID != *f.PatientID {
			continue
		}
		cp := *e
		items = append(items, &cp)
	}
	return items
}

func (r memQueueRepo) Search(_ context.Context, f QueueFilter) ([]*QueueEntry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.matching(f)
	sort.Slice(items, func(i, j int) bool {
		if items[i].ScheduleID != items[j].ScheduleID {
			return items[i].ScheduleID.String() < items[j].ScheduleID.String()
		}
		return items[i].QueueNumber < items[j].QueueNumber
	})
	return page(items, f.Limit, f.Offset), len(items), nil
}

func (r memQueueRepo) CountByStatus(_ context.Context, f QueueFilter) (map[QueueStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[QueueStatus]int)
	for _, e := range r.matching(f) {
		counts[e.Status]++
	}
	return counts, nil
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		return items
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// mockDirectory knows every id added to it.
type mockDirectory struct {
	mu    sync.Mutex
	known map[uuid.UUID]string
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{known: make(map[uuid.UUID]string)}
}

func (d *mockDirectory) add(kind string) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New()
	d.known[id] = kind
	return id
}

func (d *mockDirectory) ensure(kind string, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.known[id] != kind {
		return apperror.NotFound("%s %s not found", kind, id)
	}
	return nil
}

func (d *mockDirectory) EnsureDoctor(_ context.Context, id uuid.UUID) error {
	return d.ensure("doctor", id)
}

func (d *mockDirectory) EnsurePolyclinic(_ context.Context, id uuid.UUID) error {
	return d.ensure("polyclinic", id)
}

func (d *mockDirectory) EnsurePatient(_ context.Context, id uuid.UUID) error {
	return d.ensure("patient", id)
}

// recordingNotifier captures published events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	last   interface{}
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, event string, payload interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.last = payload
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}
