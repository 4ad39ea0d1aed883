package directory

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/pkg/apperror"
)

// -- Mock Repositories --

type mockPolyclinicRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Polyclinic
}

func newMockPolyclinicRepo() *mockPolyclinicRepo {
	return &mockPolyclinicRepo{items: make(map[uuid.UUID]*Polyclinic)}
}

func (m *mockPolyclinicRepo) Create(_ context.Context, p *Polyclinic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Code == p.Code {
			return apperror.Conflict("polyclinic already exists")
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPolyclinicRepo) GetByID(_ context.Context, id uuid.UUID) (*Polyclinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFound("polyclinic %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockPolyclinicRepo) Update(_ context.Context, p *Polyclinic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[p.ID]; !ok {
		return apperror.NotFound("polyclinic %s not found", p.ID)
	}
	p.UpdatedAt = time.Now()
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPolyclinicRepo) Search(_ context.Context, f Filter) ([]*Polyclinic, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Polyclinic
	for _, p := range m.items {
		if f.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Search)) {
			continue
		}
		if f.Active != nil && p.Active != *f.Active {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	return result, len(result), nil
}

type mockDoctorRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Doctor
}

func newMockDoctorRepo() *mockDoctorRepo {
	return &mockDoctorRepo{items: make(map[uuid.UUID]*Doctor)}
}

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.items[d.ID] = &cp
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFound("doctor %s not found", id)
	}
	cp := *d
	return &cp, nil
}

func (m *mockDoctorRepo) Update(_ context.Context, d *Doctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[d.ID]; !ok {
		return apperror.NotFound("doctor %s not found", d.ID)
	}
	cp := *d
	m.items[d.ID] = &cp
	return nil
}

func (m *mockDoctorRepo) Search(_ context.Context, f Filter) ([]*Doctor, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Doctor
	for _, d := range m.items {
		if f.PolyclinicID != nil && (d.PolyclinicID == nil || *d.PolyclinicID != *f.PolyclinicID) {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	return result, len(result), nil
}

type mockPatientRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{items: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.MedicalRecordNumber == p.MedicalRecordNumber {
			return apperror.Conflict("patient already exists")
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFound("patient %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[p.ID]; !ok {
		return apperror.NotFound("patient %s not found", p.ID)
	}
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPatientRepo) Search(_ context.Context, f Filter) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Patient
	for _, p := range m.items {
		if f.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Search)) &&
			!strings.Contains(p.MedicalRecordNumber, f.Search) {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	return result, len(result), nil
}

func newTestService() *Service {
	return NewService(newMockPolyclinicRepo(), newMockDoctorRepo(), newMockPatientRepo())
}

// -- Polyclinic Tests --

func TestService_CreatePolyclinic_NormalisesCode(t *testing.T) {
	svc := newTestService()
	p := &Polyclinic{Code: "  cardio ", Name: "Cardiology", Active: true}
	if err := svc.CreatePolyclinic(context.Background(), p); err != nil {
		t.Fatalf("CreatePolyclinic: %v", err)
	}
	if p.Code != "CARDIO" {
		t.Errorf("expected code CARDIO, got %q", p.Code)
	}
	if p.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
}

func TestService_CreatePolyclinic_DuplicateCode(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if err := svc.CreatePolyclinic(ctx, &Polyclinic{Code: "GEN", Name: "General"}); err != nil {
		t.Fatal(err)
	}
	err := svc.CreatePolyclinic(ctx, &Polyclinic{Code: "gen", Name: "General 2"})
	if !apperror.Is(err, apperror.KindConflict) {
		t.Errorf("expected Conflict, got %v", err)
	}
}

func TestService_CreatePolyclinic_MissingName(t *testing.T) {
	svc := newTestService()
	err := svc.CreatePolyclinic(context.Background(), &Polyclinic{Code: "X", Name: "  "})
	if !apperror.Is(err, apperror.KindInvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestService_UpdatePolyclinic(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p := &Polyclinic{Code: "ENT", Name: "Ear Nose Throat", Active: true}
	if err := svc.CreatePolyclinic(ctx, p); err != nil {
		t.Fatal(err)
	}
	inactive := false
	name := "ENT Clinic"
	updated, err := svc.UpdatePolyclinic(ctx, p.ID, PolyclinicPatch{Name: &name, Active: &inactive})
	if err != nil {
		t.Fatalf("UpdatePolyclinic: %v", err)
	}
	if updated.Name != "ENT Clinic" || updated.Active {
		t.Errorf("unexpected polyclinic %+v", updated)
	}
	if updated.Code != "ENT" {
		t.Errorf("expected code to be kept, got %q", updated.Code)
	}
}

func TestService_UpdatePolyclinic_NotFound(t *testing.T) {
	svc := newTestService()
	_, err := svc.UpdatePolyclinic(context.Background(), uuid.New(), PolyclinicPatch{})
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

// -- Doctor Tests --

func TestService_CreateDoctor_WithPolyclinic(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	p := &Polyclinic{Code: "PED", Name: "Pediatrics"}
	if err := svc.CreatePolyclinic(ctx, p); err != nil {
		t.Fatal(err)
	}
	d := &Doctor{Name: "Dr. Ana", Specialization: "Pediatrics", PolyclinicID: &p.ID, Active: true}
	if err := svc.CreateDoctor(ctx, d); err != nil {
		t.Fatalf("CreateDoctor: %v", err)
	}
	if err := svc.EnsureDoctor(ctx, d.ID); err != nil {
		t.Errorf("EnsureDoctor: %v", err)
	}
}

func TestService_CreateDoctor_UnknownPolyclinic(t *testing.T) {
	svc := newTestService()
	missing := uuid.New()
	err := svc.CreateDoctor(context.Background(), &Doctor{Name: "Dr. Budi", PolyclinicID: &missing})
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestService_UpdateDoctor_RejectsEmptyName(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	d := &Doctor{Name: "Dr. Citra"}
	if err := svc.CreateDoctor(ctx, d); err != nil {
		t.Fatal(err)
	}
	empty := " "
	_, err := svc.UpdateDoctor(ctx, d.ID, DoctorPatch{Name: &empty})
	if !apperror.Is(err, apperror.KindInvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

// -- Patient Tests --

func TestService_CreatePatient_GeneratesMRN(t *testing.T) {
	svc := newTestService()
	p := &Patient{Name: "Siti"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if !regexp.MustCompile(`^MRN-[A-Z0-9]{8}$`).MatchString(p.MedicalRecordNumber) {
		t.Errorf("unexpected MRN %q", p.MedicalRecordNumber)
	}
}

func TestService_CreatePatient_KeepsGivenMRN(t *testing.T) {
	svc := newTestService()
	p := &Patient{Name: "Joko", MedicalRecordNumber: "MRN-EXISTING"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if p.MedicalRecordNumber != "MRN-EXISTING" {
		t.Errorf("expected MRN to be kept, got %q", p.MedicalRecordNumber)
	}
}

func TestService_EnsurePatient_NotFound(t *testing.T) {
	svc := newTestService()
	if err := svc.EnsurePatient(context.Background(), uuid.New()); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestService_ListPatients_Search(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	for _, name := range []string{"Andi", "Budi", "Andini"} {
		if err := svc.CreatePatient(ctx, &Patient{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	items, total, err := svc.ListPatients(ctx, Filter{Search: "and"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 matches, got %d", total)
	}
}
