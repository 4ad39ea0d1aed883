package directory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/pkg/apperror"
	"github.com/medqueue/medqueue/pkg/ident"
)

type Service struct {
	polyclinics PolyclinicRepository
	doctors     DoctorRepository
	patients    PatientRepository
}

func NewService(polyclinics PolyclinicRepository, doctors DoctorRepository, patients PatientRepository) *Service {
	return &Service{polyclinics: polyclinics, doctors: doctors, patients: patients}
}

// -- Polyclinic --

func (s *Service) CreatePolyclinic(ctx context.Context, p *Polyclinic) error {
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	p.Name = strings.TrimSpace(p.Name)
	if p.Code == "" || p.Name == "" {
		return apperror.InvalidArgument("polyclinic code and name are required")
	}
	return s.polyclinics.Create(ctx, p)
}

func (s *Service) GetPolyclinic(ctx context.Context, id uuid.UUID) (*Polyclinic, error) {
	return s.polyclinics.GetByID(ctx, id)
}

// PolyclinicPatch carries the fields an update may change; nil means keep.
type PolyclinicPatch struct {
	Code        *string
	Name        *string
	Description *string
	Active      *bool
}

func (s *Service) UpdatePolyclinic(ctx context.Context, id uuid.UUID, patch PolyclinicPatch) (*Polyclinic, error) {
	p, err := s.polyclinics.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Code != nil {
		p.Code = strings.ToUpper(strings.TrimSpace(*patch.Code))
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = patch.Description
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	if p.Code == "" || p.Name == "" {
		return nil, apperror.InvalidArgument("polyclinic code and name must not be empty")
	}
	if err := s.polyclinics.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPolyclinics(ctx context.Context, f Filter) ([]*Polyclinic, int, error) {
	return s.polyclinics.Search(ctx, f)
}

// -- Doctor --

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperror.InvalidArgument("doctor name is required")
	}
	if d.PolyclinicID != nil {
		if err := s.EnsurePolyclinic(ctx, *d.PolyclinicID); err != nil {
			return err
		}
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

type DoctorPatch struct {
	Name           *string
	Specialization *string
	PolyclinicID   *uuid.UUID
	Phone          *string
	Email          *string
	Active         *bool
}

func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, patch DoctorPatch) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		d.Name = strings.TrimSpace(*patch.Name)
		if d.Name == "" {
			return nil, apperror.InvalidArgument("doctor name must not be empty")
		}
	}
	if patch.Specialization != nil {
		d.Specialization = *patch.Specialization
	}
	if patch.PolyclinicID != nil {
		if err := s.EnsurePolyclinic(ctx, *patch.PolyclinicID); err != nil {
			return nil, err
		}
		d.PolyclinicID = patch.PolyclinicID
	}
	if patch.Phone != nil {
		d.Phone = patch.Phone
	}
	if patch.Email != nil {
		d.Email = patch.Email
	}
	if patch.Active != nil {
		d.Active = *patch.Active
	}
	if err := s.doctors.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) ListDoctors(ctx context.Context, f Filter) ([]*Doctor, int, error) {
	return s.doctors.Search(ctx, f)
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperror.InvalidArgument("patient name is required")
	}
	p.MedicalRecordNumber = strings.TrimSpace(p.MedicalRecordNumber)
	if p.MedicalRecordNumber == "" {
		p.MedicalRecordNumber = ident.Prefixed("MRN", 8)
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

type PatientPatch struct {
	Name      *string
	BirthDate *string
	Gender    *string
	Phone     *string
	Address   *string
}

func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, patch PatientPatch) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
		if p.Name == "" {
			return nil, apperror.InvalidArgument("patient name must not be empty")
		}
	}
	if patch.BirthDate != nil {
		p.BirthDate = patch.BirthDate
	}
	if patch.Gender != nil {
		p.Gender = patch.Gender
	}
	if patch.Phone != nil {
		p.Phone = patch.Phone
	}
	if patch.Address != nil {
		p.Address = patch.Address
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPatients(ctx context.Context, f Filter) ([]*Patient, int, error) {
	return s.patients.Search(ctx, f)
}

// -- Lookups used by scheduling --

// EnsureDoctor returns a NotFound error unless the doctor exists.
func (s *Service) EnsureDoctor(ctx context.Context, id uuid.UUID) error {
	_, err := s.doctors.GetByID(ctx, id)
	return err
}

// EnsurePolyclinic returns a NotFound error unless the polyclinic exists.
func (s *Service) EnsurePolyclinic(ctx context.Context, id uuid.UUID) error {
	_, err := s.polyclinics.GetByID(ctx, id)
	return err
}

// EnsurePatient returns a NotFound error unless the patient exists.
func (s *Service) EnsurePatient(ctx context.Context, id uuid.UUID) error {
	_, err := s.patients.GetByID(ctx, id)
	return err
}
