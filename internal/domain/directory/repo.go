package directory

import (
	"context"

	"github.com/google/uuid"
)

// Repositories return *apperror.Error values of kind NotFound for missing
// rows and Conflict for unique violations.

type PolyclinicRepository interface {
	Create(ctx context.Context, p *Polyclinic) error
	GetByID(ctx context.Context, id uuid.UUID) (*Polyclinic, error)
	Update(ctx context.Context, p *Polyclinic) error
	Search(ctx context.Context, f Filter) ([]*Polyclinic, int, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	Search(ctx context.Context, f Filter) ([]*Doctor, int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Search(ctx context.Context, f Filter) ([]*Patient, int, error)
}
