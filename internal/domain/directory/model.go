package directory

import (
	"time"

	"github.com/google/uuid"
)

// Polyclinic maps to the polyclinics table: an outpatient clinic doctors
// hold schedules in.
type Polyclinic struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Doctor maps to the doctors table.
type Doctor struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Specialization string     `json:"specialization"`
	PolyclinicID   *uuid.UUID `json:"polyclinicId,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	Email          *string    `json:"email,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Patient maps to the patients table.
type Patient struct {
	ID                  uuid.UUID `json:"id"`
	MedicalRecordNumber string    `json:"medicalRecordNumber"`
	Name                string    `json:"name"`
	BirthDate           *string   `json:"birthDate,omitempty"`
	Gender              *string   `json:"gender,omitempty"`
	Phone               *string   `json:"phone,omitempty"`
	Address             *string   `json:"address,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Filter narrows list queries. Search matches names case-insensitively;
// for patients it also matches the medical record number.
type Filter struct {
	Search       string
	Active       *bool
	PolyclinicID *uuid.UUID
	Limit        int
	Offset       int
}
