package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/internal/domain/directory"
	"github.com/medqueue/medqueue/pkg/apperror"
)

func TestPolyclinicCRUD(t *testing.T) {
	forEachStore(t, func(t *testing.T, a *app) {
		ctx := context.Background()

		code := uniqueCode("card")
		p := &directory.Polyclinic{Code: code, Name: "Cardiology", Description: ptrStr("Heart clinic"), Active: true}
		if err := a.directory.CreatePolyclinic(ctx, p); err != nil {
			t.Fatalf("CreatePolyclinic: %v", err)
		}
		if p.ID == uuid.Nil || p.CreatedAt.IsZero() {
			t.Fatalf("expected id and timestamps, got %+v", p)
		}

		t.Run("DuplicateCode", func(t *testing.T) {
			dup := &directory.Polyclinic{Code: code, Name: "Other", Active: true}
			if err := a.directory.CreatePolyclinic(ctx, dup); !apperror.Is(err, apperror.KindConflict) {
				t.Errorf("expected Conflict, got %v", err)
			}
		})

		t.Run("Update", func(t *testing.T) {
			inactive := false
			updated, err := a.directory.UpdatePolyclinic(ctx, p.ID, directory.PolyclinicPatch{Active: &inactive})
			if err != nil {
				t.Fatalf("UpdatePolyclinic: %v", err)
			}
			if updated.Active || updated.Name != "Cardiology" {
				t.Errorf("unexpected polyclinic %+v", updated)
			}
		})

		t.Run("GetNotFound", func(t *testing.T) {
			if _, err := a.directory.GetPolyclinic(ctx, uuid.New()); !apperror.Is(err, apperror.KindNotFound) {
				t.Errorf("expected NotFound, got %v", err)
			}
		})
	})
}

func TestDoctorAndPatientSearch(t *testing.T) {
	forEachStore(t, func(t *testing.T, a *app) {
		ctx := context.Background()
		f := seed(t, ctx, a)

		doctors, total, err := a.directory.ListDoctors(ctx, directory.Filter{PolyclinicID: &f.polyclinic.ID, Search: "wijaya"})
		if err != nil {
			t.Fatalf("ListDoctors: %v", err)
		}
		if total != 1 || doctors[0].ID != f.doctor.ID {
			t.Errorf("expected the seeded doctor, got %d results", total)
		}

		got, err := a.directory.GetPatient(ctx, f.patient.ID)
		if err != nil {
			t.Fatalf("GetPatient: %v", err)
		}
		if got.BirthDate == nil || *got.BirthDate != "1990-04-12" {
			t.Errorf("expected birth date to round trip, got %v", got.BirthDate)
		}
		if got.MedicalRecordNumber == "" {
			t.Error("expected generated medical record number")
		}

		patients, _, err := a.directory.ListPatients(ctx, directory.Filter{Search: got.MedicalRecordNumber})
		if err != nil {
			t.Fatalf("ListPatients: %v", err)
		}
		if len(patients) != 1 || patients[0].ID != f.patient.ID {
			t.Errorf("expected search by medical record number to find the patient, got %d", len(patients))
		}
	})
}

func TestCreateDoctor_UnknownPolyclinic(t *testing.T) {
	forEachStore(t, func(t *testing.T, a *app) {
		ctx := context.Background()

		missing := uuid.New()
		d := &directory.Doctor{Name: "Dr. Nobody", Specialization: "None", PolyclinicID: &missing, Active: true}
		if err := a.directory.CreateDoctor(ctx, d); !apperror.Is(err, apperror.KindNotFound) {
			t.Errorf("expected NotFound, got %v", err)
		}
	})
}
