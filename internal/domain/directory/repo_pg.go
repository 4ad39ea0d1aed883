package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/pkg/apperror"
)

func translate(err error, what string, id uuid.UUID) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return apperror.NotFound("%s %s not found", what, id)
	case db.IsUniqueViolation(err):
		return &apperror.Error{Kind: apperror.KindConflict, Message: what + " already exists", Err: err}
	default:
		return fmt.Errorf("%s %s: %w", what, id, err)
	}
}

// =========== Polyclinic Repository ===========

type polyclinicRepoPG struct{ pool *pgxpool.Pool }

func NewPolyclinicRepoPG(pool *pgxpool.Pool) PolyclinicRepository {
	return &polyclinicRepoPG{pool: pool}
}

const polyclinicCols = `id, code, name, description, active, created_at, updated_at`

func scanPolyclinic(row pgx.Row) (*Polyclinic, error) {
	var p Polyclinic
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *polyclinicRepoPG) Create(ctx context.Context, p *Polyclinic) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO polyclinics (id, code, name, description, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		p.ID, p.Code, p.Name, p.Description, p.Active).Scan(&p.CreatedAt, &p.UpdatedAt)
	return translate(err, "polyclinic", p.ID)
}

func (r *polyclinicRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Polyclinic, error) {
	p, err := scanPolyclinic(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+polyclinicCols+` FROM polyclinics WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, "polyclinic", id)
	}
	return p, nil
}

func (r *polyclinicRepoPG) Update(ctx context.Context, p *Polyclinic) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE polyclinics SET code = $2, name = $3, description = $4, active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Code, p.Name, p.Description, p.Active).Scan(&p.UpdatedAt)
	return translate(err, "polyclinic", p.ID)
}

func (r *polyclinicRepoPG) Search(ctx context.Context, f Filter) ([]*Polyclinic, int, error) {
	w := db.NewWhere()
	if f.Search != "" {
		w.Add("(name ILIKE $%[1]d OR code ILIKE $%[1]d)", "%"+f.Search+"%")
	}
	if f.Active != nil {
		w.Add("active = $%d", *f.Active)
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM polyclinics`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count polyclinics: %w", err)
	}

	limit, args := w.Page(f.Limit, f.Offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+polyclinicCols+` FROM polyclinics`+w.SQL()+` ORDER BY name`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list polyclinics: %w", err)
	}
	defer rows.Close()
	var items []*Polyclinic
	for rows.Next() {
		p, err := scanPolyclinic(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

const doctorCols = `id, name, specialization, polyclinic_id, phone, email, active, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialization, &d.PolyclinicID, &d.Phone, &d.Email,
		&d.Active, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctors (id, name, specialization, polyclinic_id, phone, email, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Specialization, d.PolyclinicID, d.Phone, d.Email, d.Active).Scan(&d.CreatedAt, &d.UpdatedAt)
	return translate(err, "doctor", d.ID)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, "doctor", id)
	}
	return d, nil
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE doctors SET name = $2, specialization = $3, polyclinic_id = $4, phone = $5,
			email = $6, active = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Name, d.Specialization, d.PolyclinicID, d.Phone, d.Email, d.Active).Scan(&d.UpdatedAt)
	return translate(err, "doctor", d.ID)
}

func (r *doctorRepoPG) Search(ctx context.Context, f Filter) ([]*Doctor, int, error) {
	w := db.NewWhere()
	if f.Search != "" {
		w.Add("(name ILIKE $%[1]d OR specialization ILIKE $%[1]d)", "%"+f.Search+"%")
	}
	if f.Active != nil {
		w.Add("active = $%d", *f.Active)
	}
	if f.PolyclinicID != nil {
		w.Add("polyclinic_id = $%d", *f.PolyclinicID)
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM doctors`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count doctors: %w", err)
	}

	limit, args := w.Page(f.Limit, f.Offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+doctorCols+` FROM doctors`+w.SQL()+` ORDER BY name`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

const patientCols = `id, medical_record_number, name, to_char(birth_date, 'YYYY-MM-DD'), gender, phone, address,
	created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MedicalRecordNumber, &p.Name, &p.BirthDate, &p.Gender, &p.Phone, &p.Address,
		&p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, medical_record_number, name, birth_date, gender, phone, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.MedicalRecordNumber, p.Name, p.BirthDate, p.Gender, p.Phone, p.Address).Scan(&p.CreatedAt, &p.UpdatedAt)
	return translate(err, "patient", p.ID)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if err != nil {
		return nil, translate(err, "patient", id)
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patients SET name = $2, birth_date = $3, gender = $4, phone = $5, address = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.BirthDate, p.Gender, p.Phone, p.Address).Scan(&p.UpdatedAt)
	return translate(err, "patient", p.ID)
}

func (r *patientRepoPG) Search(ctx context.Context, f Filter) ([]*Patient, int, error) {
	w := db.NewWhere()
	if f.Search != "" {
		w.Add("(name ILIKE $%[1]d OR medical_record_number ILIKE $%[1]d)", "%"+f.Search+"%")
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	limit, args := w.Page(f.Limit, f.Offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+patientCols+` FROM patients`+w.SQL()+` ORDER BY name`+limit, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
