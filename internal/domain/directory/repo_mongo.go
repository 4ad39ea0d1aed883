package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/pkg/apperror"
)

const (
	polyclinicCollection = "polyclinics"
	doctorCollection     = "doctors"
	patientCollection    = "patients"
)

// IndexSpecs lists the indexes the directory collections need.
func IndexSpecs() []db.IndexSpec {
	return []db.IndexSpec{
		{Collection: polyclinicCollection, Models: []mongo.IndexModel{
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{Collection: doctorCollection, Models: []mongo.IndexModel{
			{Keys: bson.D{{Key: "polyclinicId", Value: 1}}},
			{Keys: bson.D{{Key: "name", Value: 1}}},
		}},
		{Collection: patientCollection, Models: []mongo.IndexModel{
			{Keys: bson.D{{Key: "medicalRecordNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "name", Value: 1}}},
		}},
	}
}

func mongoErr(err error, what string, id uuid.UUID) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return apperror.NotFound("%s %s not found", what, id)
	case db.IsDuplicateKey(err):
		return &apperror.Error{Kind: apperror.KindConflict, Message: what + " already exists", Err: err}
	default:
		return fmt.Errorf("%s %s: %w", what, id, err)
	}
}

func containsInsensitive(s string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}
}

func findOptions(f Filter) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit)).SetSkip(int64(f.Offset))
	}
	return opts
}

func parseID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

func optionalID(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func optionalUUID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

// =========== Polyclinic Repository ===========

type polyclinicDoc struct {
	ID          string    `bson:"_id"`
	Code        string    `bson:"code"`
	Name        string    `bson:"name"`
	Description *string   `bson:"description,omitempty"`
	Active      bool      `bson:"active"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func (d polyclinicDoc) model() *Polyclinic {
	return &Polyclinic{ID: parseID(d.ID), Code: d.Code, Name: d.Name, Description: d.Description,
		Active: d.Active, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

type polyclinicRepoMongo struct{ coll *mongo.Collection }

func NewPolyclinicRepoMongo(database *mongo.Database) PolyclinicRepository {
	return &polyclinicRepoMongo{coll: database.Collection(polyclinicCollection)}
}

func (r *polyclinicRepoMongo) Create(ctx context.Context, p *Polyclinic) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	_, err := r.coll.InsertOne(ctx, polyclinicDoc{ID: p.ID.String(), Code: p.Code, Name: p.Name,
		Description: p.Description, Active: p.Active, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt})
	return mongoErr(err, "polyclinic", p.ID)
}

func (r *polyclinicRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Polyclinic, error) {
	var doc polyclinicDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		return nil, mongoErr(err, "polyclinic", id)
	}
	return doc.model(), nil
}

func (r *polyclinicRepoMongo) Update(ctx context.Context, p *Polyclinic) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": p.ID.String()}, bson.M{"$set": bson.M{
		"code": p.Code, "name": p.Name, "description": p.Description, "active": p.Active, "updatedAt": p.UpdatedAt,
	}})
	if err != nil {
		return mongoErr(err, "polyclinic", p.ID)
	}
	if res.MatchedCount == 0 {
		return mongoErr(mongo.ErrNoDocuments, "polyclinic", p.ID)
	}
	return nil
}

func (r *polyclinicRepoMongo) Search(ctx context.Context, f Filter) ([]*Polyclinic, int, error) {
	filter := bson.M{}
	if f.Search != "" {
		filter["$or"] = bson.A{bson.M{"name": containsInsensitive(f.Search)}, bson.M{"code": containsInsensitive(f.Search)}}
	}
	if f.Active != nil {
		filter["active"] = *f.Active
	}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count polyclinics: %w", err)
	}
	cur, err := r.coll.Find(ctx, filter, findOptions(f))
	if err != nil {
		return nil, 0, fmt.Errorf("list polyclinics: %w", err)
	}
	var docs []polyclinicDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode polyclinics: %w", err)
	}
	items := make([]*Polyclinic, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.model())
	}
	return items, int(total), nil
}

// =========== Doctor Repository ===========

type doctorDoc struct {
	ID             string    `bson:"_id"`
	Name           string    `bson:"name"`
	Specialization string    `bson:"specialization"`
	PolyclinicID   *string   `bson:"polyclinicId,omitempty"`
	Phone          *string   `bson:"phone,omitempty"`
	Email          *string   `bson:"email,omitempty"`
	Active         bool      `bson:"active"`
	CreatedAt      time.Time `bson:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

func (d doctorDoc) model() *Doctor {
	return &Doctor{ID: parseID(d.ID), Name: d.Name, Specialization: d.Specialization,
		PolyclinicID: optionalUUID(d.PolyclinicID), Phone: d.Phone, Email: d.Email, Active: d.Active,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

type doctorRepoMongo struct{ coll *mongo.Collection }

func NewDoctorRepoMongo(database *mongo.Database) DoctorRepository {
	return &doctorRepoMongo{coll: database.Collection(doctorCollection)}
}

func (r *doctorRepoMongo) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	_, err := r.coll.InsertOne(ctx, doctorDoc{ID: d.ID.String(), Name: d.Name, Specialization: d.Specialization,
		PolyclinicID: optionalID(d.PolyclinicID), Phone: d.Phone, Email: d.Email, Active: d.Active,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt})
	return mongoErr(err, "doctor", d.ID)
}

func (r *doctorRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var doc doctorDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		return nil, mongoErr(err, "doctor", id)
	}
	return doc.model(), nil
}

func (r *doctorRepoMongo) Update(ctx context.Context, d *Doctor) error {
	d.UpdatedAt = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": d.ID.String()}, bson.M{"$set": bson.M{
		"name": d.Name, "specialization": d.Specialization, "polyclinicId": optionalID(d.PolyclinicID),
		"phone": d.Phone, "email": d.Email, "active": d.Active, "updatedAt": d.UpdatedAt,
	}})
	if err != nil {
		return mongoErr(err, "doctor", d.ID)
	}
	if res.MatchedCount == 0 {
		return mongoErr(mongo.ErrNoDocuments, "doctor", d.ID)
	}
	return nil
}

func (r *doctorRepoMongo) Search(ctx context.Context, f Filter) ([]*Doctor, int, error) {
	filter := bson.M{}
	if f.Search != "" {
		filter["$or"] = bson.A{bson.M{"name": containsInsensitive(f.Search)}, bson.M{"specialization": containsInsensitive(f.Search)}}
	}
	if f.Active != nil {
		filter["active"] = *f.Active
	}
	if f.PolyclinicID != nil {
		filter["polyclinicId"] = f.PolyclinicID.String()
	}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count doctors: %w", err)
	}
	cur, err := r.coll.Find(ctx, filter, findOptions(f))
	if err != nil {
		return nil, 0, fmt.Errorf("list doctors: %w", err)
	}
	var docs []doctorDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode doctors: %w", err)
	}
	items := make([]*Doctor, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.model())
	}
	return items, int(total), nil
}

// =========== Patient Repository ===========

type patientDoc struct {
	ID                  string    `bson:"_id"`
	MedicalRecordNumber string    `bson:"medicalRecordNumber"`
	Name                string    `bson:"name"`
	BirthDate           *string   `bson:"birthDate,omitempty"`
	Gender              *string   `bson:"gender,omitempty"`
	Phone               *string   `bson:"phone,omitempty"`
	Address             *string   `bson:"address,omitempty"`
	CreatedAt           time.Time `bson:"createdAt"`
	UpdatedAt           time.Time `bson:"updatedAt"`
}

func (d patientDoc) model() *Patient {
	return &Patient{ID: parseID(d.ID), MedicalRecordNumber: d.MedicalRecordNumber, Name: d.Name,
		BirthDate: d.BirthDate, Gender: d.Gender, Phone: d.Phone, Address: d.Address,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

type patientRepoMongo struct{ coll *mongo.Collection }

func NewPatientRepoMongo(database *mongo.Database) PatientRepository {
	return &patientRepoMongo{coll: database.Collection(patientCollection)}
}

func (r *patientRepoMongo) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	_, err := r.coll.InsertOne(ctx, patientDoc{ID: p.ID.String(), MedicalRecordNumber: p.MedicalRecordNumber,
		Name: p.Name, BirthDate: p.BirthDate, Gender: p.Gender, Phone: p.Phone, Address: p.Address,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt})
	return mongoErr(err, "patient", p.ID)
}

func (r *patientRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var doc patientDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		return nil, mongoErr(err, "patient", id)
	}
	return doc.model(), nil
}

func (r *patientRepoMongo) Update(ctx context.Context, p *Patient) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": p.ID.String()}, bson.M{"$set": bson.M{
		"name": p.Name, "birthDate": p.BirthDate, "gender": p.Gender, "phone": p.Phone,
		"address": p.Address, "updatedAt": p.UpdatedAt,
	}})
	if err != nil {
		return mongoErr(err, "patient", p.ID)
	}
	if res.MatchedCount == 0 {
		return mongoErr(mongo.ErrNoDocuments, "patient", p.ID)
	}
	return nil
}

func (r *patientRepoMongo) Search(ctx context.Context, f Filter) ([]*Patient, int, error) {
	filter := bson.M{}
	if f.Search != "" {
		filter["$or"] = bson.A{
			bson.M{"name": containsInsensitive(f.Search)},
			bson.M{"medicalRecordNumber": containsInsensitive(f.Search)},
		}
	}
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	cur, err := r.coll.Find(ctx, filter, findOptions(f))
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	var docs []patientDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode patients: %w", err)
	}
	items := make([]*Patient, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.model())
	}
	return items, int(total), nil
}
