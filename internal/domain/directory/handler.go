package directory

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medqueue/medqueue/internal/platform/auth"
	"github.com/medqueue/medqueue/internal/platform/validation"
	"github.com/medqueue/medqueue/pkg/apperror"
	"github.com/medqueue/medqueue/pkg/pagination"
	"github.com/medqueue/medqueue/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every staff role
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	readGroup.GET("/polyclinics", h.ListPolyclinics)
	readGroup.GET("/polyclinics/:id", h.GetPolyclinic)
	readGroup.GET("/doctors", h.ListDoctors)
	readGroup.GET("/doctors/:id", h.GetDoctor)
	readGroup.GET("/patients", h.ListPatients)
	readGroup.GET("/patients/:id", h.GetPatient)

	// Reference data – admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/polyclinics", h.CreatePolyclinic)
	adminGroup.PUT("/polyclinics/:id", h.UpdatePolyclinic)
	adminGroup.POST("/doctors", h.CreateDoctor)
	adminGroup.PUT("/doctors/:id", h.UpdateDoctor)

	// Patient registration – front desk
	regGroup := api.Group("", auth.RequireRole(auth.RoleReceptionist))
	regGroup.POST("/patients", h.CreatePatient)
	regGroup.PUT("/patients/:id", h.UpdatePatient)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.InvalidArgument("invalid id %q", c.Param("id"))
	}
	return id, nil
}

func listFilter(c echo.Context, p pagination.Params) (Filter, error) {
	f := Filter{Search: c.QueryParam("search"), Limit: p.Limit, Offset: p.Offset()}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return f, apperror.InvalidArgument("active must be true or false")
		}
		f.Active = &active
	}
	if v := c.QueryParam("polyclinicId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, apperror.InvalidArgument("invalid polyclinicId %q", v)
		}
		f.PolyclinicID = &id
	}
	return f, nil
}

// -- Polyclinic Handlers --

type polyclinicRequest struct {
	Code        string  `json:"code" validate:"required,max=20"`
	Name        string  `json:"name" validate:"required,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	Active      *bool   `json:"active"`
}

type polyclinicPatchRequest struct {
	Code        *string `json:"code" validate:"omitempty,min=1,max=20"`
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	Active      *bool   `json:"active"`
}

func (h *Handler) CreatePolyclinic(c echo.Context) error {
	var req polyclinicRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	p := &Polyclinic{Code: req.Code, Name: req.Name, Description: req.Description, Active: true}
	if req.Active != nil {
		p.Active = *req.Active
	}
	if err := h.svc.CreatePolyclinic(c.Request().Context(), p); err != nil {
		return err
	}
	return response.Created(c, "polyclinic created", p)
}

func (h *Handler) GetPolyclinic(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPolyclinic(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, p)
}

func (h *Handler) UpdatePolyclinic(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req polyclinicPatchRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.UpdatePolyclinic(c.Request().Context(), id, PolyclinicPatch{
		Code: req.Code, Name: req.Name, Description: req.Description, Active: req.Active,
	})
	if err != nil {
		return err
	}
	return response.Message(c, "polyclinic updated", p)
}

func (h *Handler) ListPolyclinics(c echo.Context) error {
	pg := pagination.FromContext(c)
	f, err := listFilter(c, pg)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListPolyclinics(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return response.Paged(c, items, pg, total)
}

// -- Doctor Handlers --

type doctorRequest struct {
	Name           string  `json:"name" validate:"required,max=100"`
	Specialization string  `json:"specialization" validate:"required,max=100"`
	PolyclinicID   *string `json:"polyclinicId" validate:"omitempty,uuid"`
	Phone          *string `json:"phone" validate:"omitempty,max=30"`
	Email          *string `json:"email" validate:"omitempty,email"`
	Active         *bool   `json:"active"`
}

type doctorPatchRequest struct {
	Name           *string `json:"name" validate:"omitempty,min=1,max=100"`
	Specialization *string `json:"specialization" validate:"omitempty,max=100"`
	PolyclinicID   *string `json:"polyclinicId" validate:"omitempty,uuid"`
	Phone          *string `json:"phone" validate:"omitempty,max=30"`
	Email          *string `json:"email" validate:"omitempty,email"`
	Active         *bool   `json:"active"`
}

func parseOptionalUUID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id := uuid.MustParse(*s)
	return &id
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req doctorRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	d := &Doctor{
		Name:           req.Name,
		Specialization: req.Specialization,
		PolyclinicID:   parseOptionalUUID(req.PolyclinicID),
		Phone:          req.Phone,
		Email:          req.Email,
		Active:         true,
	}
	if req.Active != nil {
		d.Active = *req.Active
	}
	if err := h.svc.CreateDoctor(c.Request().Context(), d); err != nil {
		return err
	}
	return response.Created(c, "doctor created", d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, d)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req doctorPatchRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	d, err := h.svc.UpdateDoctor(c.Request().Context(), id, DoctorPatch{
		Name:           req.Name,
		Specialization: req.Specialization,
		PolyclinicID:   parseOptionalUUID(req.PolyclinicID),
		Phone:          req.Phone,
		Email:          req.Email,
		Active:         req.Active,
	})
	if err != nil {
		return err
	}
	return response.Message(c, "doctor updated", d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	f, err := listFilter(c, pg)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListDoctors(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return response.Paged(c, items, pg, total)
}

// -- Patient Handlers --

type patientRequest struct {
	MedicalRecordNumber string  `json:"medicalRecordNumber" validate:"omitempty,max=30"`
	Name                string  `json:"name" validate:"required,max=100"`
	BirthDate           *string `json:"birthDate" validate:"omitempty,datetime=2006-01-02"`
	Gender              *string `json:"gender" validate:"omitempty,oneof=male female other unknown"`
	Phone               *string `json:"phone" validate:"omitempty,max=30"`
	Address             *string `json:"address" validate:"omitempty,max=255"`
}

type patientPatchRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=100"`
	BirthDate *string `json:"birthDate" validate:"omitempty,datetime=2006-01-02"`
	Gender    *string `json:"gender" validate:"omitempty,oneof=male female other unknown"`
	Phone     *string `json:"phone" validate:"omitempty,max=30"`
	Address   *string `json:"address" validate:"omitempty,max=255"`
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req patientRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	p := &Patient{
		MedicalRecordNumber: req.MedicalRecordNumber,
		Name:                req.Name,
		BirthDate:           req.BirthDate,
		Gender:              req.Gender,
		Phone:               req.Phone,
		Address:             req.Address,
	}
	if err := h.svc.CreatePatient(c.Request().Context(), p); err != nil {
		return err
	}
	return response.Created(c, "patient registered", p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req patientPatchRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), id, PatientPatch{
		Name: req.Name, BirthDate: req.BirthDate, Gender: req.Gender, Phone: req.Phone, Address: req.Address,
	})
	if err != nil {
		return err
	}
	return response.Message(c, "patient updated", p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	f, err := listFilter(c, pg)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListPatients(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return response.Paged(c, items, pg, total)
}
