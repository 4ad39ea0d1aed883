package scheduling

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medqueue/medqueue/internal/platform/auth"
	"github.com/medqueue/medqueue/internal/platform/validation"
	"github.com/medqueue/medqueue/pkg/apperror"
	"github.com/medqueue/medqueue/pkg/pagination"
	"github.com/medqueue/medqueue/pkg/response"
)

type Handler struct {
	svc     *Service
	booking *Booking
}

func NewHandler(svc *Service, booking *Booking) *Handler {
	return &Handler{svc: svc, booking: booking}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every staff role
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	readGroup.GET("/schedules", h.ListSchedules)
	readGroup.GET("/schedules/:id", h.GetSchedule)
	readGroup.GET("/queues", h.ListQueues)
	readGroup.GET("/queues/stats", h.QueueStats)
	readGroup.GET("/queues/:id", h.GetQueueEntry)

	// Schedule management – admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/schedules", h.CreateSchedule)
	adminGroup.PUT("/schedules/:id", h.UpdateSchedule)
	adminGroup.DELETE("/schedules/:id", h.CancelSchedule)

	// Booking desk
	deskGroup := api.Group("", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse))
	deskGroup.POST("/queues", h.CreateQueueEntry)
	deskGroup.DELETE("/queues/:id", h.CancelQueueEntry)

	// Status changes
	statusGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	statusGroup.PUT("/queues/:id/status", h.UpdateQueueStatus)

	// Consultation room
	roomGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	roomGroup.POST("/queues/:id/call", h.CallQueueEntry)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.InvalidArgument("invalid id %q", c.Param("id"))
	}
	return id, nil
}

// optionalUUID parses an already validated, possibly empty, uuid string.
func optionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id := uuid.MustParse(s)
	return &id
}

// -- Schedule Handlers --

type createScheduleRequest struct {
	DoctorID     string  `json:"doctorId" validate:"required,uuid"`
	PolyclinicID string  `json:"polyclinicId" validate:"required,uuid"`
	Date         string  `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime    string  `json:"startTime" validate:"required,clock"`
	EndTime      string  `json:"endTime" validate:"required,clock"`
	TotalSlots   int     `json:"totalSlots" validate:"required,min=1,max=500"`
	Notes        *string `json:"notes" validate:"omitempty,max=500"`
}

type updateScheduleRequest struct {
	Date       *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime  *string `json:"startTime" validate:"omitempty,clock"`
	EndTime    *string `json:"endTime" validate:"omitempty,clock"`
	TotalSlots *int    `json:"totalSlots" validate:"omitempty,min=1,max=500"`
	Status     *string `json:"status" validate:"omitempty,oneof=Active Completed"`
	Notes      *string `json:"notes" validate:"omitempty,max=500"`
}

type scheduleQuery struct {
	DoctorID     string `query:"doctorId" validate:"omitempty,uuid"`
	PolyclinicID string `query:"polyclinicId" validate:"omitempty,uuid"`
	Date         string `query:"date" validate:"omitempty,datetime=2006-01-02"`
	Status       string `query:"status" validate:"omitempty,oneof=Active Cancelled Completed"`
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	var req createScheduleRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	sched, err := h.svc.CreateSchedule(c.Request().Context(), CreateScheduleInput{
		DoctorID:     uuid.MustParse(req.DoctorID),
		PolyclinicID: uuid.MustParse(req.PolyclinicID),
		Date:         req.Date,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		TotalSlots:   req.TotalSlots,
		Notes:        req.Notes,
	})
	if err != nil {
		return err
	}
	return response.Created(c, "schedule created", sched)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	detail, err := h.svc.GetScheduleDetail(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, detail)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req updateScheduleRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	patch := SchedulePatch{
		Date:       req.Date,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		TotalSlots: req.TotalSlots,
		Notes:      req.Notes,
	}
	if req.Status != nil {
		st := ScheduleStatus(*req.Status)
		patch.Status = &st
	}
	sched, err := h.svc.UpdateSchedule(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return response.Message(c, "schedule updated", sched)
}

func (h *Handler) CancelSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	sched, err := h.svc.CancelSchedule(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.Message(c, "schedule cancelled", sched)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	var q scheduleQuery
	if err := validation.BindAndValidate(c, &q); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSchedules(c.Request().Context(), ScheduleFilter{
		DoctorID:     optionalUUID(q.DoctorID),
		PolyclinicID: optionalUUID(q.PolyclinicID),
		Date:         q.Date,
		Status:       ScheduleStatus(q.Status),
		Limit:        pg.Limit,
		Offset:       pg.Offset(),
	})
	if err != nil {
		return err
	}
	return response.Paged(c, items, pg, total)
}

// -- Queue Handlers --

type createQueueRequest struct {
	PatientID  string  `json:"patientId" validate:"required,uuid"`
	ScheduleID string  `json:"scheduleId" validate:"required,uuid"`
	Notes      *string `json:"notes" validate:"omitempty,max=500"`
	Priority   string  `json:"priority" validate:"omitempty,oneof=Normal Urgent Emergency"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof='Waiting' 'In Progress' 'Completed' 'Cancelled' 'No Show'"`
}

type queueQuery struct {
	Date         string `query:"date" validate:"omitempty,datetime=2006-01-02"`
	Status       string `query:"status" validate:"omitempty,oneof='Waiting' 'In Progress' 'Completed' 'Cancelled' 'No Show'"`
	DoctorID     string `query:"doctorId" validate:"omitempty,uuid"`
	PolyclinicID string `query:"polyclinicId" validate:"omitempty,uuid"`
	ScheduleID   string `query:"scheduleId" validate:"omitempty,uuid"`
	PatientID    string `query:"patientId" validate:"omitempty,uuid"`
}

func (h *Handler) CreateQueueEntry(c echo.Context) error {
	var req createQueueRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	entry, err := h.booking.CreateQueueEntry(c.Request().Context(), BookingInput{
		PatientID:  uuid.MustParse(req.PatientID),
		ScheduleID: uuid.MustParse(req.ScheduleID),
		Notes:      req.Notes,
		Priority:   Priority(req.Priority),
	})
	if err != nil {
		return err
	}
	return response.Created(c, "queue entry created", QueueView{QueueEntry: entry})
}

func (h *Handler) GetQueueEntry(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	view, err := h.booking.GetQueueEntry(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, view)
}

func (h *Handler) UpdateQueueStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req updateStatusRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	status, err := ParseQueueStatus(req.Status)
	if err != nil {
		return err
	}
	entry, err := h.booking.UpdateQueueStatus(c.Request().Context(), id, status)
	if err != nil {
		return err
	}
	return response.Message(c, "queue status updated", h.view(entry))
}

func (h *Handler) CallQueueEntry(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	entry, err := h.booking.CallQueueEntry(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.Message(c, "patient called", h.view(entry))
}

func (h *Handler) CancelQueueEntry(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	entry, err := h.booking.CancelQueueEntry(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.Message(c, "queue entry cancelled", h.view(entry))
}

func (h *Handler) ListQueues(c echo.Context) error {
	var q queueQuery
	if err := validation.BindAndValidate(c, &q); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.booking.ListQueues(c.Request().Context(), QueueFilter{
		Date:         q.Date,
		Status:       QueueStatus(q.Status),
		DoctorID:     optionalUUID(q.DoctorID),
		PolyclinicID: optionalUUID(q.PolyclinicID),
		ScheduleID:   optionalUUID(q.ScheduleID),
		PatientID:    optionalUUID(q.PatientID),
		Limit:        pg.Limit,
		Offset:       pg.Offset(),
	})
	if err != nil {
		return err
	}
	return response.Paged(c, items, pg, total)
}

func (h *Handler) QueueStats(c echo.Context) error {
	var q struct {
		Date string `query:"date" validate:"omitempty,datetime=2006-01-02"`
	}
	if err := validation.BindAndValidate(c, &q); err != nil {
		return err
	}
	stats, err := h.booking.QueueStats(c.Request().Context(), q.Date)
	if err != nil {
		return err
	}
	return response.OK(c, stats)
}

func (h *Handler) view(e *QueueEntry) QueueView {
	return QueueView{QueueEntry: e, WaitingTime: WaitTime(e, h.booking.clock.Now())}
}
