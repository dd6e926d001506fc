// Package handlers exposes the scheduling engine over HTTP.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/clinicbook/clinicbook/libs/httpx"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/scheduling"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// Request defaults applied only when a field is omitted.
const (
	defaultDurationMinutes = 30
	defaultWorkStartHour   = 9
	defaultWorkEndHour     = 17
)

type Handler struct {
	svc    *scheduling.Service
	logger *zap.Logger
	retry  scheduling.RetryPolicy
}

func NewHandler(svc *scheduling.Service, logger *zap.Logger, retry scheduling.RetryPolicy) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger, retry: retry}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/doctors/:doctor_id/availability", h.Availability)
	g.POST("/appointments/check-conflict", h.CheckConflict)
	g.POST("/appointments", h.Book)
	g.GET("/appointments/:id", h.Get)
	g.GET("/appointments/:id/reminders", h.Reminders)

	g.POST("/appointments/:id/confirm", h.Confirm)
	g.POST("/appointments/:id/check-in", h.CheckIn)
	g.POST("/appointments/:id/start", h.StartConsultation)
	g.POST("/appointments/:id/complete", h.Complete)
	g.POST("/appointments/:id/cancel", h.Cancel)
	g.POST("/appointments/:id/no-show", h.MarkNoShow)
	g.POST("/appointments/:id/reschedule", h.Reschedule)

	g.GET("/queue", h.Queue)

	staff := g.Group("", httpx.RequireRole("staff", "admin"))
	staff.POST("/queue/reorder", h.Reorder)
	staff.DELETE("/appointments/:id", h.Delete)
}

type appointmentResponse struct {
	ID                 string  `json:"id"`
	DoctorID           string  `json:"doctor_id"`
	PatientID          string  `json:"patient_id"`
	PatientLabel       string  `json:"patient_label"`
	Start              string  `json:"start"`
	End                string  `json:"end"`
	DurationMinutes    int     `json:"duration_minutes"`
	Type               string  `json:"appointment_type"`
	Urgency            string  `json:"urgency"`
	IsWalkIn           bool    `json:"is_walk_in"`
	Reason             string  `json:"reason,omitempty"`
	Status             string  `json:"status"`
	QueueOrder         int     `json:"queue_order"`
	CheckedInAt        *string `json:"checked_in_at,omitempty"`
	CheckedOutAt       *string `json:"checked_out_at,omitempty"`
	CancelledAt        *string `json:"cancelled_at,omitempty"`
	CancelledBy        string  `json:"cancelled_by,omitempty"`
	CancellationReason string  `json:"cancellation_reason,omitempty"`
	ReminderSentAt     *string `json:"reminder_sent_at,omitempty"`
	RescheduledFrom    string  `json:"rescheduled_from,omitempty"`
	DeletedAt          *string `json:"deleted_at,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

type conflictItem struct {
	ID              string `json:"id"`
	PatientLabel    string `json:"patient_label"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"duration_minutes"`
}

type reminderResponse struct {
	ID        string  `json:"id"`
	Channel   string  `json:"channel"`
	Recipient string  `json:"recipient,omitempty"`
	RemindAt  string  `json:"remind_at"`
	Status    string  `json:"status"`
	Attempts  int     `json:"attempts"`
	LastError string  `json:"last_error,omitempty"`
	SentAt    *string `json:"sent_at,omitempty"`
}

func (h *Handler) Availability(c echo.Context) error {
	doctorID := strings.TrimSpace(c.Param("doctor_id"))
	req := scheduling.AvailabilityRequest{
		DoctorID:        doctorID,
		DurationMinutes: defaultDurationMinutes,
		WorkStartHour:   defaultWorkStartHour,
		WorkEndHour:     defaultWorkEndHour,
	}
	if err := echo.QueryParamsBinder(c).
		Int("duration_minutes", &req.DurationMinutes).
		Int("work_start", &req.WorkStartHour).
		Int("work_end", &req.WorkEndHour).
		Int("step_minutes", &req.StepMinutes).
		BindError(); err != nil {
		return h.respondError(c, badRequest(bindField(err), "must be an integer"))
	}
	raw := strings.TrimSpace(c.QueryParam("date"))
	if raw == "" {
		return h.respondError(c, badRequest("date", "required"))
	}
	day, err := h.parseDay(raw)
	if err != nil {
		return h.respondError(c, err)
	}
	req.Day = day

	starts, err := h.svc.Availability(c.Request().Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}
	out := make([]string, 0, len(starts))
	for _, t := range starts {
		out = append(out, h.format(t))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"doctor_id":        doctorID,
		"date":             day.Format(time.DateOnly),
		"duration_minutes": req.DurationMinutes,
		"slots":            out,
	})
}

type checkConflictRequest struct {
	DoctorID        string `json:"doctor_id"`
	Start           string `json:"start"`
	DurationMinutes *int   `json:"duration_minutes"`
}

func (h *Handler) CheckConflict(c echo.Context) error {
	var req checkConflictRequest
	if err := c.Bind(&req); err != nil {
		return h.respondError(c, badRequest("", "invalid json body"))
	}
	if strings.TrimSpace(req.DoctorID) == "" {
		return h.respondError(c, badRequest("doctor_id", "required"))
	}
	start, err := h.parseTime("start", req.Start)
	if err != nil {
		return h.respondError(c, err)
	}
	minutes := defaultDurationMinutes
	if req.DurationMinutes != nil {
		minutes = *req.DurationMinutes
	}

	conflicts, err := h.svc.Conflicting(c.Request().Context(), strings.TrimSpace(req.DoctorID), start, minutes)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"has_conflict": len(conflicts) > 0,
		"conflicting":  h.conflictItems(conflicts),
	})
}

type bookRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	Start           string `json:"start"`
	DurationMinutes *int   `json:"duration_minutes"`
	Type            string `json:"appointment_type"`
	Urgency         string `json:"urgency"`
	Reason          string `json:"reason"`
	IsWalkIn        bool   `json:"is_walk_in"`
}

func (h *Handler) Book(c echo.Context) error {
	var body bookRequest
	if err := c.Bind(&body); err != nil {
		return h.respondError(c, badRequest("", "invalid json body"))
	}
	start, err := h.parseTime("start", body.Start)
	if err != nil {
		return h.respondError(c, err)
	}
	req := scheduling.BookRequest{
		PatientID:       strings.TrimSpace(body.PatientID),
		DoctorID:        strings.TrimSpace(body.DoctorID),
		Start:           start,
		DurationMinutes: defaultDurationMinutes,
		Type:            model.TypeConsultation,
		Urgency:         model.UrgencyRoutine,
		Reason:          body.Reason,
		IsWalkIn:        body.IsWalkIn,
		IdempotencyKey:  strings.TrimSpace(c.Request().Header.Get(IdempotencyKeyHeader)),
		ActorID:         httpx.ActorID(c),
	}
	if body.DurationMinutes != nil {
		req.DurationMinutes = *body.DurationMinutes
	}
	if t := strings.TrimSpace(body.Type); t != "" {
		req.Type = model.AppointmentType(t)
	}
	if u := strings.TrimSpace(body.Urgency); u != "" {
		req.Urgency = model.Urgency(u)
	}

	appt, err := scheduling.Retry(c.Request().Context(), h.retry, func(ctx context.Context) (model.Appointment, error) {
		return h.svc.Book(ctx, req)
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, h.appointment(appt))
}

func (h *Handler) Get(c echo.Context) error {
	appt, err := h.svc.Appointment(c.Request().Context(), c.Param("id"), c.QueryParam("include_deleted") == "true")
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, h.appointment(appt))
}

func (h *Handler) Reminders(c echo.Context) error {
	rems, err := h.svc.Reminders(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	out := make([]reminderResponse, 0, len(rems))
	for _, r := range rems {
		out = append(out, reminderResponse{
			ID:        r.ID,
			Channel:   r.Channel,
			Recipient: r.Recipient,
			RemindAt:  h.format(r.RemindAt),
			Status:    string(r.Status),
			Attempts:  r.Attempts,
			LastError: r.LastError,
			SentAt:    h.formatPtr(r.SentAt),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"reminders": out})
}

type transitionFunc func(ctx context.Context, id, actorID string) (model.Appointment, error)

func (h *Handler) transition(c echo.Context, fn transitionFunc) error {
	id, actor := c.Param("id"), httpx.ActorID(c)
	appt, err := scheduling.Retry(c.Request().Context(), h.retry, func(ctx context.Context) (model.Appointment, error) {
		return fn(ctx, id, actor)
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, h.appointment(appt))
}

func (h *Handler) Confirm(c echo.Context) error { return h.transition(c, h.svc.Confirm) }

func (h *Handler) CheckIn(c echo.Context) error { return h.transition(c, h.svc.CheckIn) }

func (h *Handler) StartConsultation(c echo.Context) error {
	return h.transition(c, h.svc.StartConsultation)
}

func (h *Handler) Complete(c echo.Context) error { return h.transition(c, h.svc.Complete) }

func (h *Handler) MarkNoShow(c echo.Context) error { return h.transition(c, h.svc.MarkNoShow) }

func (h *Handler) Delete(c echo.Context) error { return h.transition(c, h.svc.Delete) }

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	var body cancelRequest
	if err := c.Bind(&body); err != nil {
		return h.respondError(c, badRequest("", "invalid json body"))
	}
	return h.transition(c, func(ctx context.Context, id, actorID string) (model.Appointment, error) {
		return h.svc.Cancel(ctx, id, actorID, body.Reason)
	})
}

type rescheduleRequest struct {
	NewStart string `json:"new_start"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	var body rescheduleRequest
	if err := c.Bind(&body); err != nil {
		return h.respondError(c, badRequest("", "invalid json body"))
	}
	newStart, err := h.parseTime("new_start", body.NewStart)
	if err != nil {
		return h.respondError(c, err)
	}

	type pair struct{ source, created model.Appointment }
	id, actor := c.Param("id"), httpx.ActorID(c)
	res, err := scheduling.Retry(c.Request().Context(), h.retry, func(ctx context.Context) (pair, error) {
		src, made, err := h.svc.Reschedule(ctx, id, newStart, actor)
		return pair{src, made}, err
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"rescheduled": h.appointment(res.source),
		"appointment": h.appointment(res.created),
	})
}

func (h *Handler) Queue(c echo.Context) error {
	day, err := h.parseDay(c.QueryParam("date"))
	if err != nil {
		return h.respondError(c, err)
	}
	ranked, err := h.svc.Queue(c.Request().Context(), day)
	if err != nil {
		return h.respondError(c, err)
	}
	out := make([]appointmentResponse, 0, len(ranked))
	for _, a := range ranked {
		out = append(out, h.appointment(a))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"date":  day.Format(time.DateOnly),
		"queue": out,
	})
}

type reorderRequest struct {
	Orders map[string]int `json:"orders"`
}

func (h *Handler) Reorder(c echo.Context) error {
	var body reorderRequest
	if err := c.Bind(&body); err != nil {
		return h.respondError(c, badRequest("", "invalid json body"))
	}
	if len(body.Orders) == 0 {
		return h.respondError(c, badRequest("orders", "required"))
	}
	res, err := h.svc.Reorder(c.Request().Context(), body.Orders, httpx.ActorID(c))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"applied": nonNil(res.Applied),
		"skipped": nonNil(res.Skipped),
	})
}

// parseTime accepts RFC 3339, or a local timestamp without offset read in the
// clinic timezone.
func (h *Handler) parseTime(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, badRequest(field, "required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, raw, h.svc.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, badRequest(field, "must be an RFC 3339 timestamp")
}

// parseDay reads a YYYY-MM-DD calendar date in the clinic timezone; empty
// means today.
func (h *Handler) parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return h.svc.DayStart(h.svc.Now()), nil
	}
	d, err := time.ParseInLocation(time.DateOnly, raw, h.svc.Location())
	if err != nil {
		return time.Time{}, badRequest("date", "must be YYYY-MM-DD")
	}
	return d, nil
}

func (h *Handler) format(t time.Time) string {
	return t.In(h.svc.Location()).Format(time.RFC3339)
}

func (h *Handler) formatPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := h.format(*t)
	return &s
}

func (h *Handler) appointment(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:                 a.ID,
		DoctorID:           a.DoctorID,
		PatientID:          a.PatientID,
		PatientLabel:       a.PatientLabel,
		Start:              h.format(a.Start),
		End:                h.format(a.End()),
		DurationMinutes:    a.DurationMinutes,
		Type:               string(a.Type),
		Urgency:            string(a.Urgency),
		IsWalkIn:           a.IsWalkIn,
		Reason:             a.Reason,
		Status:             string(a.Status),
		QueueOrder:         a.QueueOrder,
		CheckedInAt:        h.formatPtr(a.CheckedInAt),
		CheckedOutAt:       h.formatPtr(a.CheckedOutAt),
		CancelledAt:        h.formatPtr(a.CancelledAt),
		CancelledBy:        a.CancelledBy,
		CancellationReason: a.CancellationReason,
		ReminderSentAt:     h.formatPtr(a.ReminderSentAt),
		RescheduledFrom:    a.RescheduledFrom,
		DeletedAt:          h.formatPtr(a.DeletedAt),
		CreatedAt:          h.format(a.CreatedAt),
		UpdatedAt:          h.format(a.UpdatedAt),
	}
}

func (h *Handler) conflictItems(conflicts []scheduling.Conflict) []conflictItem {
	out := make([]conflictItem, 0, len(conflicts))
	for _, cf := range conflicts {
		out = append(out, conflictItem{
			ID:              cf.ID,
			PatientLabel:    cf.PatientLabel,
			Start:           h.format(cf.Start),
			DurationMinutes: cf.DurationMinutes,
		})
	}
	return out
}

func bindField(err error) string {
	if be, ok := err.(*echo.BindingError); ok {
		return be.Field
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
