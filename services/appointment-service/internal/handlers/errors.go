package handlers

import (
	"errors"
	"net/http"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/scheduling"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// retryAfterSeconds is sent with 503 responses for transient storage errors.
const retryAfterSeconds = "1"

type errorBody struct {
	Error       string         `json:"error"`
	Message     string         `json:"message"`
	Field       string         `json:"field,omitempty"`
	Conflicting []conflictItem `json:"conflicting,omitempty"`
}

func badRequest(field, msg string) error {
	return &scheduling.ValidationError{Field: field, Reason: msg}
}

// respondError renders an engine error as JSON. Errors it does not recognise
// are logged and reported as 500 without their text.
func (h *Handler) respondError(c echo.Context, err error) error {
	var (
		validation *scheduling.ValidationError
		conflict   *scheduling.ConflictError
		transition *scheduling.StateTransitionError
	)
	switch {
	case errors.As(err, &validation):
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation", Message: validation.Reason, Field: validation.Field})
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, errorBody{
			Error:       "conflict",
			Message:     conflict.Error(),
			Conflicting: h.conflictItems(conflict.Conflicts),
		})
	case errors.As(err, &transition):
		return c.JSON(http.StatusConflict, errorBody{Error: "state_transition", Message: transition.Error()})
	case errors.Is(err, scheduling.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
	case errors.Is(err, scheduling.ErrTransient):
		h.logger.Warn("transient storage failure", zap.String("path", c.Path()), zap.Error(err))
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: "storage busy, retry later"})
	}
	h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
}
