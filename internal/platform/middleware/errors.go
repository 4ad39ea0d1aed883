package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medqueue/medqueue/internal/platform/validation"
	"github.com/medqueue/medqueue/pkg/apperror"
	"github.com/medqueue/medqueue/pkg/response"
)

const internalMessage = "internal server error"

// ErrorHandler renders every error returned by a handler or middleware in
// the response envelope. Internal faults are logged and answered with a
// generic message.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, message, fields := classify(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("unhandled error")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = response.Fail(c, status, message, fields)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}

func classify(err error) (int, string, []response.FieldError) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return http.StatusBadRequest, "validation failed", verr.Fields
	}

	var aerr *apperror.Error
	if errors.As(err, &aerr) {
		status := aerr.Kind.HTTPStatus()
		if status >= http.StatusInternalServerError {
			return status, internalMessage, nil
		}
		return status, aerr.Message, nil
	}

	var herr *echo.HTTPError
	if errors.As(err, &herr) {
		if herr.Code >= http.StatusInternalServerError {
			return herr.Code, internalMessage, nil
		}
		msg := http.StatusText(herr.Code)
		if herr.Message != nil {
			msg = fmt.Sprintf("%v", herr.Message)
		}
		return herr.Code, msg, nil
	}

	return http.StatusInternalServerError, internalMessage, nil
}
