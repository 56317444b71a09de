package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pws/pws/internal/platform/apperr"
)

// ErrorBody is the uniform error response.
type ErrorBody struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// StatusFor maps err onto an HTTP status and client-safe body.
func StatusFor(err error) (int, ErrorBody) {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ErrorBody{Message: "Validation error", Errors: ve.Fields}
	}

	switch {
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrorBody{Message: "Invalid credentials"}
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorBody{Message: "Unauthorized"}
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, ErrorBody{Message: reasonOr(err, "Forbidden")}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Message: reasonOr(err, "Not found")}
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, ErrorBody{Message: reasonOr(err, "Conflict")}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code >= http.StatusInternalServerError {
			return he.Code, ErrorBody{Message: "Internal server error"}
		}
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return he.Code, ErrorBody{Message: msg}
	}

	return http.StatusInternalServerError, ErrorBody{Message: "Internal server error"}
}

func reasonOr(err error, fallback string) string {
	if r := apperr.Reason(err); r != "" {
		return r
	}
	return fallback
}

// ErrorHandler is installed as echo's HTTPErrorHandler. Server errors are
// logged with the request id; nothing internal reaches the client.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := StatusFor(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
