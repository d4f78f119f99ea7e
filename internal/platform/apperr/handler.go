package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type body struct {
	Error bodyDetail `json:"error"`
}

type bodyDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var genericMessage = map[Kind]string{
	KindUpstream:    "an upstream service is unavailable",
	KindPersistence: "a database error occurred",
}

// HTTPErrorHandler renders *Error and *echo.HTTPError as {"error":{code,message}}.
// Upstream and persistence failures are logged in full and answered generically.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, out := render(err)
		rid, _ := c.Get("request_id").(string)

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("code", out.Code).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		case status == http.StatusForbidden || status == http.StatusUnauthorized:
			logger.Warn().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request denied")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body{Error: out})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}

func render(err error) (int, bodyDetail) {
	var ae *Error
	if errors.As(err, &ae) {
		msg := ae.Message
		if ae.Kind.internal() {
			msg = genericMessage[ae.Kind]
		}
		return ae.Kind.Status(), bodyDetail{Code: ae.Code, Message: msg}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return he.Code, bodyDetail{Code: codeForStatus(he.Code), Message: msg}
	}

	return http.StatusInternalServerError, bodyDetail{Code: "INTERNAL_ERROR", Message: "internal server error"}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "VALIDATION_FAILED"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "AUTHORIZATION_FAILED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL_ERROR"
		}
		return "REQUEST_FAILED"
	}
}
