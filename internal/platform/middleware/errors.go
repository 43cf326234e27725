package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/metabolic-panel/internal/platform/fhir"
)

// APIPrefix marks routes whose errors are rendered as OperationOutcome JSON.
const APIPrefix = "/api/"

// ErrorHandler renders errors that escaped the handlers. API routes get an
// OperationOutcome, everything else gets plain text. Internal error details
// are logged, never returned.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(code)
			}
		}

		if code >= 500 {
			logger.Error().Err(err).
				Str("request_id", GetRequestID(c)).
				Str("path", c.Path()).
				Msg("request failed")
			message = http.StatusText(code)
		}

		var respErr error
		switch {
		case c.Request().Method == http.MethodHead:
			respErr = c.NoContent(code)
		case strings.HasPrefix(c.Request().URL.Path, APIPrefix):
			respErr = c.JSON(code, outcomeFor(code, message))
		default:
			respErr = c.String(code, message)
		}
		if respErr != nil {
			logger.Error().Err(respErr).Msg("writing error response")
		}
	}
}

func outcomeFor(code int, message string) *fhir.OperationOutcome {
	switch code {
	case http.StatusNotFound:
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, message)
	case http.StatusForbidden, http.StatusUnauthorized:
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeForbidden, message)
	case http.StatusTooManyRequests:
		return fhir.ThrottleOutcome()
	case http.StatusRequestEntityTooLarge:
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeTooLong, message)
	case http.StatusMethodNotAllowed:
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotSupported, message)
	}
	if code >= 500 {
		return fhir.InternalErrorOutcome(message)
	}
	return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, message)
}
