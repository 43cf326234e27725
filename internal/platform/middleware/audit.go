package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AuditArtifactKey is the echo.Context key a handler sets to the ID of the
// report it produced or served.
const AuditArtifactKey = "audit_artifact_id"

// Audit actions.
const (
	ActionGenerate = "generate"
	ActionDownload = "download"
	ActionRead     = "read"
)

// AuditEntry records one access to patient data. It never carries the
// submitted values themselves.
type AuditEntry struct {
	Action     string
	Route      string
	Method     string
	ArtifactID string
	RequestID  string
	IPAddress  string
	UserAgent  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request to the routes it wraps after the handler ran, so
// the final status and artifact ID are known. Entries are also handed to
// each recorder.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			req := c.Request()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			artifactID, _ := c.Get(AuditArtifactKey).(string)

			entry := AuditEntry{
				Action:     auditAction(req.Method, c.Path()),
				Route:      c.Path(),
				Method:     req.Method,
				ArtifactID: artifactID,
				RequestID:  GetRequestID(c),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if status >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("type", "phi_audit").
				Str("action", entry.Action).
				Str("route", entry.Route).
				Str("method", entry.Method).
				Str("artifact_id", entry.ArtifactID).
				Str("request_id", entry.RequestID).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("report_access")

			return err
		}
	}
}

func auditAction(method, route string) string {
	switch {
	case strings.HasSuffix(route, "/download"):
		return ActionDownload
	case method == http.MethodPost:
		return ActionGenerate
	default:
		return ActionRead
	}
}
