package metabolic

import (
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/metabolic-panel/internal/platform/auth"
	"github.com/ehr/metabolic-panel/internal/platform/blobstore"
	"github.com/ehr/metabolic-panel/internal/platform/fhir"
	"github.com/ehr/metabolic-panel/internal/platform/middleware"
)

// Handler serves the HTML form, the download link and the JSON API. The
// HTML pages need the echo instance's Renderer set to a *Renderer.
type Handler struct {
	svc    *Service
	logger zerolog.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewHandler(svc *Service, loc *time.Location, logger zerolog.Logger) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		svc:    svc,
		logger: logger.With().Str("component", "metabolic-handler").Logger(),
		loc:    loc,
		now:    time.Now,
	}
}

// RegisterRoutes mounts the form surface on web and the JSON API on api.
// reportMW wraps every route that touches patient data.
func (h *Handler) RegisterRoutes(web *echo.Group, api *echo.Group, reportMW ...echo.MiddlewareFunc) {
	web.GET("/", h.ShowForm)

	reports := web.Group("/reports", reportMW...)
	reports.POST("", h.SubmitForm)
	reports.GET("/:id/download", h.Download, auth.RequireDownloadToken(h.svc.signer))

	panel := api.Group("/metabolic-panel", reportMW...)
	panel.POST("/indices", h.ComputeIndicesAPI)
	panel.POST("/reports", h.RenderReportAPI)
}

// ShowForm renders the empty submission form.
func (h *Handler) ShowForm(c echo.Context) error {
	return c.Render(http.StatusOK, tmplForm, newFormView(Submission{}, nil))
}

// SubmitForm runs the full pipeline for a form submission. Invalid lab
// values re-render the form with the user's input kept.
func (h *Handler) SubmitForm(c echo.Context) error {
	var sub Submission
	if err := (&echo.DefaultBinder{}).BindBody(c, &sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed form submission")
	}

	report, err := h.svc.Generate(c.Request().Context(), sub, middleware.GetRequestID(c))
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return c.Render(http.StatusUnprocessableEntity, tmplForm, newFormView(sub, verr))
		}
		h.logger.Error().Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Msg("report generation failed")
		return c.Render(http.StatusInternalServerError, tmplError, errorView{Message: GenericMessage})
	}

	c.Set(middleware.AuditArtifactKey, report.ArtifactID)
	return c.Render(http.StatusCreated, tmplResult, newResultView(sub.Patient, report, h.loc))
}

// Download streams a stored report. The token has already been checked
// against the :id parameter.
func (h *Handler) Download(c echo.Context) error {
	id := c.Param("id")
	c.Set(middleware.AuditArtifactKey, id)
	return blobstore.Stream(c, h.svc.store, id)
}

// ComputeIndicesAPI runs the Index Engine on JSON lab values. With
// ?_format=fhir the indices come back as a Bundle of Observations.
func (h *Handler) ComputeIndicesAPI(c echo.Context) error {
	var raw RawLabValues
	if err := (&echo.DefaultBinder{}).BindBody(c, &raw); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeStructure, "request body must be a JSON object of lab values",
		))
	}

	interp, err := h.svc.Compute(raw)
	if err != nil {
		return h.apiError(c, err)
	}

	if c.QueryParam("_format") == "fhir" {
		bundle, err := interp.Indices.ToFHIRBundle(PatientInfo{}, h.now())
		if err != nil {
			return h.apiError(c, &UnexpectedError{Op: "fhir encoding", Err: err})
		}
		return c.JSON(http.StatusOK, bundle)
	}
	return c.JSON(http.StatusOK, interp)
}

// RenderReportAPI assembles a report from a JSON submission and returns the
// PDF directly. Nothing is stored.
func (h *Handler) RenderReportAPI(c echo.Context) error {
	var sub Submission
	if err := (&echo.DefaultBinder{}).BindBody(c, &sub); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeStructure, "request body must be a JSON report submission",
		))
	}

	doc, _, err := h.svc.Render(c.Request().Context(), sub)
	if err != nil {
		return h.apiError(c, err)
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName})
	c.Response().Header().Set(echo.HeaderContentDisposition, disposition)
	return c.Blob(http.StatusOK, doc.ContentType, doc.Content)
}

func (h *Handler) apiError(c echo.Context, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return c.JSON(http.StatusUnprocessableEntity, ValidationOutcome(verr))
	}
	h.logger.Error().Err(err).
		Str("request_id", middleware.GetRequestID(c)).
		Msg("api request failed")
	return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(GenericMessage))
}

// ValidationOutcome lists every failing lab field as an "invalid" issue.
func ValidationOutcome(verr *ValidationError) *fhir.OperationOutcome {
	b := fhir.NewOutcomeBuilder()
	for _, f := range verr.Fields {
		b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeInvalid, f.Label+" "+f.Reason, f.Field)
	}
	return b.Build()
}
