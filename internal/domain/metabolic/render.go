package metabolic

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names.
const (
	tmplForm   = "form.html"
	tmplResult = "result.html"
	tmplError  = "error.html"
)

// Renderer renders the HTML pages of the form surface. It satisfies
// echo.Renderer.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	t, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Renderer{templates: t}, nil
}

func (r *Renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

type fieldView struct {
	Key     string
	Label   string
	Value   string
	Invalid bool
}

type formView struct {
	Patient            PatientInfo
	Labs               []fieldView
	VitalSigns         string
	ComplementaryExams string
	Error              string
}

// newFormView prefills the form with sub and marks the fields of verr.
func newFormView(sub Submission, verr *ValidationError) formView {
	invalid := map[string]bool{}
	v := formView{
		Patient:            sub.Patient,
		VitalSigns:         sub.VitalSigns,
		ComplementaryExams: sub.ComplementaryExams,
	}
	if verr != nil {
		v.Error = verr.Message()
		for _, f := range verr.Fields {
			invalid[f.Field] = true
		}
	}
	for _, f := range labFields {
		v.Labs = append(v.Labs, fieldView{
			Key:     f.Key,
			Label:   f.Label,
			Value:   sub.Labs.Get(f.Key),
			Invalid: invalid[f.Key],
		})
	}
	return v
}

type indexView struct {
	Name     string
	Value    string
	Elevated bool
}

type resultView struct {
	PatientName string
	FileName    string
	DownloadURL string
	ExpiresAt   string
	Indices     []indexView
	Comments    []string
}

func newResultView(patient PatientInfo, r *GeneratedReport, loc *time.Location) resultView {
	v := resultView{
		PatientName: patient.Name,
		FileName:    r.FileName,
		DownloadURL: r.DownloadPath(),
		ExpiresAt:   r.ExpiresAt.In(loc).Format("02/01/2006 15:04"),
		Comments:    r.Comments,
	}
	for _, idx := range r.Indices {
		v.Indices = append(v.Indices, indexView{
			Name:     string(idx.Name),
			Value:    strconv.FormatFloat(idx.Value, 'f', 2, 64),
			Elevated: idx.Elevated,
		})
	}
	return v
}

type errorView struct {
	Message string
}
