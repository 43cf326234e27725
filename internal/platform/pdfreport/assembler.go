// Package pdfreport lays out the metabolic panel report as a PDF document.
package pdfreport

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/ehr/metabolic-panel/internal/domain/metabolic"
)

const (
	// ContentType is the MIME type of every artifact this package produces.
	ContentType = "application/pdf"
	// FilenamePrefix marks the report type in derived file names.
	FilenamePrefix = "metabolic_panel_"
	// Title is printed centred at the top of the first page.
	Title = "EXTENDED METABOLIC PANEL REPORT"
	// TimestampLayout formats the emission timestamp (dd/mm/yyyy HH:MM).
	TimestampLayout = "02/01/2006 15:04"
)

const (
	fontFamily   = "Arial"
	titleSize    = 14
	bodySize     = 12
	lineHeight   = 10
	sectionGap   = 5
	validatorGap = 10
)

// Filename derives the download name from the patient name: spaces become
// underscores and the report-type prefix is added.
func Filename(patientName string) string {
	return FilenamePrefix + strings.ReplaceAll(patientName, " ", "_") + ".pdf"
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock overrides the source of the emission timestamp.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithLocation sets the time zone of the emission timestamp.
func WithLocation(loc *time.Location) Option {
	return func(a *Assembler) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// WithCompression toggles page stream compression. Uncompressed output is
// only useful for inspecting the document.
func WithCompression(on bool) Option {
	return func(a *Assembler) { a.compress = on }
}

// Assembler renders ReportInput into a PDF. It holds only immutable
// configuration and is safe for concurrent use.
type Assembler struct {
	now      func() time.Time
	loc      *time.Location
	compress bool
}

// New creates an Assembler.
func New(opts ...Option) *Assembler {
	a := &Assembler{now: time.Now, loc: time.Local, compress: true}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble renders the report and derives its file name.
func (a *Assembler) Assemble(in metabolic.ReportInput) (*metabolic.Document, error) {
	issued := a.now().In(a.loc)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(a.compress)
	pdf.SetCreationDate(issued)
	pdf.SetModificationDate(issued)
	pdf.SetTitle(Title, false)
	pdf.SetCreator("metabolic-panel", false)
	pdf.AliasNbPages("{nb}")

	// Core fonts are cp1252; names like "Núñez" need translating.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	pdf.SetFont(fontFamily, "B", titleSize)
	pdf.CellFormat(0, lineHeight, tr(Title), "", 1, "C", false, 0, "")
	pdf.Ln(lineHeight)

	pdf.SetFont(fontFamily, "", bodySize)
	for _, f := range in.Patient.Metadata() {
		line(pdf, tr, f.Label+": "+f.Value)
	}
	line(pdf, tr, "Emission date/time: "+issued.Format(TimestampLayout))

	section(pdf, tr, "Biochemical Results:")
	for _, f := range metabolic.LabFields() {
		line(pdf, tr, f.Label+": "+in.Raw.Get(f.Key))
	}

	section(pdf, tr, "Metabolic Indices:")
	for _, idx := range in.Indices {
		line(pdf, tr, string(idx.Name)+": "+FormatValue(idx.Value))
	}

	section(pdf, tr, "Clinical Interpretation:")
	for _, c := range in.Comments {
		pdf.MultiCell(0, lineHeight, tr(c), "", "L", false)
	}

	if in.HasVitalSigns() {
		section(pdf, tr, "Vital Signs:")
		pdf.MultiCell(0, lineHeight, tr(strings.TrimSpace(in.VitalSigns)), "", "L", false)
	}

	if in.HasComplementaryExams() {
		section(pdf, tr, "Complementary Exams:")
		pdf.MultiCell(0, lineHeight, tr(strings.TrimSpace(in.ComplementaryExams)), "", "L", false)
	}

	pdf.Ln(validatorGap)
	pdf.SetFont(fontFamily, "", bodySize)
	line(pdf, tr, "Validator: "+in.Patient.Validator)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	return &metabolic.Document{
		FileName:    Filename(in.Patient.Name),
		ContentType: ContentType,
		Content:     buf.Bytes(),
		IssuedAt:    issued,
	}, nil
}

// FormatValue prints an index with exactly two decimals.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func line(pdf *fpdf.Fpdf, tr func(string) string, text string) {
	pdf.CellFormat(0, lineHeight, tr(text), "", 1, "", false, 0, "")
}

func section(pdf *fpdf.Fpdf, tr func(string) string, heading string) {
	pdf.Ln(sectionGap)
	pdf.SetFont(fontFamily, "B", bodySize)
	line(pdf, tr, heading)
	pdf.SetFont(fontFamily, "", bodySize)
}
