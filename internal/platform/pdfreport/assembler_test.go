package pdfreport

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ehr/metabolic-panel/internal/domain/metabolic"
)

var fixedNow = time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC)

func testAssembler() *Assembler {
	return New(
		WithClock(func() time.Time { return fixedNow }),
		WithLocation(time.UTC),
		WithCompression(false),
	)
}

func sampleInput() metabolic.ReportInput {
	raw := metabolic.RawLabValues{
		Cholesterol: "200", HDL: "50", LDL: "120",
		Triglycerides: "150", Glucose: "95", Insulin: "10",
	}
	values, interp, err := metabolic.Evaluate(raw)
	if err != nil {
		panic(err)
	}
	return metabolic.ReportInput{
		Patient: metabolic.PatientInfo{
			Name:       "Ana Perez",
			Identifier: "12345678",
			SampleDate: "2026-03-13",
			SampleTime: "08:30",
			Laboratory: "Central Lab",
			Validator:  "Dr. Ruiz",
		},
		Raw:      raw,
		Values:   values,
		Indices:  interp.Indices,
		Comments: interp.Comments,
	}
}

func assemble(t *testing.T, in metabolic.ReportInput) *metabolic.Document {
	t.Helper()
	doc, err := testAssembler().Assemble(in)
	if err != nil {
		t.Fatalf("Assemble: unexpected error: %v", err)
	}
	return doc
}

// pdfEscape mirrors how text strings are escaped inside content streams.
var pdfEscape = strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)

// inOrder reports whether every needle appears in haystack, in order.
func inOrder(haystack []byte, needles ...string) bool {
	pos := 0
	for _, n := range needles {
		n = pdfEscape.Replace(n)
		i := bytes.Index(haystack[pos:], []byte(n))
		if i < 0 {
			return false
		}
		pos += i + len(n)
	}
	return true
}

func TestAssemble_Document(t *testing.T) {
	doc := assemble(t, sampleInput())

	if !bytes.HasPrefix(doc.Content, []byte("%PDF-")) {
		t.Fatalf("expected PDF header, got %q", doc.Content[:8])
	}
	if doc.ContentType != ContentType {
		t.Errorf("expected %s, got %s", ContentType, doc.ContentType)
	}
	if doc.FileName != "metabolic_panel_Ana_Perez.pdf" {
		t.Errorf("unexpected file name %q", doc.FileName)
	}
	if !doc.IssuedAt.Equal(fixedNow) {
		t.Errorf("expected IssuedAt %v, got %v", fixedNow, doc.IssuedAt)
	}
}

func TestAssemble_SectionOrder(t *testing.T) {
	doc := assemble(t, sampleInput())

	if !inOrder(doc.Content,
		Title,
		"Patient name: Ana Perez",
		"Identifier: 12345678",
		"Sample date: 2026-03-13",
		"Sample time: 08:30",
		"Laboratory: Central Lab",
		"Validator: Dr. Ruiz",
		"Emission date/time: 14/03/2026 09:05",
		"Biochemical Results:",
		"Total Cholesterol (mg/dL): 200",
		"Insulin (uU/mL): 10",
		"Metabolic Indices:",
		"Castelli: 4.00",
		"LDL/HDL: 2.40",
		"Triglycerides/HDL: 3.00",
		"HOMA-IR: 2.35",
		"Clinical Interpretation:",
		"Validator: Dr. Ruiz",
	) {
		t.Error("report sections missing or out of order")
	}
}

func TestAssemble_OptionalSectionsOmitted(t *testing.T) {
	in := sampleInput()
	in.VitalSigns = "   \n\t"
	doc := assemble(t, in)

	for _, s := range []string{"Vital Signs:", "Complementary Exams:"} {
		if inOrder(doc.Content, s) {
			t.Errorf("did not expect %q for blank input", s)
		}
	}
	// The interpretation header is printed even without comments.
	if !inOrder(doc.Content, "Clinical Interpretation:") {
		t.Error("expected Clinical Interpretation header")
	}
}

func TestAssemble_OptionalSectionsIncluded(t *testing.T) {
	in := sampleInput()
	in.VitalSigns = "  BP 120/80  "
	in.ComplementaryExams = "ECG normal"
	doc := assemble(t, in)

	if !inOrder(doc.Content, "Clinical Interpretation:", "Vital Signs:", "BP 120/80", "Complementary Exams:", "ECG normal", "Validator: Dr. Ruiz") {
		t.Error("optional sections missing or out of order")
	}
}

func TestAssemble_Comments(t *testing.T) {
	in := sampleInput()
	in.Comments = []string{metabolic.CommentCastelli, metabolic.CommentHOMAIR}
	doc := assemble(t, in)

	if !inOrder(doc.Content, "Clinical Interpretation:", metabolic.CommentCastelli, metabolic.CommentHOMAIR) {
		t.Error("expected comments under Clinical Interpretation in order")
	}
}

func TestAssemble_EmptyMetadata(t *testing.T) {
	doc := assemble(t, metabolic.ReportInput{})

	if !bytes.HasPrefix(doc.Content, []byte("%PDF-")) {
		t.Fatal("expected a PDF even with empty input")
	}
	if doc.FileName != "metabolic_panel_.pdf" {
		t.Errorf("unexpected file name %q", doc.FileName)
	}
}

func TestAssemble_NonLatinName(t *testing.T) {
	in := sampleInput()
	in.Patient.Name = "José Núñez"
	doc := assemble(t, in)

	if doc.FileName != "metabolic_panel_José_Núñez.pdf" {
		t.Errorf("unexpected file name %q", doc.FileName)
	}
}

func TestAssemble_Compressed(t *testing.T) {
	doc, err := New(WithClock(func() time.Time { return fixedNow })).Assemble(sampleInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(doc.Content, []byte("%PDF-")) {
		t.Fatal("expected PDF header")
	}
	if inOrder(doc.Content, "Biochemical Results:") {
		t.Error("expected page content to be compressed")
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Ana Perez", "metabolic_panel_Ana_Perez.pdf"},
		{"Juan", "metabolic_panel_Juan.pdf"},
		{"Maria  del Carmen", "metabolic_panel_Maria__del_Carmen.pdf"},
		{"", "metabolic_panel_.pdf"},
	}
	for _, tt := range tests {
		if got := Filename(tt.name); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	for in, want := range map[float64]string{4: "4.00", 2.4: "2.40", 2.35: "2.35", 0: "0.00"} {
		if got := FormatValue(in); got != want {
			t.Errorf("FormatValue(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_NilLocationKeepsDefault(t *testing.T) {
	a := New(WithLocation(nil))
	if a.loc == nil {
		t.Fatal("expected default location")
	}
	if !strings.HasPrefix(Filename("x"), FilenamePrefix) {
		t.Error("expected prefix")
	}
}
