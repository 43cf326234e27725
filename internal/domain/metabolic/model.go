package metabolic

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// IndexName identifies one of the four metabolic indices.
type IndexName string

const (
	IndexCastelli         IndexName = "Castelli"
	IndexLDLHDL           IndexName = "LDL/HDL"
	IndexTriglyceridesHDL IndexName = "Triglycerides/HDL"
	IndexHOMAIR           IndexName = "HOMA-IR"
)

// Lab field keys, shared by the HTML form, the JSON API and error reports.
const (
	FieldCholesterol   = "cholesterol"
	FieldHDL           = "hdl"
	FieldLDL           = "ldl"
	FieldTriglycerides = "triglycerides"
	FieldGlucose       = "glucose"
	FieldInsulin       = "insulin"
)

// LabField describes one biochemical input as shown on the form and report.
type LabField struct {
	Key   string
	Label string
}

// labFields lists the six lab inputs in report order.
var labFields = []LabField{
	{Key: FieldCholesterol, Label: "Total Cholesterol (mg/dL)"},
	{Key: FieldHDL, Label: "HDL (mg/dL)"},
	{Key: FieldLDL, Label: "LDL (mg/dL)"},
	{Key: FieldTriglycerides, Label: "Triglycerides (mg/dL)"},
	{Key: FieldGlucose, Label: "Glucose (mg/dL)"},
	{Key: FieldInsulin, Label: "Insulin (uU/mL)"},
}

// LabFields returns the six lab inputs in report order.
func LabFields() []LabField {
	out := make([]LabField, len(labFields))
	copy(out, labFields)
	return out
}

// LabValues holds the parsed numeric lab inputs. All fields must be finite.
type LabValues struct {
	Cholesterol   float64 `json:"cholesterol"`
	HDL           float64 `json:"hdl"`
	LDL           float64 `json:"ldl"`
	Triglycerides float64 `json:"triglycerides"`
	Glucose       float64 `json:"glucose"`
	Insulin       float64 `json:"insulin"`
}

// RawLabValues holds the lab inputs exactly as typed by the user. Either a
// decimal comma or a decimal point is accepted.
type RawLabValues struct {
	Cholesterol   string `json:"cholesterol" form:"cholesterol"`
	HDL           string `json:"hdl" form:"hdl"`
	LDL           string `json:"ldl" form:"ldl"`
	Triglycerides string `json:"triglycerides" form:"triglycerides"`
	Glucose       string `json:"glucose" form:"glucose"`
	Insulin       string `json:"insulin" form:"insulin"`
}

// Get returns the raw value for a field key.
func (r RawLabValues) Get(key string) string {
	switch key {
	case FieldCholesterol:
		return r.Cholesterol
	case FieldHDL:
		return r.HDL
	case FieldLDL:
		return r.LDL
	case FieldTriglycerides:
		return r.Triglycerides
	case FieldGlucose:
		return r.Glucose
	case FieldInsulin:
		return r.Insulin
	}
	return ""
}

// UnmarshalJSON accepts each lab value as a JSON string or a JSON number.
// Numbers keep their literal text so they go through the same parsing as
// form input.
func (r *RawLabValues) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, f := range labFields {
		raw, ok := fields[f.Key]
		if !ok || string(raw) == "null" {
			continue
		}
		value := string(bytes.TrimSpace(raw))
		if len(raw) > 0 && raw[0] == '"' {
			if err := json.Unmarshal(raw, &value); err != nil {
				return err
			}
		}
		r.set(f.Key, value)
	}
	return nil
}

func (r *RawLabValues) set(key, value string) {
	switch key {
	case FieldCholesterol:
		r.Cholesterol = value
	case FieldHDL:
		r.HDL = value
	case FieldLDL:
		r.LDL = value
	case FieldTriglycerides:
		r.Triglycerides = value
	case FieldGlucose:
		r.Glucose = value
	case FieldInsulin:
		r.Insulin = value
	}
}

// PatientInfo is the free-text metadata printed in the report header. None
// of it is validated.
type PatientInfo struct {
	Name       string `json:"name" form:"patient_name"`
	Identifier string `json:"identifier" form:"identifier"`
	SampleDate string `json:"sample_date" form:"sample_date"`
	SampleTime string `json:"sample_time" form:"sample_time"`
	Laboratory string `json:"laboratory" form:"laboratory"`
	Validator  string `json:"validator" form:"validator"`
}

// MetadataField is a label/value pair of the report header.
type MetadataField struct {
	Label string
	Value string
}

// Metadata returns the six header fields in report order.
func (p PatientInfo) Metadata() []MetadataField {
	return []MetadataField{
		{Label: "Patient name", Value: p.Name},
		{Label: "Identifier", Value: p.Identifier},
		{Label: "Sample date", Value: p.SampleDate},
		{Label: "Sample time", Value: p.SampleTime},
		{Label: "Laboratory", Value: p.Laboratory},
		{Label: "Validator", Value: p.Validator},
	}
}

// Submission is one form submission: everything the form-input provider
// supplies, unvalidated.
type Submission struct {
	Patient            PatientInfo  `json:"patient"`
	Labs               RawLabValues `json:"lab_values"`
	VitalSigns         string       `json:"vital_signs" form:"vital_signs"`
	ComplementaryExams string       `json:"complementary_exams" form:"complementary_exams"`
}

// Index is one computed index, rounded to two decimals.
type Index struct {
	Name     IndexName `json:"name"`
	Value    float64   `json:"value"`
	Elevated bool      `json:"elevated"`
}

// IndexResult holds exactly four indices in canonical order: Castelli,
// LDL/HDL, Triglycerides/HDL, HOMA-IR.
type IndexResult []Index

// Value looks up an index by name.
func (r IndexResult) Value(name IndexName) (float64, bool) {
	for _, idx := range r {
		if idx.Name == name {
			return idx.Value, true
		}
	}
	return 0, false
}

// Interpretation is the Index Engine output.
type Interpretation struct {
	Indices  IndexResult `json:"indices"`
	Comments []string    `json:"comments"`
}

// ReportInput aggregates everything the Report Assembler needs. It is built
// once per submission and passed by value.
type ReportInput struct {
	Patient            PatientInfo
	Raw                RawLabValues
	Values             LabValues
	Indices            IndexResult
	Comments           []string
	VitalSigns         string
	ComplementaryExams string
}

// HasVitalSigns reports whether the vital signs block has content.
func (in ReportInput) HasVitalSigns() bool {
	return strings.TrimSpace(in.VitalSigns) != ""
}

// HasComplementaryExams reports whether the complementary exams block has content.
func (in ReportInput) HasComplementaryExams() bool {
	return strings.TrimSpace(in.ComplementaryExams) != ""
}

// Document is an assembled report ready to be stored or sent.
type Document struct {
	FileName    string
	ContentType string
	Content     []byte
	IssuedAt    time.Time
}
