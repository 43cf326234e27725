package metabolic

import (
	"errors"
	"strings"
	"testing"
)

func TestParseLabValues_Valid(t *testing.T) {
	v, err := ParseLabValues(baselineRaw())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != baselineValues() {
		t.Errorf("expected %+v, got %+v", baselineValues(), v)
	}
}

func TestParseLabValues_DecimalComma(t *testing.T) {
	comma := RawLabValues{
		Cholesterol: "5,5", HDL: "5,5", LDL: "5,5",
		Triglycerides: "5,5", Glucose: "5,5", Insulin: "5,5",
	}
	dot := RawLabValues{
		Cholesterol: "5.5", HDL: "5.5", LDL: "5.5",
		Triglycerides: "5.5", Glucose: "5.5", Insulin: "5.5",
	}

	fromComma, err := ParseLabValues(comma)
	if err != nil {
		t.Fatalf("comma input: unexpected error: %v", err)
	}
	fromDot, err := ParseLabValues(dot)
	if err != nil {
		t.Fatalf("dot input: unexpected error: %v", err)
	}
	if fromComma != fromDot {
		t.Errorf("comma and dot inputs differ: %+v vs %+v", fromComma, fromDot)
	}
	if fromComma.HDL != 5.5 {
		t.Errorf("expected 5.5, got %v", fromComma.HDL)
	}
}

func TestParseLabValues_Whitespace(t *testing.T) {
	raw := baselineRaw()
	raw.HDL = "  50 "
	v, err := ParseLabValues(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.HDL != 50 {
		t.Errorf("expected HDL 50, got %v", v.HDL)
	}
}

func TestParseLabValues_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *RawLabValues)
		field  string
		reason string
	}{
		{"letters", func(r *RawLabValues) { r.Cholesterol = "abc" }, FieldCholesterol, "is not a number"},
		{"empty", func(r *RawLabValues) { r.HDL = "" }, FieldHDL, "is required"},
		{"blank", func(r *RawLabValues) { r.LDL = "   " }, FieldLDL, "is required"},
		{"two separators", func(r *RawLabValues) { r.Triglycerides = "1,5.2" }, FieldTriglycerides, "is not a number"},
		{"nan", func(r *RawLabValues) { r.Glucose = "NaN" }, FieldGlucose, "is not a finite number"},
		{"inf", func(r *RawLabValues) { r.Insulin = "Inf" }, FieldInsulin, "is not a finite number"},
		{"hex float", func(r *RawLabValues) { r.Cholesterol = "0x1p3" }, FieldCholesterol, "is not a number"},
		{"signed hex", func(r *RawLabValues) { r.HDL = "-0X10" }, FieldHDL, "is not a number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := baselineRaw()
			tt.mutate(&raw)

			_, err := ParseLabValues(raw)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(verr.Fields) != 1 {
				t.Fatalf("expected 1 failing field, got %+v", verr.Fields)
			}
			if verr.Fields[0].Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Fields[0].Field)
			}
			if verr.Fields[0].Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, verr.Fields[0].Reason)
			}
		})
	}
}

func TestParseLabValues_ReportsEveryField(t *testing.T) {
	raw := baselineRaw()
	raw.Cholesterol = "abc"
	raw.Insulin = "x"

	_, err := ParseLabValues(raw)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Fields) != 2 {
		t.Fatalf("expected 2 failing fields, got %+v", verr.Fields)
	}
	msg := verr.Message()
	if !strings.Contains(msg, "Total Cholesterol (mg/dL)") || !strings.Contains(msg, "Insulin (uU/mL)") {
		t.Errorf("message should name both fields, got %q", msg)
	}
	if !strings.Contains(verr.Error(), `cholesterol ("abc")`) {
		t.Errorf("error should carry the raw value, got %q", verr.Error())
	}
}

func TestEvaluate(t *testing.T) {
	values, out, err := Evaluate(baselineRaw())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if values.Glucose != 95 {
		t.Errorf("expected glucose 95, got %v", values.Glucose)
	}
	if homa, _ := out.Indices.Value(IndexHOMAIR); homa != 2.35 {
		t.Errorf("expected HOMA-IR 2.35, got %v", homa)
	}

	raw := baselineRaw()
	raw.HDL = "abc"
	_, out, err = Evaluate(raw)
	if out != nil {
		t.Error("expected no result on validation failure")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestEvaluate_ZeroHDLEndToEnd(t *testing.T) {
	raw := baselineRaw()
	raw.HDL = "0"
	_, out, err := Evaluate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []IndexName{IndexCastelli, IndexLDLHDL, IndexTriglyceridesHDL} {
		if v, _ := out.Indices.Value(name); v != 0 {
			t.Errorf("%s: expected 0, got %v", name, v)
		}
	}
	if len(out.Comments) != 0 {
		t.Errorf("expected no comments, got %v", out.Comments)
	}
}
