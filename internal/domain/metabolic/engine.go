package metabolic

import (
	"math"
	"strconv"
	"strings"
)

// HOMADivisor is the constant denominator of HOMA-IR for glucose in mg/dL
// and insulin in uU/mL.
const HOMADivisor = 405

// Interpretation comments, one per index.
const (
	CommentCastelli         = "elevated cardiovascular risk (Castelli)"
	CommentLDLHDL           = "elevated cardiovascular risk (LDL/HDL)"
	CommentTriglyceridesHDL = "possible insulin resistance (Triglycerides/HDL)"
	CommentHOMAIR           = "possible insulin resistance (HOMA-IR)"
)

// indexRule computes one index and states when it is clinically elevated.
// Inclusive rules fire at the limit itself.
type indexRule struct {
	name      IndexName
	inputs    []string
	compute   func(v LabValues) float64
	limit     float64
	inclusive bool
	comment   string
}

// indexRules is evaluated in order; the order defines both the IndexResult
// order and the comment order.
var indexRules = []indexRule{
	{
		name:    IndexCastelli,
		inputs:  []string{FieldCholesterol, FieldHDL},
		compute: func(v LabValues) float64 { return overHDL(v.Cholesterol, v.HDL) },
		limit:   4.5,
		comment: CommentCastelli,
	},
	{
		name:    IndexLDLHDL,
		inputs:  []string{FieldLDL, FieldHDL},
		compute: func(v LabValues) float64 { return overHDL(v.LDL, v.HDL) },
		limit:   3.5,
		comment: CommentLDLHDL,
	},
	{
		name:    IndexTriglyceridesHDL,
		inputs:  []string{FieldTriglycerides, FieldHDL},
		compute: func(v LabValues) float64 { return overHDL(v.Triglycerides, v.HDL) },
		limit:   3.0,
		comment: CommentTriglyceridesHDL,
	},
	{
		name:      IndexHOMAIR,
		inputs:    []string{FieldGlucose, FieldInsulin},
		compute:   func(v LabValues) float64 { return v.Glucose * v.Insulin / HOMADivisor },
		limit:     2.5,
		inclusive: true,
		comment:   CommentHOMAIR,
	},
}

// overHDL divides by HDL. A zero HDL yields exactly 0: degenerate input is
// reported as a zero ratio, never as an error or an infinity.
func overHDL(numerator, hdl float64) float64 {
	if hdl == 0 {
		return 0
	}
	return numerator / hdl
}

// Round2 rounds to two decimal places using the exact binary value of x, so
// 901.0/200 (stored just below 4.505) gives 4.5. Exact ties round to even.
func Round2(x float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', 2, 64), 64)
	if err != nil || r == 0 {
		return 0
	}
	return r
}

func (r indexRule) exceeded(value float64) bool {
	if r.inclusive {
		return value >= r.limit
	}
	return value > r.limit
}

// Calculate runs the Index Engine over parsed lab values. It fails when a
// value is not finite, or when finite values overflow an index (for example
// a subnormal HDL); the inputs of that index are reported.
func Calculate(v LabValues) (*Interpretation, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}

	out := &Interpretation{
		Indices:  make(IndexResult, 0, len(indexRules)),
		Comments: []string{},
	}
	var overflow ValidationError
	for _, rule := range indexRules {
		raw := rule.compute(v)
		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			overflow.add(v, rule.inputs)
			continue
		}
		value := Round2(raw)
		elevated := rule.exceeded(value)
		out.Indices = append(out.Indices, Index{Name: rule.name, Value: value, Elevated: elevated})
		if elevated {
			out.Comments = append(out.Comments, rule.comment)
		}
	}
	if len(overflow.Fields) > 0 {
		return nil, &overflow
	}
	return out, nil
}

// Evaluate parses raw lab strings and runs the Index Engine.
func Evaluate(raw RawLabValues) (LabValues, *Interpretation, error) {
	values, err := ParseLabValues(raw)
	if err != nil {
		return LabValues{}, nil, err
	}
	interp, err := Calculate(values)
	if err != nil {
		return LabValues{}, nil, err
	}
	return values, interp, nil
}

// NormalizeDecimal trims surrounding space and turns a decimal comma into a
// decimal point.
func NormalizeDecimal(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
}

// ParseNumber parses one lab value after normalization. Empty input, hex
// notation, NaN and infinities are rejected.
func ParseNumber(s string) (float64, string, bool) {
	norm := NormalizeDecimal(s)
	if norm == "" {
		return 0, "is required", false
	}
	if isHex(norm) {
		return 0, "is not a number", false
	}
	f, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		return 0, "is not a number", false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, "is not a finite number", false
	}
	return f, "", true
}

func isHex(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// ParseLabValues parses all six raw lab fields. Every failing field is
// reported in a single ValidationError.
func ParseLabValues(raw RawLabValues) (LabValues, error) {
	var (
		parsed = make(map[string]float64, len(labFields))
		verr   ValidationError
	)
	for _, f := range labFields {
		value := raw.Get(f.Key)
		n, reason, ok := ParseNumber(value)
		if !ok {
			verr.Fields = append(verr.Fields, FieldError{Field: f.Key, Label: f.Label, Value: value, Reason: reason})
			continue
		}
		parsed[f.Key] = n
	}
	if len(verr.Fields) > 0 {
		return LabValues{}, &verr
	}

	return LabValues{
		Cholesterol:   parsed[FieldCholesterol],
		HDL:           parsed[FieldHDL],
		LDL:           parsed[FieldLDL],
		Triglycerides: parsed[FieldTriglycerides],
		Glucose:       parsed[FieldGlucose],
		Insulin:       parsed[FieldInsulin],
	}, nil
}

// add reports each of keys once, in lab field order.
func (e *ValidationError) add(v LabValues, keys []string) {
	for _, f := range labFields {
		if !containsKey(keys, f.Key) || e.has(f.Key) {
			continue
		}
		e.Fields = append(e.Fields, FieldError{
			Field:  f.Key,
			Label:  f.Label,
			Value:  strconv.FormatFloat(v.value(f.Key), 'g', -1, 64),
			Reason: "gives a result that is not finite",
		})
	}
}

func (e *ValidationError) has(key string) bool {
	for _, f := range e.Fields {
		if f.Field == key {
			return true
		}
	}
	return false
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func (v LabValues) value(key string) float64 {
	switch key {
	case FieldCholesterol:
		return v.Cholesterol
	case FieldHDL:
		return v.HDL
	case FieldLDL:
		return v.LDL
	case FieldTriglycerides:
		return v.Triglycerides
	case FieldGlucose:
		return v.Glucose
	default:
		return v.Insulin
	}
}

func (v LabValues) validate() error {
	var verr ValidationError
	for _, f := range labFields {
		n := v.value(f.Key)
		if math.IsNaN(n) || math.IsInf(n, 0) {
			verr.Fields = append(verr.Fields, FieldError{
				Field:  f.Key,
				Label:  f.Label,
				Value:  strconv.FormatFloat(n, 'g', -1, 64),
				Reason: "is not a finite number",
			})
		}
	}
	if len(verr.Fields) > 0 {
		return &verr
	}
	return nil
}
