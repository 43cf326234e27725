package metabolic

import (
	"fmt"
	"strings"
)

// FieldError describes one lab field that could not be used.
type FieldError struct {
	Field  string `json:"field"`
	Label  string `json:"label"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// ValidationError is returned when any lab field is not a finite number. It
// lists every failing field and carries no partial computation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s (%q) %s", f.Field, f.Value, f.Reason))
	}
	return "invalid lab values: " + strings.Join(parts, "; ")
}

// Message is the blocking message shown to the user.
func (e *ValidationError) Message() string {
	labels := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		labels = append(labels, f.Label)
	}
	return "Check that all lab values are numeric: " + strings.Join(labels, ", ") + "."
}

// UnexpectedError wraps any failure outside input validation: assembly,
// storage or I/O.
type UnexpectedError struct {
	Op  string
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error during %s: %v", e.Op, e.Err)
}

func (e *UnexpectedError) Unwrap() error {
	return e.Err
}

// GenericMessage is shown to the user for any UnexpectedError.
const GenericMessage = "An unexpected error occurred while generating the report. Please submit the form again."
