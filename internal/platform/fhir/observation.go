package fhir

import "time"

// Observation is the subset of the FHIR R4 Observation resource needed to
// publish derived laboratory indices.
type Observation struct {
	ResourceType      string            `json:"resourceType"`
	ID                string            `json:"id,omitempty"`
	Status            string            `json:"status"`
	Category          []CodeableConcept `json:"category,omitempty"`
	Code              CodeableConcept   `json:"code"`
	Subject           *Reference        `json:"subject,omitempty"`
	EffectiveDateTime string            `json:"effectiveDateTime,omitempty"`
	Issued            *time.Time        `json:"issued,omitempty"`
	ValueQuantity     *Quantity         `json:"valueQuantity,omitempty"`
	Interpretation    []CodeableConcept `json:"interpretation,omitempty"`
	Note              []Annotation      `json:"note,omitempty"`
}

// Annotation is a free-text note.
type Annotation struct {
	Text string `json:"text"`
}

// Observation status codes.
const (
	ObservationStatusFinal       = "final"
	ObservationStatusPreliminary = "preliminary"
)

// LaboratoryCategory is the observation-category coding for lab results.
func LaboratoryCategory() CodeableConcept {
	return CodeableConcept{
		Coding: []Coding{{System: SystemObservationCategory, Code: "laboratory", Display: "Laboratory"}},
	}
}

// InterpretationHigh is the v3 "H" interpretation.
func InterpretationHigh() CodeableConcept {
	return CodeableConcept{
		Coding: []Coding{{System: SystemObservationInterpretation, Code: "H", Display: "High"}},
	}
}

// InterpretationNormal is the v3 "N" interpretation.
func InterpretationNormal() CodeableConcept {
	return CodeableConcept{
		Coding: []Coding{{System: SystemObservationInterpretation, Code: "N", Display: "Normal"}},
	}
}

// NewObservation builds a final laboratory Observation.
func NewObservation(code CodeableConcept, value Quantity) *Observation {
	return &Observation{
		ResourceType:  "Observation",
		Status:        ObservationStatusFinal,
		Category:      []CodeableConcept{LaboratoryCategory()},
		Code:          code,
		ValueQuantity: &value,
	}
}
