package metabolic

import (
	"time"

	"github.com/ehr/metabolic-panel/internal/platform/fhir"
)

// IndexCodeSystem identifies the local code system for derived indices.
// None of the four indices has a LOINC code.
const IndexCodeSystem = "urn:metabolic-panel:index"

var indexCodes = map[IndexName]string{
	IndexCastelli:         "castelli",
	IndexLDLHDL:           "ldl-hdl",
	IndexTriglyceridesHDL: "triglycerides-hdl",
	IndexHOMAIR:           "homa-ir",
}

var indexComments = func() map[IndexName]string {
	m := make(map[IndexName]string, len(indexRules))
	for _, r := range indexRules {
		m[r.name] = r.comment
	}
	return m
}()

// ToFHIR renders one index as a laboratory Observation. Ratios are
// dimensionless, so the quantity uses the UCUM unity code "1".
func (idx Index) ToFHIR(patient PatientInfo, issued time.Time) *fhir.Observation {
	obs := fhir.NewObservation(
		fhir.CodeableConcept{
			Coding: []fhir.Coding{{System: IndexCodeSystem, Code: indexCodes[idx.Name], Display: string(idx.Name)}},
			Text:   string(idx.Name),
		},
		fhir.Quantity{Value: idx.Value, Unit: "1", System: fhir.SystemUCUM, Code: "1"},
	)
	ts := issued.UTC()
	obs.Issued = &ts

	if patient.Identifier != "" || patient.Name != "" {
		ref := &fhir.Reference{Type: "Patient", Display: patient.Name}
		if patient.Identifier != "" {
			ref.Identifier = &fhir.Identifier{Value: patient.Identifier}
		}
		obs.Subject = ref
	}
	if d, err := time.Parse("2006-01-02", patient.SampleDate); err == nil {
		obs.EffectiveDateTime = d.Format("2006-01-02")
	}

	if idx.Elevated {
		obs.Interpretation = []fhir.CodeableConcept{fhir.InterpretationHigh()}
		obs.Note = []fhir.Annotation{{Text: indexComments[idx.Name]}}
	} else {
		obs.Interpretation = []fhir.CodeableConcept{fhir.InterpretationNormal()}
	}
	return obs
}

// ToFHIRBundle renders all indices as a collection Bundle of Observations.
func (r IndexResult) ToFHIRBundle(patient PatientInfo, issued time.Time) (*fhir.Bundle, error) {
	resources := make([]interface{}, 0, len(r))
	for _, idx := range r {
		resources = append(resources, idx.ToFHIR(patient, issued))
	}
	return fhir.NewCollectionBundle(resources, issued)
}
