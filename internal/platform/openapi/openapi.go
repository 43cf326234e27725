// Package openapi describes the JSON API as an OpenAPI 3.0 document.
package openapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Field is one lab value accepted by the API.
type Field struct {
	Name        string
	Description string
}

// Generator builds the OpenAPI document for the metabolic panel API.
type Generator struct {
	version   string
	baseURL   string
	labFields []Field
}

// NewGenerator creates a generator. labFields lists the lab inputs in the
// order they are documented.
func NewGenerator(version, baseURL string, labFields []Field) *Generator {
	return &Generator{version: version, baseURL: baseURL, labFields: labFields}
}

// GenerateDocument produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateDocument() map[string]interface{} {
	paths := map[string]interface{}{
		"/api/v1/metabolic-panel/indices": map[string]interface{}{
			"post": map[string]interface{}{
				"summary":     "Compute the metabolic indices",
				"operationId": "computeIndices",
				"tags":        []string{"metabolic-panel"},
				"parameters": []map[string]interface{}{
					{
						"name":        "_format",
						"in":          "query",
						"description": "Set to \"fhir\" to receive a Bundle of Observations.",
						"schema":      map[string]interface{}{"type": "string", "enum": []string{"fhir"}},
					},
				},
				"requestBody": jsonBody("#/components/schemas/LabValues"),
				"responses": map[string]interface{}{
					"200": map[string]interface{}{
						"description": "Indices and comments, or a FHIR Bundle",
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"oneOf": []map[string]interface{}{
										{"$ref": "#/components/schemas/Interpretation"},
										{"$ref": "#/components/schemas/Bundle"},
									},
								},
							},
						},
					},
					"400": outcomeResponse("Malformed request body"),
					"422": outcomeResponse("One or more lab values are not numeric"),
				},
			},
		},
		"/api/v1/metabolic-panel/reports": map[string]interface{}{
			"post": map[string]interface{}{
				"summary":     "Assemble a PDF report",
				"operationId": "renderReport",
				"tags":        []string{"metabolic-panel"},
				"requestBody": jsonBody("#/components/schemas/ReportSubmission"),
				"responses": map[string]interface{}{
					"200": map[string]interface{}{
						"description": "The assembled report",
						"content": map[string]interface{}{
							"application/pdf": map[string]interface{}{
								"schema": map[string]interface{}{"type": "string", "format": "binary"},
							},
						},
					},
					"400": outcomeResponse("Malformed request body"),
					"422": outcomeResponse("One or more lab values are not numeric"),
					"500": outcomeResponse("The report could not be assembled"),
				},
			},
		},
		"/reports/{id}/download": map[string]interface{}{
			"get": map[string]interface{}{
				"summary":     "Download a generated report",
				"operationId": "downloadReport",
				"tags":        []string{"reports"},
				"parameters": []map[string]interface{}{
					{"name": "id", "in": "path", "required": true, "schema": map[string]string{"type": "string", "format": "uuid"}},
					{"name": "token", "in": "query", "required": true, "schema": map[string]string{"type": "string"}},
				},
				"responses": map[string]interface{}{
					"200": map[string]interface{}{
						"description": "The report",
						"content": map[string]interface{}{
							"application/pdf": map[string]interface{}{
								"schema": map[string]interface{}{"type": "string", "format": "binary"},
							},
						},
					},
					"403": map[string]interface{}{"description": "Missing, invalid or expired token"},
					"404": map[string]interface{}{"description": "Report expired or unknown"},
				},
			},
		},
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Extended Metabolic Panel API",
			"version":     g.version,
			"description": "Computes Castelli, LDL/HDL, Triglycerides/HDL and HOMA-IR indices and assembles PDF reports.",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": g.componentSchemas(),
		},
	}
}

func jsonBody(schemaRef string) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": schemaRef},
			},
		},
	}
}

func outcomeResponse(description string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/fhir+json": map[string]interface{}{
				"schema": map[string]interface{}{"$ref": "#/components/schemas/OperationOutcome"},
			},
		},
	}
}

// ── Component schemas ───────────────────────────────────────────────────

func (g *Generator) componentSchemas() map[string]interface{} {
	return map[string]interface{}{
		"LabValues":        g.labValuesSchema(),
		"Patient":          patientSchema(),
		"ReportSubmission": reportSubmissionSchema(),
		"Index":            indexSchema(),
		"Interpretation":   interpretationSchema(),
		"Coding":           codingSchema(),
		"CodeableConcept":  codeableConceptSchema(),
		"Quantity":         quantitySchema(),
		"Observation":      observationSchema(),
		"Bundle":           bundleSchema(),
		"OperationOutcome": operationOutcomeSchema(),
	}
}

// labValuesSchema accepts each value as a number or a string; strings may
// use a decimal comma.
func (g *Generator) labValuesSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(g.labFields))
	required := make([]string, 0, len(g.labFields))
	for _, f := range g.labFields {
		props[f.Name] = map[string]interface{}{
			"description": f.Description,
			"oneOf": []map[string]interface{}{
				{"type": "number"},
				{"type": "string", "example": "5,5"},
			},
		}
		required = append(required, f.Name)
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func patientSchema() map[string]interface{} {
	str := map[string]interface{}{"type": "string"}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":        str,
			"identifier":  str,
			"sample_date": str,
			"sample_time": str,
			"laboratory":  str,
			"validator":   str,
		},
	}
}

func reportSubmissionSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"patient":             map[string]interface{}{"$ref": "#/components/schemas/Patient"},
			"lab_values":          map[string]interface{}{"$ref": "#/components/schemas/LabValues"},
			"vital_signs":         map[string]interface{}{"type": "string"},
			"complementary_exams": map[string]interface{}{"type": "string"},
		},
		"required": []string{"lab_values"},
	}
}

func indexSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type": "string",
				"enum": []string{"Castelli", "LDL/HDL", "Triglycerides/HDL", "HOMA-IR"},
			},
			"value":    map[string]interface{}{"type": "number", "description": "Rounded to two decimals"},
			"elevated": map[string]interface{}{"type": "boolean"},
		},
		"required": []string{"name", "value", "elevated"},
	}
}

func interpretationSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"indices": map[string]interface{}{
				"type":     "array",
				"minItems": 4,
				"maxItems": 4,
				"items":    map[string]interface{}{"$ref": "#/components/schemas/Index"},
			},
			"comments": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"indices", "comments"},
	}
}

func codingSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"system":  map[string]interface{}{"type": "string", "format": "uri"},
			"code":    map[string]interface{}{"type": "string"},
			"display": map[string]interface{}{"type": "string"},
		},
	}
}

func codeableConceptSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"coding": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"$ref": "#/components/schemas/Coding"},
			},
			"text": map[string]interface{}{"type": "string"},
		},
	}
}

func quantitySchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"value":  map[string]interface{}{"type": "number"},
			"unit":   map[string]interface{}{"type": "string"},
			"system": map[string]interface{}{"type": "string", "format": "uri"},
			"code":   map[string]interface{}{"type": "string"},
		},
	}
}

func observationSchema() map[string]interface{} {
	concepts := map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"$ref": "#/components/schemas/CodeableConcept"},
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"resourceType":      map[string]interface{}{"type": "string", "enum": []string{"Observation"}},
			"status":            map[string]interface{}{"type": "string"},
			"category":          concepts,
			"code":              map[string]interface{}{"$ref": "#/components/schemas/CodeableConcept"},
			"effectiveDateTime": map[string]interface{}{"type": "string", "format": "date"},
			"issued":            map[string]interface{}{"type": "string", "format": "date-time"},
			"valueQuantity":     map[string]interface{}{"$ref": "#/components/schemas/Quantity"},
			"interpretation":    concepts,
			"note": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
				},
			},
		},
		"required": []string{"resourceType", "status", "code"},
	}
}

func bundleSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"resourceType": map[string]interface{}{"type": "string", "enum": []string{"Bundle"}},
			"id":           map[string]interface{}{"type": "string"},
			"type":         map[string]interface{}{"type": "string", "enum": []string{"collection"}},
			"timestamp":    map[string]interface{}{"type": "string", "format": "date-time"},
			"entry": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"fullUrl":  map[string]interface{}{"type": "string", "format": "uri"},
						"resource": map[string]interface{}{"$ref": "#/components/schemas/Observation"},
					},
				},
			},
		},
	}
}

func operationOutcomeSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"resourceType": map[string]interface{}{"type": "string", "enum": []string{"OperationOutcome"}},
			"issue": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"severity": map[string]interface{}{
							"type": "string",
							"enum": []string{"fatal", "error", "warning", "information"},
						},
						"code":        map[string]interface{}{"type": "string"},
						"diagnostics": map[string]interface{}{"type": "string"},
						"expression": map[string]interface{}{
							"type":  "array",
							"items": map[string]interface{}{"type": "string"},
						},
					},
					"required": []string{"severity", "code"},
				},
			},
		},
		"required": []string{"resourceType", "issue"},
	}
}

// RegisterRoutes registers the OpenAPI document endpoint.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateDocument())
	})
}
