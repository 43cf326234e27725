package fhir

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// NewCollectionBundle wraps resources in a collection Bundle. Each entry is
// addressed by a fresh urn:uuid since the resources are not persisted.
func NewCollectionBundle(resources []interface{}, now time.Time) (*Bundle, error) {
	entries := make([]BundleEntry, 0, len(resources))
	for i, r := range resources {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encoding bundle entry %d: %w", i, err)
		}
		entries = append(entries, BundleEntry{
			FullURL:  "urn:uuid:" + uuid.New().String(),
			Resource: raw,
		})
	}
	ts := now.UTC()
	total := len(entries)
	return &Bundle{
		ResourceType: "Bundle",
		ID:           uuid.New().String(),
		Type:         "collection",
		Total:        &total,
		Entry:        entries,
		Timestamp:    &ts,
	}, nil
}
