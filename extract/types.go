// Package extract derives structured fields and knowledge-graph entities
// from plain report text.
package extract

import (
	"errors"

	"github.com/brunobiangulo/medreason/knowledge"
)

// ErrEmptyText is returned when there is nothing to extract from.
var ErrEmptyText = errors.New("extract: empty text")

// Lookup is the knowledge-graph search surface the extractors need.
// *knowledge.Graph satisfies it.
type Lookup interface {
	SearchEntities(query string, t knowledge.EntityType) []knowledge.Entity
}

// Kind classifies an extracted entity.
type Kind string

const (
	KindMedication Kind = "medication"
	KindCondition  Kind = "condition"
	KindLabTest    Kind = "lab_test"
	KindVital      Kind = "vital"
	KindPerson     Kind = "person"
	KindDate       Kind = "date"
	KindValue      Kind = "value"
)

// Position is a byte span [Start, End) in the source text.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ExtractedEntity is a span of text recognized as a known concept.
type ExtractedEntity struct {
	Text           string   `json:"text"`
	Type           Kind     `json:"type"`
	Confidence     float64  `json:"confidence"`
	Position       Position `json:"position"`
	NormalizedForm string   `json:"normalized_form,omitempty"`
}

// LabStatus grades a lab value against its reference range.
type LabStatus string

const (
	StatusLow     LabStatus = "low"
	StatusNormal  LabStatus = "normal"
	StatusHigh    LabStatus = "high"
	StatusUnknown LabStatus = "unknown"
)

type LabResult struct {
	TestName       string    `json:"test_name"`
	Value          string    `json:"value"`
	Unit           string    `json:"unit,omitempty"`
	ReferenceRange string    `json:"reference_range,omitempty"`
	Status         LabStatus `json:"status"`
	Confidence     float64   `json:"confidence"`
}

type MedicationEntry struct {
	Name       string  `json:"name"`
	Dosage     string  `json:"dosage"`
	Frequency  string  `json:"frequency,omitempty"`
	Confidence float64 `json:"confidence"`
}

type VitalSign struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Unit       string  `json:"unit"`
	Confidence float64 `json:"confidence"`
}

// PatientInfo fields are empty (Age zero) when not found.
type PatientInfo struct {
	Name   string `json:"name,omitempty"`
	Age    int    `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
	ID     string `json:"id,omitempty"`
}

// StructuredData is everything the rule set pulled out of one document.
type StructuredData struct {
	Patient     PatientInfo       `json:"patient"`
	LabResults  []LabResult       `json:"lab_results"`
	Medications []MedicationEntry `json:"medications"`
	Diagnoses   []string          `json:"diagnoses"`
	Vitals      []VitalSign       `json:"vitals"`
	ReportType  string            `json:"report_type"`
	Date        string            `json:"date,omitempty"`
	Physician   string            `json:"physician,omitempty"`
	Institution string            `json:"institution,omitempty"`
}
