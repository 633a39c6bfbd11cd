package knowledge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType discriminates the concrete entity kinds held in the graph.
type EntityType string

const (
	TypeDrug      EntityType = "drug"
	TypeCondition EntityType = "condition"
	TypeSymptom   EntityType = "symptom"
	TypeProcedure EntityType = "procedure"
	TypeLabTest   EntityType = "lab_test"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case TypeDrug, TypeCondition, TypeSymptom, TypeProcedure, TypeLabTest:
		return true
	}
	return false
}

// Base holds the fields shared by every entity.
type Base struct {
	ID          string            `json:"id"`
	Type        EntityType        `json:"type"`
	Name        string            `json:"name"`
	Synonyms    []string          `json:"synonyms,omitempty"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Sources     []string          `json:"sources,omitempty"`
	LastUpdated time.Time         `json:"last_updated"`
}

// Common returns the shared base record.
func (b *Base) Common() *Base { return b }

// AddSynonyms appends names not already present, compared case-insensitively.
func (b *Base) AddSynonyms(names ...string) {
	seen := make(map[string]bool, len(b.Synonyms)+1)
	seen[strings.ToLower(b.Name)] = true
	for _, s := range b.Synonyms {
		seen[strings.ToLower(s)] = true
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		b.Synonyms = append(b.Synonyms, n)
	}
}

// Entity is a closed sum over Drug, Condition, LabTest and Generic.
// Switch on the concrete type to reach the type-specific fields.
type Entity interface {
	Common() *Base
	sealed()
}

// Pharmacokinetics describes how a drug moves through the body.
type Pharmacokinetics struct {
	Absorption   string `json:"absorption,omitempty"`
	Distribution string `json:"distribution,omitempty"`
	Metabolism   string `json:"metabolism,omitempty"`
	Elimination  string `json:"elimination,omitempty"`
}

// Pricing is an indicative price band.
type Pricing struct {
	Average  float64 `json:"average,omitempty"`
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// Drug is a medication entity.
//
// Interactions is a display cache of interacting substance names. The
// interacts_with relationships in the graph are the canonical record.
type Drug struct {
	Base
	GenericName       string           `json:"generic_name,omitempty"`
	BrandNames        []string         `json:"brand_names,omitempty"`
	DosageForm        string           `json:"dosage_form,omitempty"`
	Strength          []string         `json:"strength,omitempty"`
	Indications       []string         `json:"indications,omitempty"`
	Contraindications []string         `json:"contraindications,omitempty"`
	SideEffects       []string         `json:"side_effects,omitempty"`
	Interactions      []string         `json:"interactions,omitempty"`
	Mechanism         string           `json:"mechanism,omitempty"`
	Pharmacokinetics  Pharmacokinetics `json:"pharmacokinetics"`
	Pricing           Pricing          `json:"pricing"`
}

// Severity grades a condition.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// Condition is a disease or disorder entity.
type Condition struct {
	Base
	ICDCode     string   `json:"icd_code,omitempty"`
	Symptoms    []string `json:"symptoms,omitempty"`
	Causes      []string `json:"causes,omitempty"`
	RiskFactors []string `json:"risk_factors,omitempty"`
	Diagnosis   []string `json:"diagnosis,omitempty"`
	Treatment   []string `json:"treatment,omitempty"`
	Prognosis   string   `json:"prognosis,omitempty"`
	Prevalence  string   `json:"prevalence,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
}

// NormalRange is a numeric reference interval.
type NormalRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Unit string  `json:"unit"`
}

// ReferenceRange qualifies a NormalRange by optional population filters.
type ReferenceRange struct {
	Age         string      `json:"age,omitempty"`
	Gender      string      `json:"gender,omitempty"`
	Condition   string      `json:"condition,omitempty"`
	NormalRange NormalRange `json:"normal_range"`
}

// LabTest is a laboratory test entity.
type LabTest struct {
	Base
	ReferenceRanges      []ReferenceRange `json:"reference_ranges,omitempty"`
	ClinicalSignificance string           `json:"clinical_significance,omitempty"`
	Methodology          string           `json:"methodology,omitempty"`
	SpecimenType         string           `json:"specimen_type,omitempty"`
	TurnaroundTime       string           `json:"turnaround_time,omitempty"`
}

// Generic carries symptoms and procedures, which have no extra fields.
type Generic struct {
	Base
}

func (*Drug) sealed()      {}
func (*Condition) sealed() {}
func (*LabTest) sealed()   {}
func (*Generic) sealed()   {}

// MarshalEntity encodes an entity as a single JSON object whose "type"
// field selects the concrete kind on decode.
func MarshalEntity(e Entity) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEntity decodes a payload produced by MarshalEntity.
func UnmarshalEntity(data []byte) (Entity, error) {
	var probe struct {
		Type EntityType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding entity type: %w", err)
	}

	var e Entity
	switch probe.Type {
	case TypeDrug:
		e = &Drug{}
	case TypeCondition:
		e = &Condition{}
	case TypeLabTest:
		e = &LabTest{}
	case TypeSymptom, TypeProcedure:
		e = &Generic{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decoding %s entity: %w", probe.Type, err)
	}
	return e, nil
}

// Slug converts a display name into a stable entity id.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
