package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/brunobiangulo/medreason/knowledge"
)

const (
	labConfidence         = 0.8
	vitalConfidence       = 0.8
	knownDrugConfidence   = 0.9
	unknownDrugConfidence = 0.6
)

// LabTestDef names a catalog test and the spellings that identify it in
// report text. Name is the canonical spelling reported in LabResult.
type LabTestDef struct {
	Name    string
	Aliases []string
}

// DefaultLabTests is the built-in lab catalog.
var DefaultLabTests = []LabTestDef{
	{Name: "Hemoglobin", Aliases: []string{"Hemoglobin", "Haemoglobin", "Hgb", "Hb"}},
	{Name: "Glucose", Aliases: []string{"Fasting Glucose", "Blood Glucose", "Glucose", "Blood Sugar"}},
	{Name: "Cholesterol", Aliases: []string{"Total Cholesterol", "Cholesterol"}},
	{Name: "Creatinine", Aliases: []string{"Serum Creatinine", "Creatinine"}},
	{Name: "WBC", Aliases: []string{"White Blood Cells", "White Blood Cell Count", "WBC"}},
	{Name: "RBC", Aliases: []string{"Red Blood Cells", "Red Blood Cell Count", "RBC"}},
	{Name: "Platelets", Aliases: []string{"Platelet Count", "Platelets", "PLT"}},
}

// LabTerms returns the lower-cased names and aliases of the default catalog.
func LabTerms() []string {
	var terms []string
	for _, d := range DefaultLabTests {
		terms = append(terms, strings.ToLower(d.Name))
		for _, a := range d.Aliases {
			if !strings.EqualFold(a, d.Name) {
				terms = append(terms, strings.ToLower(a))
			}
		}
	}
	return terms
}

// Option configures a Structured extractor.
type Option func(*Structured)

// WithLabTests adds catalog entries after the defaults.
func WithLabTests(defs ...LabTestDef) Option {
	return func(s *Structured) { s.catalog = append(s.catalog, defs...) }
}

type labPattern struct {
	name string
	res  []*regexp.Regexp
}

// rule fills one group of fields. Rules run independently; a rule that
// finds nothing leaves its fields unset.
type rule struct {
	name  string
	apply func(text string, out *StructuredData)
}

// Structured extracts patient, lab, medication, diagnosis, vital and report
// metadata fields with an ordered rule list.
type Structured struct {
	kb      Lookup
	catalog []LabTestDef
	labs    []labPattern
	rules   []rule
}

// NewStructured builds the extractor. kb resolves medication names and
// may be nil.
func NewStructured(kb Lookup, opts ...Option) *Structured {
	s := &Structured{kb: kb, catalog: append([]LabTestDef(nil), DefaultLabTests...)}
	for _, o := range opts {
		o(s)
	}
	for _, def := range s.catalog {
		lp := labPattern{name: def.Name}
		aliases := def.Aliases
		if len(aliases) == 0 {
			aliases = []string{def.Name}
		}
		for _, a := range aliases {
			lp.res = append(lp.res, regexp.MustCompile(
				`(?i)\b`+regexp.QuoteMeta(a)+`\b[ \t]*:?[ \t]*(\d+(?:\.\d+)?)(?:[ \t]*([^\s(,;]+))?(?:[ \t]*\(([^)]*)\))?`))
		}
		s.labs = append(s.labs, lp)
	}
	s.rules = []rule{
		{"patient", extractPatient},
		{"lab_results", s.extractLabs},
		{"medications", s.extractMedications},
		{"diagnoses", extractDiagnoses},
		{"vitals", extractVitals},
		{"report_type", func(text string, out *StructuredData) { out.ReportType = ClassifyReport(text) }},
		{"date", extractDate},
		{"physician", extractPhysician},
		{"institution", extractInstitution},
	}
	return s
}

// Extract runs every rule over text. It fails only for blank input.
func (s *Structured) Extract(text string) (*StructuredData, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	out := &StructuredData{ReportType: ReportMedical}
	for _, r := range s.rules {
		s.run(r, text, out)
	}
	slog.Debug("extract: structured data",
		"labs", len(out.LabResults),
		"medications", len(out.Medications),
		"vitals", len(out.Vitals),
		"report_type", out.ReportType,
	)
	return out, nil
}

func (s *Structured) run(r rule, text string, out *StructuredData) {
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("extract: rule failed", "rule", r.name, "panic", fmt.Sprint(p))
		}
	}()
	r.apply(text, out)
}

// ---------------------------------------------------------------------------
// Patient
// ---------------------------------------------------------------------------

var (
	patientNameRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bpatient(?:[ \t]+name)?[ \t]*:[ \t]*([A-Za-z][A-Za-z .'\-]*[A-Za-z.])`),
		regexp.MustCompile(`(?i)\bname[ \t]*:[ \t]*([A-Za-z][A-Za-z .'\-]*[A-Za-z.])`),
	}
	patientAgeRe    = regexp.MustCompile(`(?i)\bage[ \t]*:[ \t]*(\d{1,3})\b`)
	patientGenderRe = regexp.MustCompile(`(?i)\b(?:gender|sex)[ \t]*:[ \t]*(male|female|other|m|f)\b`)
	patientIDRe     = regexp.MustCompile(`(?i)\b(?:patient[ \t]+id|mrn|id)[ \t]*[:#][ \t]*([A-Za-z0-9][A-Za-z0-9\-]*)`)
)

func extractPatient(text string, out *StructuredData) {
	for _, re := range patientNameRe {
		if m := re.FindStringSubmatch(text); m != nil {
			out.Patient.Name = strings.TrimSpace(m[1])
			break
		}
	}
	if m := patientAgeRe.FindStringSubmatch(text); m != nil {
		if age, err := strconv.Atoi(m[1]); err == nil && age > 0 && age < 150 {
			out.Patient.Age = age
		}
	}
	if m := patientGenderRe.FindStringSubmatch(text); m != nil {
		switch strings.ToLower(m[1]) {
		case "m", "male":
			out.Patient.Gender = "Male"
		case "f", "female":
			out.Patient.Gender = "Female"
		default:
			out.Patient.Gender = "Other"
		}
	}
	if m := patientIDRe.FindStringSubmatch(text); m != nil {
		out.Patient.ID = m[1]
	}
}

// ---------------------------------------------------------------------------
// Lab results
// ---------------------------------------------------------------------------

var (
	rangeRe       = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*-\s*(\d+(?:\.\d+)?)`)
	rangePrefixRe = regexp.MustCompile(`(?i)^\s*(?:normal(?:\s+range)?|ref(?:erence)?(?:\s+range)?|range)\s*:?\s*`)
	unitWords     = map[string]bool{"fl": true, "pg": true, "g": true, "mg": true, "iu": true, "u": true, "meq": true, "mmol": true, "cells": true}
)

func (s *Structured) extractLabs(text string, out *StructuredData) {
	for _, lp := range s.labs {
		for _, re := range lp.res {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			value, unit, ref := m[1], m[2], strings.TrimSpace(rangePrefixRe.ReplaceAllString(m[3], ""))
			if !looksLikeUnit(unit) {
				unit = ""
			}
			v, err := strconv.ParseFloat(value, 64)
			status := StatusUnknown
			if err == nil {
				status = ClassifyStatus(v, ref)
			}
			out.LabResults = append(out.LabResults, LabResult{
				TestName:       lp.name,
				Value:          value,
				Unit:           unit,
				ReferenceRange: ref,
				Status:         status,
				Confidence:     labConfidence,
			})
			break
		}
	}
}

func looksLikeUnit(u string) bool {
	if u == "" {
		return false
	}
	if strings.ContainsAny(u, "/%^") {
		return true
	}
	return unitWords[strings.ToLower(u)]
}

// ClassifyStatus grades value against a "min-max" range. Any other range
// syntax, including "<N" and ">N", yields StatusUnknown.
func ClassifyStatus(value float64, rangeText string) LabStatus {
	m := rangeRe.FindStringSubmatch(rangeText)
	if m == nil {
		return StatusUnknown
	}
	lo, err1 := strconv.ParseFloat(m[1], 64)
	hi, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || lo > hi {
		return StatusUnknown
	}
	switch {
	case value < lo:
		return StatusLow
	case value > hi:
		return StatusHigh
	default:
		return StatusNormal
	}
}

// ---------------------------------------------------------------------------
// Medications
// ---------------------------------------------------------------------------

var medicationRe = regexp.MustCompile(`(?i)\b([a-z][a-z\-]{2,})[ \t]+(\d+(?:\.\d+)?)[ \t]?(mcg|mg|ml|g)\b(/?)` +
	`(?:[ \t]+(every[ \t]+\d+[ \t]+hours?|as[ \t]+needed|at[ \t]+bedtime|once|twice|thrice|daily|bid|tid|qid|qd|prn|weekly)\b)?`)

var medicationStopWords = map[string]bool{
	"take": true, "takes": true, "taking": true, "dose": true, "total": true, "daily": true,
	"with": true, "and": true, "the": true, "of": true, "weight": true, "approximately": true,
	"about": true, "than": true, "was": true, "is": true, "at": true,
}

func (s *Structured) extractMedications(text string, out *StructuredData) {
	labWords := make(map[string]bool)
	for _, def := range s.catalog {
		labWords[strings.ToLower(def.Name)] = true
		for _, a := range def.Aliases {
			for _, w := range strings.Fields(a) {
				labWords[strings.ToLower(w)] = true
			}
		}
	}

	for _, m := range medicationRe.FindAllStringSubmatch(text, -1) {
		name, amount, unit, slash, freq := m[1], m[2], strings.ToLower(m[3]), m[4], m[5]
		lower := strings.ToLower(name)
		if slash == "/" || labWords[lower] || medicationStopWords[lower] {
			continue
		}
		conf := unknownDrugConfidence
		if s.kb != nil && len(s.kb.SearchEntities(name, knowledge.TypeDrug)) > 0 {
			conf = knownDrugConfidence
		}
		out.Medications = append(out.Medications, MedicationEntry{
			Name:       name,
			Dosage:     amount + " " + unit,
			Frequency:  strings.ToLower(strings.Join(strings.Fields(freq), " ")),
			Confidence: conf,
		})
	}
}

// ---------------------------------------------------------------------------
// Diagnoses and vitals
// ---------------------------------------------------------------------------

var diagnosisRe = regexp.MustCompile(`(?i)\b(?:diagnosis|impression|assessment)[ \t]*:[ \t]*([^\n]+)`)

func extractDiagnoses(text string, out *StructuredData) {
	m := diagnosisRe.FindStringSubmatch(text)
	if m == nil {
		return
	}
	for _, d := range strings.Split(m[1], ";") {
		if d = strings.TrimRight(strings.TrimSpace(d), "."); d != "" {
			out.Diagnoses = append(out.Diagnoses, d)
		}
	}
}

var vitalRules = []struct {
	kind string
	unit string
	re   *regexp.Regexp
}{
	{"blood_pressure", "mmHg", regexp.MustCompile(`(?i)\b(?:blood[ \t]+pressure|bp)[ \t]*:?[ \t]*(\d{2,3}[ \t]*/[ \t]*\d{2,3})`)},
	{"heart_rate", "bpm", regexp.MustCompile(`(?i)\b(?:heart[ \t]+rate|pulse|hr)[ \t]*:?[ \t]*(\d{2,3})\b`)},
	{"temperature", "°F", regexp.MustCompile(`(?i)\b(?:temperature|temp)[ \t]*:?[ \t]*(\d{2,3}(?:\.\d+)?)`)},
	{"weight", "kg", regexp.MustCompile(`(?i)\bweight[ \t]*:?[ \t]*(\d{1,3}(?:\.\d+)?)`)},
	{"height", "cm", regexp.MustCompile(`(?i)\bheight[ \t]*:?[ \t]*(\d{2,3}(?:\.\d+)?)`)},
}

func extractVitals(text string, out *StructuredData) {
	for _, vr := range vitalRules {
		m := vr.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		out.Vitals = append(out.Vitals, VitalSign{
			Type:       vr.kind,
			Value:      strings.Join(strings.Fields(m[1]), ""),
			Unit:       vr.unit,
			Confidence: vitalConfidence,
		})
	}
}

// ---------------------------------------------------------------------------
// Report type
// ---------------------------------------------------------------------------

const (
	ReportBloodTest = "Blood Test"
	ReportXRay      = "X-Ray"
	ReportMRI       = "MRI"
	ReportCT        = "CT Scan"
	ReportCardiac   = "Cardiac Test"
	ReportMedical   = "Medical Report"
)

// reportKeywords is checked in order; the first matching class wins.
var reportKeywords = []struct {
	label string
	re    *regexp.Regexp
}{
	{ReportBloodTest, regexp.MustCompile(`(?i)\b(?:blood[ \t]+(?:test|count|work|panel)|cbc|hemoglobin|glucose|cholesterol|lipid[ \t]+panel)\b`)},
	{ReportXRay, regexp.MustCompile(`(?i)\b(?:x-?ray|radiograph)`)},
	{ReportMRI, regexp.MustCompile(`(?i)\b(?:mri|magnetic[ \t]+resonance)\b`)},
	{ReportCT, regexp.MustCompile(`(?i)\b(?:ct[ \t]+scan|ct|computed[ \t]+tomography|cat[ \t]+scan)\b`)},
	{ReportCardiac, regexp.MustCompile(`(?i)\b(?:ecg|ekg|electrocardiogram|echocardiogram|cardiac|stress[ \t]+test)\b`)},
}

// ClassifyReport assigns one report class by keyword priority.
func ClassifyReport(text string) string {
	for _, k := range reportKeywords {
		if k.re.MatchString(text) {
			return k.label
		}
	}
	return ReportMedical
}

// ---------------------------------------------------------------------------
// Date, physician, institution
// ---------------------------------------------------------------------------

var (
	dateLabelRe = regexp.MustCompile(`(?im)\b(?:report[ \t]+date|collection[ \t]+date|date(?:[ \t]+of[ \t]+(?:report|service|collection))?)[ \t]*:[ \t]*([^\n]+?)[ \t]*$`)
	dateTokenRe = regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?[ \t]+\d{1,2},?[ \t]+\d{4})\b`)

	physicianLabelRe = regexp.MustCompile(`(?i)\b(?:physician|doctor)[ \t]*:[ \t]*([^\n,;]+)`)
	drNameRe         = regexp.MustCompile(`\bDr\.?[ \t]+([A-Z][A-Za-z'\-]+(?:[ \t]+[A-Z][A-Za-z'\-]+)?)`)

	institutionLabelRe = regexp.MustCompile(`(?i)\b(?:hospital|clinic|institution|laboratory|facility)[ \t]*:[ \t]*([^\n,;]+)`)
	institutionNameRe  = regexp.MustCompile(`\b((?:[A-Z][A-Za-z'&.\-]*[ \t]+)+(?:Hospital|Clinic|Medical Center|Laboratory|Laboratories))\b`)
)

func extractDate(text string, out *StructuredData) {
	if m := dateLabelRe.FindStringSubmatch(text); m != nil {
		out.Date = strings.TrimSpace(m[1])
		return
	}
	if m := dateTokenRe.FindStringSubmatch(text); m != nil {
		out.Date = m[1]
	}
}

func extractPhysician(text string, out *StructuredData) {
	if m := physicianLabelRe.FindStringSubmatch(text); m != nil {
		out.Physician = strings.TrimSpace(m[1])
		return
	}
	if m := drNameRe.FindStringSubmatch(text); m != nil {
		out.Physician = "Dr. " + m[1]
	}
}

func extractInstitution(text string, out *StructuredData) {
	if m := institutionLabelRe.FindStringSubmatch(text); m != nil {
		out.Institution = strings.TrimSpace(m[1])
		return
	}
	if m := institutionNameRe.FindStringSubmatch(text); m != nil {
		out.Institution = strings.TrimSpace(m[1])
	}
}
