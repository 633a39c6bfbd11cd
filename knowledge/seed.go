package knowledge

import "time"

var seededAt = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// SeedData returns the built-in reference set: two drugs, one condition and
// one lab test, plus the edges between them. Each call returns fresh values.
func SeedData() ([]Entity, []Relationship) {
	entities := []Entity{
		&Drug{
			Base: Base{
				ID:          "paracetamol",
				Type:        TypeDrug,
				Name:        "Paracetamol",
				Synonyms:    []string{"Acetaminophen", "APAP", "Tylenol"},
				Description: "Analgesic and antipyretic used for mild to moderate pain and fever.",
				Category:    "Analgesic",
				Sources:     []string{"WHO Model List of Essential Medicines", "FDA Drug Label"},
				LastUpdated: seededAt,
			},
			GenericName:       "paracetamol",
			BrandNames:        []string{"Tylenol", "Panadol", "Calpol"},
			DosageForm:        "tablet",
			Strength:          []string{"325 mg", "500 mg", "650 mg"},
			Indications:       []string{"fever", "headache", "mild to moderate pain"},
			Contraindications: []string{"severe hepatic impairment"},
			SideEffects:       []string{"nausea", "rash", "hepatotoxicity in overdose"},
			Interactions:      []string{"warfarin", "alcohol"},
			Mechanism:         "Inhibits prostaglandin synthesis in the central nervous system.",
			Pharmacokinetics: Pharmacokinetics{
				Absorption:   "Rapid oral absorption, peak in 30-60 minutes",
				Distribution: "Widely distributed, low protein binding",
				Metabolism:   "Hepatic glucuronidation and sulfation",
				Elimination:  "Renal, half-life 2-3 hours",
			},
			Pricing: Pricing{Average: 5, Min: 2, Max: 10, Currency: "USD"},
		},
		&Drug{
			Base: Base{
				ID:          "ibuprofen",
				Type:        TypeDrug,
				Name:        "Ibuprofen",
				Synonyms:    []string{"Advil", "Motrin", "Nurofen"},
				Description: "Nonsteroidal anti-inflammatory drug for pain, fever and inflammation.",
				Category:    "NSAID",
				Sources:     []string{"WHO Model List of Essential Medicines", "FDA Drug Label"},
				LastUpdated: seededAt,
			},
			GenericName:       "ibuprofen",
			BrandNames:        []string{"Advil", "Motrin", "Nurofen"},
			DosageForm:        "tablet",
			Strength:          []string{"200 mg", "400 mg", "600 mg", "800 mg"},
			Indications:       []string{"pain", "fever", "inflammation", "dysmenorrhea"},
			Contraindications: []string{"active peptic ulcer", "severe heart failure", "third trimester of pregnancy"},
			SideEffects:       []string{"dyspepsia", "gastrointestinal bleeding", "raised blood pressure"},
			Interactions:      []string{"aspirin", "warfarin", "lisinopril"},
			Mechanism:         "Non-selective inhibition of cyclooxygenase COX-1 and COX-2.",
			Pharmacokinetics: Pharmacokinetics{
				Absorption:   "Well absorbed orally, peak in 1-2 hours",
				Distribution: "Highly protein bound",
				Metabolism:   "Hepatic via CYP2C9",
				Elimination:  "Renal, half-life about 2 hours",
			},
			Pricing: Pricing{Average: 6, Min: 3, Max: 12, Currency: "USD"},
		},
		&Condition{
			Base: Base{
				ID:          "hypertension",
				Type:        TypeCondition,
				Name:        "Hypertension",
				Synonyms:    []string{"High Blood Pressure", "HTN"},
				Description: "Persistently elevated arterial blood pressure.",
				Category:    "Cardiovascular",
				Sources:     []string{"ICD-10-CM", "AHA/ACC Guideline"},
				LastUpdated: seededAt,
			},
			ICDCode:     "I10",
			Symptoms:    []string{"often asymptomatic", "headache", "dizziness"},
			Causes:      []string{"primary (essential)", "renal disease", "endocrine disorders"},
			RiskFactors: []string{"age", "obesity", "high sodium intake", "family history"},
			Diagnosis:   []string{"repeated office blood pressure readings", "ambulatory monitoring"},
			Treatment:   []string{"lifestyle modification", "ACE inhibitors", "thiazide diuretics"},
			Prognosis:   "Good with control; untreated it raises cardiovascular risk.",
			Prevalence:  "About 1 in 3 adults",
			Severity:    SeverityModerate,
		},
		&LabTest{
			Base: Base{
				ID:          "hemoglobin",
				Type:        TypeLabTest,
				Name:        "Hemoglobin",
				Synonyms:    []string{"Hb", "Hgb", "Haemoglobin"},
				Description: "Oxygen-carrying protein in red blood cells, measured in a complete blood count.",
				Category:    "Hematology",
				Sources:     []string{"MedlinePlus Lab Tests", "Clinical Laboratory Reference"},
				LastUpdated: seededAt,
			},
			ReferenceRanges: []ReferenceRange{
				{Gender: "male", NormalRange: NormalRange{Min: 13.5, Max: 17.5, Unit: "g/dL"}},
				{Gender: "female", NormalRange: NormalRange{Min: 12.0, Max: 15.5, Unit: "g/dL"}},
			},
			ClinicalSignificance: "Low values suggest anemia; high values may indicate polycythemia or dehydration.",
			Methodology:          "Automated hematology analyzer",
			SpecimenType:         "Whole blood (EDTA)",
			TurnaroundTime:       "Same day",
		},
	}

	rels := []Relationship{
		{From: "ibuprofen", To: "hypertension", Type: "contraindicated", Weight: 0.6},
		{From: "hypertension", To: "hemoglobin", Type: "monitored_by", Weight: 0.4},
		{From: "paracetamol", To: "fever", Type: "treats", Weight: 0.9},
		{From: "ibuprofen", To: "paracetamol", Type: "interacts_with", Weight: 0.3},
	}
	return entities, rels
}
