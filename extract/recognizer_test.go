package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/medreason/knowledge"
)

func TestRecognizeKnownTerms(t *testing.T) {
	r := NewRecognizer(seededGraph(t))
	text := "Started Tylenol; history of HYPERTENSION. Hgb stable."

	ents := r.Recognize(text)

	find := func(kind Kind) *ExtractedEntity {
		for i := range ents {
			if ents[i].Type == kind {
				return &ents[i]
			}
		}
		return nil
	}

	med := find(KindMedication)
	require.NotNil(t, med)
	assert.Equal(t, "Tylenol", med.Text)
	assert.Equal(t, "Paracetamol", med.NormalizedForm)
	assert.Equal(t, 0.8, med.Confidence)
	assert.Equal(t, "Tylenol", text[med.Position.Start:med.Position.End])

	cond := find(KindCondition)
	require.NotNil(t, cond)
	assert.Equal(t, "HYPERTENSION", cond.Text)
	assert.Equal(t, "Hypertension", cond.NormalizedForm)

	lab := find(KindLabTest)
	require.NotNil(t, lab)
	assert.Equal(t, "Hgb", lab.Text)
	assert.Equal(t, "Hemoglobin", lab.NormalizedForm)
}

func TestRecognizeMultipleTypesPerToken(t *testing.T) {
	g := knowledge.New(nil, knowledge.WithSeed([]knowledge.Entity{
		&knowledge.Condition{Base: knowledge.Base{ID: "anemia", Type: knowledge.TypeCondition, Name: "Anemia", Synonyms: []string{"Ferritin deficiency"}}},
		&knowledge.LabTest{Base: knowledge.Base{ID: "ferritin", Type: knowledge.TypeLabTest, Name: "Ferritin"}},
	}, nil))
	require.NoError(t, g.Initialize(t.Context()))

	ents := NewRecognizer(g).Recognize("ferritin")
	require.Len(t, ents, 2)
	assert.Equal(t, KindCondition, ents[0].Type)
	assert.Equal(t, KindLabTest, ents[1].Type)
}

func TestRecognizeSkipsShortAndNumericTokens(t *testing.T) {
	r := NewRecognizer(seededGraph(t))
	assert.Empty(t, r.Recognize("a an 12 14.2 - ;"))
}

func TestRecognizeShortExactSynonym(t *testing.T) {
	r := NewRecognizer(seededGraph(t))

	ents := r.Recognize("Hb 13.2 g/dL, 5 mg")
	require.Len(t, ents, 1)
	assert.Equal(t, KindLabTest, ents[0].Type)
	assert.Equal(t, "Hb", ents[0].Text)
	assert.Equal(t, "Hemoglobin", ents[0].NormalizedForm)
}

func TestRecognizeNilLookup(t *testing.T) {
	assert.Nil(t, NewRecognizer(nil).Recognize("paracetamol"))
}

func TestTokenize(t *testing.T) {
	text := "  (Hb), value:\t14.2\n"
	toks := tokenize(text)
	require.Len(t, toks, 3)
	assert.Equal(t, "Hb", toks[0].text)
	assert.Equal(t, "Hb", text[toks[0].start:toks[0].end])
	assert.Equal(t, "value", toks[1].text)
	assert.Equal(t, "14.2", toks[2].text)
}
