package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalEntityDispatchesOnType(t *testing.T) {
	entities, _ := SeedData()
	for _, e := range entities {
		t.Run(e.Common().ID, func(t *testing.T) {
			data, err := MarshalEntity(e)
			require.NoError(t, err)

			got, err := UnmarshalEntity(data)
			require.NoError(t, err)
			assert.IsType(t, e, got)
			assert.Equal(t, e.Common().Name, got.Common().Name)
		})
	}
}

func TestUnmarshalEntityUnknownType(t *testing.T) {
	_, err := UnmarshalEntity([]byte(`{"id":"x","type":"gadget"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestUnmarshalEntityGenericKinds(t *testing.T) {
	got, err := UnmarshalEntity([]byte(`{"id":"cough","type":"symptom","name":"Cough"}`))
	require.NoError(t, err)
	g, ok := got.(*Generic)
	require.True(t, ok)
	assert.Equal(t, TypeSymptom, g.Type)
}

func TestAddSynonymsDeduplicates(t *testing.T) {
	b := Base{Name: "Metformin", Synonyms: []string{"Glucophage"}}
	b.AddSynonyms("glucophage", "metformin", "Fortamet", "", "Fortamet")
	assert.Equal(t, []string{"Glucophage", "Fortamet"}, b.Synonyms)
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Paracetamol":         "paracetamol",
		"  Vitamin B12  ":     "vitamin-b12",
		"Amoxicillin/Clavul.": "amoxicillin-clavul",
		"---":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slug(in), in)
	}
}
