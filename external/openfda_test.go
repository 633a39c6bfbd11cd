package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const metforminLabel = `{
  "meta": {"results": {"total": 1}},
  "results": [{
    "openfda": {
      "brand_name": ["Glucophage", "GLUCOPHAGE"],
      "generic_name": ["METFORMIN HYDROCHLORIDE"],
      "manufacturer_name": ["Example Pharma"],
      "route": ["ORAL"],
      "pharm_class_epc": ["Biguanide [EPC]"]
    },
    "indications_and_usage": ["Metformin is indicated as an adjunct to diet and exercise to improve glycemic control in adults with type 2 diabetes mellitus."],
    "contraindications": ["Severe renal impairment (eGFR below 30 mL/min/1.73 m2)."],
    "adverse_reactions": ["Diarrhea,   nausea and vomiting."],
    "drug_interactions": ["Carbonic anhydrase inhibitors such as topiramate may increase the risk of lactic acidosis. Alcohol potentiates the effect of metformin."],
    "mechanism_of_action": ["Decreases hepatic glucose production."],
    "dosage_forms_and_strengths": ["Tablets: 500 mg, 850 mg, 1000 mg"]
  }]
}`

func TestLookupDrugParsesLabel(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drug/label.json", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(metforminLabel))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k1", RateLimit: 100}, nil)
	rec, err := c.LookupDrug(context.Background(), "metformin")
	require.NoError(t, err)

	assert.Equal(t, "Metformin Hydrochloride", rec.Name)
	assert.Equal(t, "metformin hydrochloride", rec.GenericName)
	assert.Equal(t, []string{"Glucophage"}, rec.BrandNames)
	assert.Equal(t, "Biguanide [EPC]", rec.Category)
	assert.Equal(t, []string{"Diarrhea, nausea and vomiting."}, rec.SideEffects)
	assert.Contains(t, rec.Interactions, "topiramate")
	assert.Equal(t, []string{"Tablets: 500 mg, 850 mg, 1000 mg"}, rec.DosageForms)
	assert.Equal(t, "openFDA Drug Label", rec.Source)

	assert.Contains(t, gotQuery, "openfda.generic_name:%22metformin%22")
	assert.Contains(t, gotQuery, "api_key=k1")
	assert.Contains(t, gotQuery, "limit=1")
}

func TestLookupDrugNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"No matches found!"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 100}, nil)
	_, err := c.LookupDrug(context.Background(), "notadrug")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestLookupDrugServerErrorTripsBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 1000}, nil)
	for i := 0; i < 3; i++ {
		_, err := c.LookupDrug(context.Background(), "aspirin")
		require.ErrorIs(t, err, ErrUnavailable)
	}

	_, err := c.LookupDrug(context.Background(), "aspirin")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), hits.Load(), "open breaker must not reach the server")
}

func TestLookupDrugNotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 1000}, nil)
	for i := 0; i < 5; i++ {
		_, err := c.LookupDrug(context.Background(), "x")
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func TestLookupDrugHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 100}, nil)
	_, err := c.LookupDrug(ctx, "aspirin")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLookupDrugEmptyQuery(t *testing.T) {
	c := NewClient(Config{}, nil)
	_, err := c.LookupDrug(context.Background(), "  ")
	assert.Error(t, err)
}

func TestClip(t *testing.T) {
	long := strings.Repeat("word ", 300)
	got := clip(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len([]rune(got)), maxSectionRunes+3)
}
