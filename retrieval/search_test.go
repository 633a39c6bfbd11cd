package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/medreason/external"
	"github.com/brunobiangulo/medreason/knowledge"
	"github.com/brunobiangulo/medreason/llm"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) LookupDrug(ctx context.Context, query string) (*external.DrugRecord, error) {
	args := m.Called(ctx, query)
	rec, _ := args.Get(0).(*external.DrugRecord)
	return rec, args.Error(1)
}

type mockChat struct {
	mock.Mock
}

func (m *mockChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.ChatResponse)
	return resp, args.Error(1)
}

func newGraph(t *testing.T) *knowledge.Graph {
	t.Helper()
	g := knowledge.New(nil)
	require.NoError(t, g.Initialize(context.Background()))
	return g
}

var metformin = &external.DrugRecord{
	Name:         "Metformin",
	GenericName:  "metformin hydrochloride",
	BrandNames:   []string{"Glucophage"},
	Routes:       []string{"ORAL"},
	Category:     "Biguanide [EPC]",
	Indications:  []string{"type 2 diabetes mellitus"},
	Interactions: "Concomitant use with Ibuprofen or other NSAIDs may impair renal function. Alcohol potentiates lactic acidosis.",
	Source:       "openFDA Drug Label",
}

func TestSearchEmptyQuery(t *testing.T) {
	s := New(newGraph(t), nil, nil, nil, Config{})
	_, err := s.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchKnowledgeBaseTier(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddEntity(context.Background(), &knowledge.Condition{
		Base: knowledge.Base{ID: "fever", Type: knowledge.TypeCondition, Name: "Fever"},
	}))

	api := &mockAPI{}
	s := New(g, api, nil, nil, Config{})

	res, err := s.Search(context.Background(), "tylenol")
	require.NoError(t, err)
	api.AssertNotCalled(t, "LookupDrug", mock.Anything, mock.Anything)

	assert.Equal(t, TierKnowledgeBase, res.Tier)
	assert.Equal(t, 0.90, res.Confidence)
	assert.Equal(t, []string{"Medical Knowledge Base", "Open Medical Data"}, res.Sources)
	require.Len(t, res.Medicines, 1)
	assert.Equal(t, "paracetamol", res.Medicines[0].Drug.ID)
	assert.Equal(t, []string{"Fever"}, res.Medicines[0].RelatedConditions)
}

func TestSearchExternalTierPersistsIntoGraph(t *testing.T) {
	g := newGraph(t)
	api := &mockAPI{}
	api.On("LookupDrug", mock.Anything, "metformin").Return(metformin, nil).Once()
	s := New(g, api, nil, nil, Config{})

	res, err := s.Search(context.Background(), "metformin")
	require.NoError(t, err)
	assert.Equal(t, TierExternalAPI, res.Tier)
	assert.Equal(t, 0.75, res.Confidence)
	assert.Contains(t, res.Sources, "External Pharmaceutical API")
	require.Len(t, res.Medicines, 1)
	assert.Equal(t, []string{"Ibuprofen"}, res.Medicines[0].InteractingDrugs)

	stored, ok := g.GetEntity("metformin")
	require.True(t, ok)
	assert.Equal(t, "Metformin", stored.Common().Name)

	again, err := s.Search(context.Background(), "metformin")
	require.NoError(t, err)
	assert.Equal(t, TierKnowledgeBase, again.Tier)
	assert.Equal(t, 0.90, again.Confidence)
	assert.Equal(t, []string{"Ibuprofen"}, again.Medicines[0].InteractingDrugs)
	assert.Contains(t, again.Medicines[0].Drug.Interactions, "Ibuprofen")
	api.AssertExpectations(t)

	brand, err := s.Search(context.Background(), "glucophage")
	require.NoError(t, err)
	assert.Equal(t, TierKnowledgeBase, brand.Tier)
}

func TestSearchExternalMergesIntoExistingDrug(t *testing.T) {
	g := newGraph(t)
	api := &mockAPI{}
	api.On("LookupDrug", mock.Anything, "brufen").Return(&external.DrugRecord{
		Name:        "Ibuprofen",
		GenericName: "ibuprofen",
		BrandNames:  []string{"Brufen"},
		Indications: []string{"rheumatoid arthritis"},
		Source:      "openFDA Drug Label",
	}, nil).Once()
	s := New(g, api, nil, nil, Config{})

	res, err := s.Search(context.Background(), "brufen")
	require.NoError(t, err)
	assert.Equal(t, TierExternalAPI, res.Tier)

	e, ok := g.GetEntity("ibuprofen")
	require.True(t, ok)
	d := e.(*knowledge.Drug)
	assert.Equal(t, "USD", d.Pricing.Currency)
	assert.Equal(t, "Hepatic via CYP2C9", d.Pharmacokinetics.Metabolism)
	assert.Equal(t, []string{"pain", "fever", "inflammation", "dysmenorrhea"}, d.Indications)
	assert.Subset(t, d.Synonyms, []string{"Advil", "Motrin", "Nurofen", "brufen"})
	assert.Contains(t, d.BrandNames, "Brufen")
	assert.Contains(t, d.Sources, "FDA Drug Label")
	assert.Contains(t, d.Sources, "openFDA Drug Label")

	for _, q := range []string{"advil", "nurofen", "brufen"} {
		again, err := s.Search(context.Background(), q)
		require.NoError(t, err, q)
		assert.Equal(t, TierKnowledgeBase, again.Tier, q)
	}
	api.AssertExpectations(t)
}

func TestSearchKnowledgeBaseSeededInteraction(t *testing.T) {
	s := New(newGraph(t), nil, nil, nil, Config{})

	res, err := s.Search(context.Background(), "advil")
	require.NoError(t, err)
	require.Len(t, res.Medicines, 1)
	assert.Equal(t, []string{"Paracetamol"}, res.Medicines[0].InteractingDrugs)
	assert.Contains(t, res.Medicines[0].Drug.Interactions, "Paracetamol")
}

type failingBackend struct{}

func (failingBackend) LoadEntities(context.Context) ([]knowledge.Record, error) { return nil, nil }
func (failingBackend) LoadRelationships(context.Context) ([]knowledge.Relationship, error) {
	return nil, nil
}
func (failingBackend) SaveEntity(context.Context, knowledge.Record) error {
	return errors.New("disk full")
}
func (failingBackend) SaveRelationship(context.Context, knowledge.Relationship) error {
	return errors.New("disk full")
}

func TestSearchExternalPersistFailureIsNotFatal(t *testing.T) {
	g := knowledge.New(failingBackend{}, knowledge.WithSeed(nil, nil))
	api := &mockAPI{}
	api.On("LookupDrug", mock.Anything, "metformin").Return(metformin, nil)

	res, err := New(g, api, nil, nil, Config{}).Search(context.Background(), "metformin")
	require.NoError(t, err)
	assert.Equal(t, TierExternalAPI, res.Tier)

	_, ok := g.GetEntity("metformin")
	assert.True(t, ok, "in-memory write survives a failed persist")
}

const semanticJSON = `{"name": "Atorvastatin", "genericName": "atorvastatin", "brandNames": ["Lipitor"],
"category": "Statin", "description": "Lowers LDL cholesterol.", "indications": ["hyperlipidemia"],
"dosageForms": ["tablet 10 mg"], "sideEffects": ["myalgia"], "contraindications": ["active liver disease"],
"interactions": ["clarithromycin"], "mechanism": "HMG-CoA reductase inhibition"}`

func TestSearchFallsThroughToSemantic(t *testing.T) {
	api := &mockAPI{}
	api.On("LookupDrug", mock.Anything, "lipitor").Return(nil, external.ErrNotFound)
	chat := &mockChat{}
	chat.On("Chat", mock.Anything, mock.Anything).
		Return(&llm.ChatResponse{Content: "```json\n" + semanticJSON + "\n```"}, nil).Once()

	g := newGraph(t)
	s := New(g, api, chat, nil, Config{})

	res, err := s.Search(context.Background(), "lipitor")
	require.NoError(t, err)
	assert.Equal(t, TierAISemantic, res.Tier)
	assert.Equal(t, 0.65, res.Confidence)
	assert.Equal(t, []string{"AI Semantic Search", "Medical Literature"}, res.Sources)
	assert.Equal(t, "Atorvastatin", res.Medicines[0].Drug.Name)
	require.Len(t, res.Trace, 3)
	assert.Equal(t, "miss", res.Trace[0].Outcome)
	assert.Equal(t, "miss", res.Trace[1].Outcome)
	assert.Equal(t, "hit", res.Trace[2].Outcome)

	_, stored := g.GetEntity("atorvastatin")
	assert.False(t, stored, "semantic answers are not persisted")

	// Served from the memo; the mock allows a single call.
	res, err = s.Search(context.Background(), "  LIPITOR ")
	require.NoError(t, err)
	assert.Equal(t, TierAISemantic, res.Tier)
	chat.AssertExpectations(t)
}

func TestSearchExternalErrorFallsThrough(t *testing.T) {
	api := &mockAPI{}
	api.On("LookupDrug", mock.Anything, "lipitor").Return(nil, external.ErrUnavailable)
	chat := &mockChat{}
	chat.On("Chat", mock.Anything, mock.Anything).Return(&llm.ChatResponse{Content: semanticJSON}, nil)

	res, err := New(newGraph(t), api, chat, nil, Config{}).Search(context.Background(), "lipitor")
	require.NoError(t, err)
	assert.Equal(t, TierAISemantic, res.Tier)
	assert.Equal(t, "error", res.Trace[1].Outcome)
}

func TestSearchModelDeclines(t *testing.T) {
	for _, content := range []string{"null", "I cannot help with that.", `{"name": ""}`} {
		chat := &mockChat{}
		chat.On("Chat", mock.Anything, mock.Anything).Return(&llm.ChatResponse{Content: content}, nil)

		_, err := New(newGraph(t), nil, chat, nil, Config{}).Search(context.Background(), "zzfakedrug")
		assert.ErrorIs(t, err, ErrNoResults, content)
	}
}

func TestSearchAllTiersDisabled(t *testing.T) {
	res, err := New(newGraph(t), nil, nil, nil, Config{}).Search(context.Background(), "unknownium")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestSearchCancelledCallerStopsTiers(t *testing.T) {
	api := &mockAPI{}
	api.On("LookupDrug", mock.Anything, "metformin").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled)
	chat := &mockChat{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := New(newGraph(t), api, chat, nil, Config{}).Search(ctx, "metformin")
	assert.ErrorIs(t, err, context.Canceled)
	chat.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestSearchTierTimeout(t *testing.T) {
	api := &mockAPI{}
	api.On("LookupDrug", mock.Anything, "metformin").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	start := time.Now()
	_, err := New(newGraph(t), api, nil, nil, Config{Timeout: 20 * time.Millisecond}).Search(context.Background(), "metformin")
	assert.ErrorIs(t, err, ErrNoResults)
	assert.Less(t, time.Since(start), time.Second)
}

func TestContainsWord(t *testing.T) {
	assert.True(t, containsWord("use with ibuprofen.", "ibuprofen"))
	assert.False(t, containsWord("dexibuprofen", "ibuprofen"))
	assert.True(t, containsWord("dexibuprofen and ibuprofen", "ibuprofen"))
}
