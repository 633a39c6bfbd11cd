package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/medreason/knowledge"
	"github.com/brunobiangulo/medreason/llm"
)

const semanticSystemPrompt = `You are a pharmaceutical reference assistant. Answer only about legitimate, well-known medications.
If the query is not a real, recognized medication, or you are not certain, respond with exactly: null
Otherwise respond with a single JSON object and nothing else.`

const semanticPromptTemplate = `Medication query: %q

Return JSON with exactly these fields:
{
  "name": "canonical medication name",
  "genericName": "generic name",
  "brandNames": ["brand"],
  "category": "drug class",
  "description": "one or two sentences",
  "indications": ["use"],
  "dosageForms": ["tablet 500 mg"],
  "sideEffects": ["side effect"],
  "contraindications": ["contraindication"],
  "interactions": ["interacting drug"],
  "mechanism": "mechanism of action"
}`

type semanticAnswer struct {
	Name              string   `json:"name"`
	GenericName       string   `json:"genericName"`
	BrandNames        []string `json:"brandNames"`
	Category          string   `json:"category"`
	Description       string   `json:"description"`
	Indications       []string `json:"indications"`
	DosageForms       []string `json:"dosageForms"`
	SideEffects       []string `json:"sideEffects"`
	Contraindications []string `json:"contraindications"`
	Interactions      []string `json:"interactions"`
	Mechanism         string   `json:"mechanism"`
}

func cacheKey(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// searchSemantic asks the model about the medication. A model that declines
// (null or unparseable output) is a miss. Answers are memoized in memory
// and never written to the graph.
func (s *Service) searchSemantic(ctx context.Context, query string) ([]Medicine, error) {
	if s.chat == nil {
		return nil, errTierDisabled
	}

	key := cacheKey(query)
	if d, ok := s.cache.Get(key); ok {
		slog.Debug("search: semantic cache hit", "query", key)
		cp := *d
		return []Medicine{{Drug: &cp}}, nil
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	resp, err := llm.Complete(tctx, s.chat, fmt.Sprintf(semanticPromptTemplate, query), llm.ChatRequest{
		Model:       s.cfg.Model,
		Messages:    []llm.Message{{Role: "system", Content: semanticSystemPrompt}},
		Temperature: 0,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, err
	}

	d, ok := parseSemantic(resp.Content)
	if !ok {
		slog.Info("search: model declined semantic answer", "query", query)
		return nil, nil
	}
	s.cache.Add(key, d)

	cp := *d
	return []Medicine{{Drug: &cp}}, nil
}

func parseSemantic(content string) (*knowledge.Drug, bool) {
	content = strings.TrimSpace(content)
	if content == "" || strings.EqualFold(strings.Trim(content, "`\" \n"), "null") {
		return nil, false
	}
	js, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, false
	}
	var a semanticAnswer
	if err := json.Unmarshal([]byte(js), &a); err != nil {
		return nil, false
	}
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return nil, false
	}

	d := &knowledge.Drug{
		Base: knowledge.Base{
			ID:          knowledge.Slug(a.Name),
			Type:        knowledge.TypeDrug,
			Name:        a.Name,
			Description: a.Description,
			Category:    a.Category,
			Sources:     []string{"AI Semantic Search"},
			LastUpdated: time.Now().UTC(),
		},
		GenericName:       a.GenericName,
		BrandNames:        a.BrandNames,
		Strength:          a.DosageForms,
		Indications:       a.Indications,
		Contraindications: a.Contraindications,
		SideEffects:       a.SideEffects,
		Interactions:      a.Interactions,
		Mechanism:         a.Mechanism,
	}
	d.AddSynonyms(a.GenericName)
	d.AddSynonyms(a.BrandNames...)
	return d, true
}
