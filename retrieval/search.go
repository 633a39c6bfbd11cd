// Package retrieval answers medicine queries through a tiered fallback:
// knowledge graph, external pharmaceutical API, then AI semantic search.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/brunobiangulo/medreason/external"
	"github.com/brunobiangulo/medreason/knowledge"
	"github.com/brunobiangulo/medreason/llm"
	"github.com/brunobiangulo/medreason/metrics"
)

var (
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("retrieval: empty query")

	// ErrNoResults is returned when every tier came back empty or failed.
	ErrNoResults = errors.New("retrieval: no information found")
)

// Tier names a stage of the fallback chain.
type Tier string

const (
	TierKnowledgeBase Tier = "knowledge_base"
	TierExternalAPI   Tier = "external_api"
	TierAISemantic    Tier = "ai_semantic"
)

const (
	relTreats        = "treats"
	relInteractsWith = "interacts_with"

	interactionWeight = 0.7
	persistTimeout    = 10 * time.Second
)

// Tier confidences and source labels.
var (
	tierConfidence = map[Tier]float64{
		TierKnowledgeBase: 0.90,
		TierExternalAPI:   0.75,
		TierAISemantic:    0.65,
	}
	tierSources = map[Tier][]string{
		TierKnowledgeBase: {"Medical Knowledge Base", "Open Medical Data"},
		TierExternalAPI:   {"External Pharmaceutical API", "Open Medical Data"},
		TierAISemantic:    {"AI Semantic Search", "Medical Literature"},
	}
)

// KnowledgeBase is the graph surface the search service reads and writes.
type KnowledgeBase interface {
	Initialize(ctx context.Context) error
	SearchEntities(query string, t knowledge.EntityType) []knowledge.Entity
	ListEntities(t knowledge.EntityType) []knowledge.Entity
	GetRelatedEntities(id, relType string) []knowledge.Related
	AddEntity(ctx context.Context, e knowledge.Entity) error
	AddRelationship(ctx context.Context, from, to, relType string, weight float64) error
}

// Config tunes the search service.
type Config struct {
	Timeout   time.Duration // per external tier call, default 30s
	CacheSize int           // AI answers memoized, default 256
	Model     string
}

// Medicine is one drug in a search result with its graph neighbours.
type Medicine struct {
	Drug              *knowledge.Drug `json:"drug"`
	RelatedConditions []string        `json:"related_conditions,omitempty"`
	InteractingDrugs  []string        `json:"interacting_drugs,omitempty"`
}

// Attempt records one tier's outcome.
type Attempt struct {
	Tier      Tier   `json:"tier"`
	Outcome   string `json:"outcome"` // hit, miss, error, skipped
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// Result is the answer of the first tier that succeeded.
type Result struct {
	Query      string     `json:"query"`
	Tier       Tier       `json:"tier"`
	Medicines  []Medicine `json:"medicines"`
	Confidence float64    `json:"confidence"`
	Sources    []string   `json:"sources"`
	Trace      []Attempt  `json:"trace"`
}

// Service runs the tiered medicine search.
type Service struct {
	kb    KnowledgeBase
	api   external.DrugAPI
	chat  llm.Provider
	cfg   Config
	rec   metrics.Recorder
	cache *lru.Cache[string, *knowledge.Drug]
}

// New creates a search service. api and chat may be nil to disable their
// tiers; rec may be nil.
func New(kb KnowledgeBase, api external.DrugAPI, chat llm.Provider, rec metrics.Recorder, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = llm.DefaultTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	cache, _ := lru.New[string, *knowledge.Drug](cfg.CacheSize)
	return &Service{kb: kb, api: api, chat: chat, cfg: cfg, rec: metrics.OrNoop(rec), cache: cache}
}

// Search returns the first tier that finds the medicine. Tier failures are
// logged and fall through; ErrNoResults means every tier missed.
func (s *Service) Search(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if err := s.kb.Initialize(ctx); err != nil {
		slog.Warn("search: knowledge base unavailable", "error", err)
	}

	start := time.Now()
	var trace []Attempt
	tiers := []struct {
		tier Tier
		run  func(context.Context, string) ([]Medicine, error)
	}{
		{TierKnowledgeBase, s.searchKnowledgeBase},
		{TierExternalAPI, s.searchExternal},
		{TierAISemantic, s.searchSemantic},
	}

	for _, t := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tierStart := time.Now()
		meds, err := t.run(ctx, query)
		a := Attempt{Tier: t.tier, ElapsedMs: time.Since(tierStart).Milliseconds()}
		switch {
		case errors.Is(err, errTierDisabled):
			a.Outcome = "skipped"
		case err != nil:
			a.Outcome = "error"
			a.Error = err.Error()
			slog.Warn("search: tier failed", "tier", t.tier, "query", query, "error", err)
		case len(meds) == 0:
			a.Outcome = "miss"
		default:
			a.Outcome = "hit"
		}
		trace = append(trace, a)

		if a.Outcome != "hit" {
			continue
		}
		s.rec.IncTier(string(t.tier))
		slog.Info("search: medicine found",
			"query", query,
			"tier", t.tier,
			"results", len(meds),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return &Result{
			Query:      query,
			Tier:       t.tier,
			Medicines:  meds,
			Confidence: tierConfidence[t.tier],
			Sources:    append([]string(nil), tierSources[t.tier]...),
			Trace:      trace,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.rec.IncTier("none")
	slog.Info("search: no tier found the medicine", "query", query, "elapsed", time.Since(start).Round(time.Millisecond))
	return nil, fmt.Errorf("%w: %q", ErrNoResults, query)
}

var errTierDisabled = errors.New("retrieval: tier disabled")

// ---------------------------------------------------------------------------
// Tier 1: knowledge graph
// ---------------------------------------------------------------------------

func (s *Service) searchKnowledgeBase(ctx context.Context, query string) ([]Medicine, error) {
	var out []Medicine
	for _, e := range s.kb.SearchEntities(query, knowledge.TypeDrug) {
		d, ok := e.(*knowledge.Drug)
		if !ok {
			continue
		}
		out = append(out, s.enhance(d))
	}
	return out, nil
}

// enhance attaches treats and interacts_with neighbours. The returned drug
// is a copy whose Interactions cache includes the edge targets.
func (s *Service) enhance(d *knowledge.Drug) Medicine {
	m := Medicine{}
	for _, r := range s.kb.GetRelatedEntities(d.ID, relTreats) {
		m.RelatedConditions = append(m.RelatedConditions, r.Entity.Common().Name)
	}
	for _, r := range s.kb.GetRelatedEntities(d.ID, relInteractsWith) {
		m.InteractingDrugs = append(m.InteractingDrugs, r.Entity.Common().Name)
	}

	cp := *d
	cp.Interactions = mergeNames(d.Interactions, m.InteractingDrugs)
	m.Drug = &cp
	return m
}

func mergeNames(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, n := range append(append([]string(nil), a...), b...) {
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

// ---------------------------------------------------------------------------
// Tier 2: external pharmaceutical API
// ---------------------------------------------------------------------------

func (s *Service) searchExternal(ctx context.Context, query string) ([]Medicine, error) {
	if s.api == nil {
		return nil, errTierDisabled
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	rec, err := s.api.LookupDrug(tctx, query)
	if errors.Is(err, external.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	drug := drugFromRecord(rec, query)
	if e, ok := s.kb.GetEntity(drug.ID); ok {
		if cur, ok := e.(*knowledge.Drug); ok {
			drug = mergeLabel(cur, drug)
		}
	}
	interacting := s.knownInteractions(drug.ID, rec.Interactions)
	drug.Interactions = mergeNames(drug.Interactions, namesOf(interacting))

	// Committed writes stay even if the caller goes away.
	pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer pcancel()
	s.persist(pctx, drug, interacting)

	cp := *drug
	return []Medicine{{Drug: &cp, InteractingDrugs: namesOf(interacting)}}, nil
}

func drugFromRecord(rec *external.DrugRecord, query string) *knowledge.Drug {
	d := &knowledge.Drug{
		Base: knowledge.Base{
			ID:          knowledge.Slug(rec.Name),
			Type:        knowledge.TypeDrug,
			Name:        rec.Name,
			Description: rec.Description,
			Category:    rec.Category,
			Sources:     []string{rec.Source},
			LastUpdated: time.Now().UTC(),
		},
		GenericName:       rec.GenericName,
		BrandNames:        rec.BrandNames,
		Strength:          rec.DosageForms,
		Indications:       rec.Indications,
		Contraindications: rec.Contraindications,
		SideEffects:       rec.SideEffects,
		Mechanism:         rec.Mechanism,
	}
	if len(rec.Routes) > 0 {
		d.DosageForm = strings.ToLower(rec.Routes[0])
		d.Metadata = map[string]string{"route": strings.Join(rec.Routes, ", ")}
	}
	if rec.Manufacturer != "" {
		if d.Metadata == nil {
			d.Metadata = map[string]string{}
		}
		d.Metadata["manufacturer"] = rec.Manufacturer
	}
	d.AddSynonyms(query, rec.GenericName)
	d.AddSynonyms(rec.BrandNames...)
	return d
}

// mergeLabel folds a label answer into a drug already in the graph. The
// existing fields win; the label adds names and provenance and fills gaps.
func mergeLabel(cur, label *knowledge.Drug) *knowledge.Drug {
	d := *cur
	d.Synonyms = slices.Clone(cur.Synonyms)
	d.AddSynonyms(label.Synonyms...)
	d.BrandNames = mergeNames(cur.BrandNames, label.BrandNames)
	d.Sources = mergeNames(cur.Sources, label.Sources)
	d.Interactions = slices.Clone(cur.Interactions)
	d.Metadata = maps.Clone(cur.Metadata)
	for k, v := range label.Metadata {
		if d.Metadata == nil {
			d.Metadata = map[string]string{}
		}
		if _, ok := d.Metadata[k]; !ok {
			d.Metadata[k] = v
		}
	}

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&d.Description, label.Description)
	fill(&d.Category, label.Category)
	fill(&d.GenericName, label.GenericName)
	fill(&d.DosageForm, label.DosageForm)
	fill(&d.Mechanism, label.Mechanism)

	fillList := func(dst *[]string, v []string) {
		if len(*dst) == 0 {
			*dst = slices.Clone(v)
		}
	}
	fillList(&d.Strength, label.Strength)
	fillList(&d.Indications, label.Indications)
	fillList(&d.Contraindications, label.Contraindications)
	fillList(&d.SideEffects, label.SideEffects)

	d.LastUpdated = label.LastUpdated
	return &d
}

// knownInteractions finds graph drugs named in a label's interaction prose.
func (s *Service) knownInteractions(selfID, prose string) []*knowledge.Drug {
	if prose == "" {
		return nil
	}
	lower := strings.ToLower(prose)
	var out []*knowledge.Drug
	for _, e := range s.kb.ListEntities(knowledge.TypeDrug) {
		d, ok := e.(*knowledge.Drug)
		if !ok || d.ID == selfID {
			continue
		}
		for _, name := range append([]string{d.Name}, d.Synonyms...) {
			if len([]rune(name)) >= 4 && containsWord(lower, strings.ToLower(name)) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func containsWord(haystack, word string) bool {
	for i := 0; ; {
		j := strings.Index(haystack[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isWordByte(haystack[start-1])) && (end == len(haystack) || !isWordByte(haystack[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func (s *Service) persist(ctx context.Context, drug *knowledge.Drug, interacting []*knowledge.Drug) {
	if err := s.kb.AddEntity(ctx, drug); err != nil {
		slog.Warn("search: storing external result failed", "id", drug.ID, "error", err)
		if errors.Is(err, knowledge.ErrTypeChange) || errors.Is(err, knowledge.ErrEmptyID) {
			return
		}
	}
	for _, d := range interacting {
		if err := s.kb.AddRelationship(ctx, drug.ID, d.ID, relInteractsWith, interactionWeight); err != nil {
			slog.Warn("search: storing interaction failed", "from", drug.ID, "to", d.ID, "error", err)
		}
	}
	slog.Info("search: stored external result", "id", drug.ID, "interactions", len(interacting))
}

func namesOf(drugs []*knowledge.Drug) []string {
	var out []string
	for _, d := range drugs {
		out = append(out, d.Name)
	}
	return out
}
