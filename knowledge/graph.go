// Package knowledge holds the typed medical knowledge graph: entities,
// weighted directed relationships, and the search paths over them.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrEmptyID is returned when an entity without an id is added.
	ErrEmptyID = errors.New("knowledge: entity id is required")

	// ErrTypeChange is returned when an upsert would change an entity's type.
	ErrTypeChange = errors.New("knowledge: entity type is immutable")

	// ErrUnknownType is returned when a payload names an unknown entity type.
	ErrUnknownType = errors.New("knowledge: unknown entity type")
)

// Record is the persisted form of an entity.
type Record struct {
	ID        string
	Type      EntityType
	Name      string
	Payload   []byte
	UpdatedAt time.Time
}

// Relationship is a directed weighted edge between two entity ids.
type Relationship struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight"`
}

// Backend persists entities and relationships. Entities are upserted by id;
// relationships are append-only.
type Backend interface {
	LoadEntities(ctx context.Context) ([]Record, error)
	LoadRelationships(ctx context.Context) ([]Relationship, error)
	SaveEntity(ctx context.Context, rec Record) error
	SaveRelationship(ctx context.Context, rel Relationship) error
}

// BatchBackend is implemented by backends that can write many rows in one
// transaction. Seeding uses it when available.
type BatchBackend interface {
	Backend
	SaveBatch(ctx context.Context, recs []Record, rels []Relationship) error
}

// Related is one hop away from a queried entity.
type Related struct {
	Entity Entity  `json:"entity"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight"`
}

// Stats summarizes the graph contents.
type Stats struct {
	TotalEntities      int                `json:"total_entities"`
	TotalRelationships int                `json:"total_relationships"`
	ByType             map[EntityType]int `json:"by_type"`
}

// Option configures a Graph.
type Option func(*Graph)

// WithSeed replaces the built-in reference data used when storage is empty.
func WithSeed(entities []Entity, rels []Relationship) Option {
	return func(g *Graph) {
		g.seedEntities = entities
		g.seedRels = rels
	}
}

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

// Graph is an in-memory knowledge graph backed by optional persistence.
//
// writeMu serializes Initialize, AddEntity and AddRelationship, including
// their persistence I/O. mu guards the in-memory maps only, so readers never
// wait on a backend write.
type Graph struct {
	backend      Backend
	now          func() time.Time
	seedEntities []Entity
	seedRels     []Relationship

	writeMu     sync.Mutex
	initialized bool

	mu       sync.RWMutex
	entities map[string]Entity
	outgoing map[string][]Relationship
	relCount int
}

// New creates a graph. A nil backend keeps everything in memory.
func New(backend Backend, opts ...Option) *Graph {
	g := &Graph{
		backend:  backend,
		now:      time.Now,
		entities: make(map[string]Entity),
		outgoing: make(map[string][]Relationship),
	}
	g.seedEntities, g.seedRels = SeedData()
	for _, o := range opts {
		o(g)
	}
	return g
}

// Initialize loads persisted entities and relationships and seeds the
// reference data when nothing is stored. It is safe to call repeatedly and
// concurrently; only the first successful call does any work.
func (g *Graph) Initialize(ctx context.Context) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if g.initialized {
		return nil
	}

	if g.backend != nil {
		records, err := g.backend.LoadEntities(ctx)
		if err != nil {
			return fmt.Errorf("loading entities: %w", err)
		}
		rels, err := g.backend.LoadRelationships(ctx)
		if err != nil {
			return fmt.Errorf("loading relationships: %w", err)
		}

		loaded := make([]Entity, 0, len(records))
		for _, rec := range records {
			e, err := UnmarshalEntity(rec.Payload)
			if err != nil {
				slog.Warn("kb: skipping undecodable entity", "id", rec.ID, "error", err)
				continue
			}
			loaded = append(loaded, e)
		}

		// Storage is authoritative for edges; entities merge so that
		// unpersisted in-memory writes survive.
		g.mu.Lock()
		for _, e := range loaded {
			g.entities[e.Common().ID] = e
		}
		g.outgoing = make(map[string][]Relationship, len(rels))
		g.relCount = 0
		for _, r := range rels {
			g.appendEdge(r)
		}
		g.mu.Unlock()
	}

	g.mu.RLock()
	empty := len(g.entities) == 0
	g.mu.RUnlock()

	if empty {
		if err := g.seed(ctx); err != nil {
			return fmt.Errorf("seeding knowledge base: %w", err)
		}
	}

	g.initialized = true
	stats := g.Statistics()
	slog.Info("kb: initialized",
		"entities", stats.TotalEntities,
		"relationships", stats.TotalRelationships,
		"seeded", empty,
	)
	return nil
}

func (g *Graph) seed(ctx context.Context) error {
	bb, batched := g.backend.(BatchBackend)
	if !batched {
		for _, e := range g.seedEntities {
			if err := g.putEntity(ctx, e); err != nil {
				return err
			}
		}
		for _, r := range g.seedRels {
			if err := g.putRelationship(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}

	recs := make([]Record, 0, len(g.seedEntities))
	for _, e := range g.seedEntities {
		rec, err := g.storeInMemory(e)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	rels := make([]Relationship, 0, len(g.seedRels))
	g.mu.Lock()
	for _, r := range g.seedRels {
		r.Weight = clamp(r.Weight)
		g.appendEdge(r)
		rels = append(rels, r)
	}
	g.mu.Unlock()
	return bb.SaveBatch(ctx, recs, rels)
}

// AddEntity upserts e by id and persists it. When persistence fails the
// in-memory write is kept and the error is returned.
func (g *Graph) AddEntity(ctx context.Context, e Entity) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.putEntity(ctx, e)
}

func (g *Graph) putEntity(ctx context.Context, e Entity) error {
	rec, err := g.storeInMemory(e)
	if err != nil {
		return err
	}
	if g.backend == nil {
		return nil
	}
	if err := g.backend.SaveEntity(ctx, rec); err != nil {
		return fmt.Errorf("persisting entity %s: %w", rec.ID, err)
	}
	return nil
}

// storeInMemory validates e, swaps it into the entity map and returns the
// record to persist.
func (g *Graph) storeInMemory(e Entity) (Record, error) {
	b := e.Common()
	if strings.TrimSpace(b.ID) == "" {
		return Record{}, ErrEmptyID
	}
	if !b.Type.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownType, b.Type)
	}
	if b.LastUpdated.IsZero() {
		b.LastUpdated = g.now()
	}
	payload, err := MarshalEntity(e)
	if err != nil {
		return Record{}, fmt.Errorf("encoding entity %s: %w", b.ID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.entities[b.ID]; ok && prev.Common().Type != b.Type {
		return Record{}, fmt.Errorf("%w: %s is %s, not %s", ErrTypeChange, b.ID, prev.Common().Type, b.Type)
	}
	g.entities[b.ID] = e
	return Record{
		ID:        b.ID,
		Type:      b.Type,
		Name:      b.Name,
		Payload:   payload,
		UpdatedAt: b.LastUpdated,
	}, nil
}

// AddRelationship appends a directed edge and persists it. Duplicates are
// kept. The weight is clamped into [0,1].
func (g *Graph) AddRelationship(ctx context.Context, from, to, relType string, weight float64) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.putRelationship(ctx, Relationship{From: from, To: to, Type: relType, Weight: weight})
}

func (g *Graph) putRelationship(ctx context.Context, r Relationship) error {
	if r.From == "" || r.To == "" || r.Type == "" {
		return fmt.Errorf("knowledge: relationship needs from, to and type")
	}
	r.Weight = clamp(r.Weight)

	g.mu.Lock()
	g.appendEdge(r)
	g.mu.Unlock()

	if g.backend == nil {
		return nil
	}
	if err := g.backend.SaveRelationship(ctx, r); err != nil {
		return fmt.Errorf("persisting relationship %s-%s->%s: %w", r.From, r.Type, r.To, err)
	}
	return nil
}

// appendEdge must be called with mu held for writing.
func (g *Graph) appendEdge(r Relationship) {
	g.outgoing[r.From] = append(g.outgoing[r.From], r)
	g.relCount++
}

// SearchEntities returns entities whose name or a synonym contains query,
// case-insensitively. An empty t matches every type. Exact name matches
// come first, then name order, then id order.
func (g *Graph) SearchEntities(query string, t EntityType) []Entity {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	type hit struct {
		e     Entity
		exact bool
		name  string
	}

	g.mu.RLock()
	var hits []hit
	for _, e := range g.entities {
		b := e.Common()
		if t != "" && b.Type != t {
			continue
		}
		name := strings.ToLower(b.Name)
		if name == q {
			hits = append(hits, hit{e: e, exact: true, name: name})
			continue
		}
		if strings.Contains(name, q) || synonymContains(b.Synonyms, q) {
			hits = append(hits, hit{e: e, name: name})
		}
	}
	g.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].exact != hits[j].exact {
			return hits[i].exact
		}
		if hits[i].name != hits[j].name {
			return hits[i].name < hits[j].name
		}
		return hits[i].e.Common().ID < hits[j].e.Common().ID
	})

	out := make([]Entity, len(hits))
	for i, h := range hits {
		out[i] = h.e
	}
	return out
}

func synonymContains(synonyms []string, q string) bool {
	for _, s := range synonyms {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

// GetEntity looks up an entity by id.
func (g *Graph) GetEntity(id string) (Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[id]
	return e, ok
}

// ListEntities returns every entity of type t (all types when empty),
// ordered by id.
func (g *Graph) ListEntities(t EntityType) []Entity {
	g.mu.RLock()
	out := make([]Entity, 0, len(g.entities))
	for _, e := range g.entities {
		if t == "" || e.Common().Type == t {
			out = append(out, e)
		}
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Common().ID < out[j].Common().ID })
	return out
}

// GetRelatedEntities follows one hop of relType edges (any type when empty)
// from id, sorted by descending weight. Edges to unknown ids are skipped.
func (g *Graph) GetRelatedEntities(id, relType string) []Related {
	g.mu.RLock()
	var out []Related
	for _, r := range g.outgoing[id] {
		if relType != "" && r.Type != relType {
			continue
		}
		target, ok := g.entities[r.To]
		if !ok {
			continue
		}
		out = append(out, Related{Entity: target, Type: r.Type, Weight: r.Weight})
	}
	g.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Entity.Common().ID < out[j].Entity.Common().ID
	})
	return out
}

// Statistics reports entity and relationship counts.
func (g *Graph) Statistics() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Stats{
		TotalEntities:      len(g.entities),
		TotalRelationships: g.relCount,
		ByType:             make(map[EntityType]int),
	}
	for _, e := range g.entities {
		stats.ByType[e.Common().Type]++
	}
	return stats
}

func clamp(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
