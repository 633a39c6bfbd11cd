// Package medreason turns medical documents into structured clinical data,
// cross-references it against a medical knowledge graph and answers
// report-analysis and medicine-search requests.
package medreason

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/medreason/background"
	"github.com/brunobiangulo/medreason/external"
	"github.com/brunobiangulo/medreason/extract"
	"github.com/brunobiangulo/medreason/knowledge"
	"github.com/brunobiangulo/medreason/llm"
	"github.com/brunobiangulo/medreason/metrics"
	"github.com/brunobiangulo/medreason/parser"
	"github.com/brunobiangulo/medreason/reasoning"
	"github.com/brunobiangulo/medreason/retrieval"
	"github.com/brunobiangulo/medreason/store"
)

// Engine is the main entry point for document processing, report analysis
// and medicine search.
type Engine interface {
	// ProcessDocument extracts text from the artifact, then structured
	// clinical data and knowledge-graph entities, and scores the result.
	ProcessDocument(ctx context.Context, a parser.Artifact) (*ProcessedDocument, error)

	// AnalyzeReport asks the AI provider for a structured reading of a
	// report. Failures are reported inside the envelope.
	AnalyzeReport(ctx context.Context, text, reportType string) *AIResponse

	// SearchMedicine resolves a medicine through the knowledge graph, the
	// drug label API and AI semantic search, in that order.
	SearchMedicine(ctx context.Context, query string) *AIResponse

	// Statistics reports knowledge graph and storage counts.
	Statistics(ctx context.Context) (*Stats, error)

	// History returns the most recent analysis audit records.
	History(ctx context.Context, limit int) ([]store.AnalysisRecord, error)

	// Close flushes pending audit writes and closes the store.
	Close() error
}

// Option configures optional collaborators of an Engine.
type Option func(*options)

type options struct {
	chat       llm.Provider
	chatSet    bool
	drugAPI    external.DrugAPI
	drugAPISet bool
	backend    knowledge.Backend
	backendSet bool
	ocr        parser.OCREngine
	ocrSet     bool
	recorder   metrics.Recorder
	graphOpts  []knowledge.Option
}

// WithChatProvider replaces the provider built from Config.Chat. A nil
// provider disables AI analysis and semantic search.
func WithChatProvider(p llm.Provider) Option {
	return func(o *options) { o.chat, o.chatSet = p, true }
}

// WithDrugAPI replaces the openFDA client. A nil api disables that tier.
func WithDrugAPI(api external.DrugAPI) Option {
	return func(o *options) { o.drugAPI, o.drugAPISet = api, true }
}

// WithBackend persists the knowledge graph to b instead of the SQLite store
// at Config.DBPath. A nil backend keeps everything in memory. Audit records
// are written only when b also implements SaveAnalysis.
func WithBackend(b knowledge.Backend) Option {
	return func(o *options) { o.backend, o.backendSet = b, true }
}

// WithOCREngine replaces the vision-model OCR built from Config.Vision.
func WithOCREngine(e parser.OCREngine) Option {
	return func(o *options) { o.ocr, o.ocrSet = e, true }
}

// WithMetrics records store and call metrics to r.
func WithMetrics(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithGraphOptions passes options to the knowledge graph, e.g. a custom seed set.
func WithGraphOptions(opts ...knowledge.Option) Option {
	return func(o *options) { o.graphOpts = append(o.graphOpts, opts...) }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg        Config
	rec        metrics.Recorder
	store      *store.Store // nil when a custom backend is used
	kb         *knowledge.Graph
	parsers    *parser.Registry
	structured *extract.Structured
	recognizer *extract.Recognizer
	analyzer   *reasoning.Analyzer
	searcher   *retrieval.Service
	queue      *background.Queue

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a new medreason engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	rec := metrics.OrNoop(o.recorder)

	if cfg.AITimeout < 0 || cfg.ExtractTimeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if cfg.AITimeout == 0 {
		cfg.AITimeout = llm.DefaultTimeout
	}

	e := &engine{cfg: cfg, rec: rec}

	// Open store
	backend := o.backend
	if !o.backendSet {
		s, err := store.New(cfg.resolveDBPath(), rec)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		e.store = s
		backend = s
	}

	chat, err := chatProvider(cfg, o)
	if err != nil {
		e.closeStore()
		return nil, err
	}
	ocr, err := ocrEngine(cfg, o)
	if err != nil {
		e.closeStore()
		return nil, err
	}

	var api external.DrugAPI
	switch {
	case o.drugAPISet:
		api = o.drugAPI
	case cfg.DrugAPI.Enabled:
		api = external.NewClient(external.Config{
			BaseURL:   cfg.DrugAPI.BaseURL,
			APIKey:    cfg.DrugAPI.APIKey,
			Timeout:   cfg.DrugAPI.Timeout,
			RateLimit: cfg.DrugAPI.RateLimit,
		}, rec)
	}

	var audit reasoning.AuditSink
	if sink, ok := backend.(reasoning.AuditSink); ok {
		audit = sink
	}

	e.kb = knowledge.New(backend, o.graphOpts...)
	e.parsers = parser.NewRegistry(ocr)
	e.parsers.SetTimeout(cfg.ExtractTimeout)
	e.structured = extract.NewStructured(e.kb)
	e.recognizer = extract.NewRecognizer(e.kb)
	e.queue = background.New(background.Config{
		Size:    cfg.AuditQueueSize,
		Workers: cfg.AuditWorkers,
	})
	e.analyzer = reasoning.NewAnalyzer(e.kb, chat, audit, e.queue, reasoning.AnalyzerConfig{
		Timeout: cfg.AITimeout,
		Model:   cfg.Chat.Model,
	})
	e.searcher = retrieval.New(e.kb, api, chat, rec, retrieval.Config{
		Timeout:   cfg.AITimeout,
		CacheSize: cfg.SemanticCacheSize,
		Model:     cfg.Chat.Model,
	})

	slog.Info("engine: ready",
		"ai_analysis", chat != nil,
		"drug_api", api != nil,
		"ocr", ocr != nil,
		"persistent", backend != nil,
	)
	return e, nil
}

func chatProvider(cfg Config, o *options) (llm.Provider, error) {
	if o.chatSet {
		return o.chat, nil
	}
	lc := cfg.Chat.toLLM()
	if !lc.Configured() {
		slog.Info("engine: chat provider not configured, AI features disabled", "provider", cfg.Chat.Provider)
		return nil, nil
	}
	p, err := llm.NewProvider(lc)
	if err != nil {
		return nil, fmt.Errorf("%w: creating chat provider: %w", ErrInvalidConfig, err)
	}
	return llm.NewResilient("chat", p, cfg.AITimeout), nil
}

func ocrEngine(cfg Config, o *options) (parser.OCREngine, error) {
	if o.ocrSet {
		return o.ocr, nil
	}
	lc := cfg.Vision.toLLM()
	if !lc.Configured() {
		return nil, nil
	}
	p, err := llm.NewProvider(lc)
	if err != nil {
		return nil, fmt.Errorf("%w: creating vision provider: %w", ErrInvalidConfig, err)
	}
	return parser.NewVisionOCR(llm.NewResilient("vision", p, cfg.AITimeout)), nil
}

// ProcessDocument runs the document pipeline: text extraction, then the
// structured extractor and entity recognizer in parallel, then scoring.
func (e *engine) ProcessDocument(ctx context.Context, a parser.Artifact) (doc *ProcessedDocument, err error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	done := metrics.TimeCall(e.rec, "process_document")
	defer func() {
		if r := recover(); r != nil {
			slog.Error("process: panic recovered", "name", a.Name, "panic", r, "stack", string(debug.Stack()))
			doc, err = nil, fmt.Errorf("medreason: processing %s: %v", a.Name, r)
		}
		done(err == nil)
	}()

	start := time.Now()
	if err := e.kb.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing knowledge base: %w", err)
	}

	res, err := e.parsers.Extract(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("extracting text from %s: %w", a.Name, err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, ErrEmptyText
	}

	var (
		data     *extract.StructuredData
		entities []extract.ExtractedEntity
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := e.structured.Extract(res.Text)
		data = d
		return err
	})
	g.Go(func() error {
		entities = e.recognizer.Recognize(res.Text)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extracting structured data: %w", err)
	}

	score := reasoning.Score(entities, data)
	doc = &ProcessedDocument{
		Name:        a.Name,
		MediaType:   a.MediaType,
		Method:      res.Method,
		Pages:       res.Pages,
		Text:        res.Text,
		Entities:    entities,
		Structured:  data,
		Confidence:  score,
		Quality:     reasoning.Tier(score),
		ProcessedAt: time.Now().UTC(),
	}

	slog.Info("process: document processed",
		"name", a.Name,
		"method", res.Method,
		"report_type", data.ReportType,
		"entities", len(entities),
		"lab_results", len(data.LabResults),
		"medications", len(data.Medications),
		"confidence", fmt.Sprintf("%.2f", score),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return doc, nil
}

// AnalyzeReport never returns an error; every failure becomes a failed
// envelope with a class and a user-facing message.
func (e *engine) AnalyzeReport(ctx context.Context, text, reportType string) (resp *AIResponse) {
	done := metrics.TimeCall(e.rec, "analyze_report")
	defer func() {
		if r := recover(); r != nil {
			slog.Error("analysis: panic recovered", "panic", r, "stack", string(debug.Stack()))
			resp = fail(ClassInternal, msgTechnical, AnalysisDisclaimer)
		}
		done(resp.Success)
	}()

	if e.closed.Load() {
		return fail(ClassInternal, msgClosed, AnalysisDisclaimer)
	}
	if strings.TrimSpace(text) == "" {
		return fail(ClassInvalidInput, msgEmptyInput, AnalysisDisclaimer)
	}

	a, err := e.analyzer.Analyze(ctx, text, reportType)
	if err != nil {
		class := Classify(err)
		if class == ClassConfiguration {
			slog.Info("analysis: AI provider not configured")
			return fail(class, msgNotConfigured, AnalysisDisclaimer)
		}
		slog.Warn("analysis: report analysis failed", "class", class, "error", err)
		return fail(class, msgTechnical, AnalysisDisclaimer)
	}
	return succeed(a, a.Sources, a.Confidence, AnalysisDisclaimer)
}

// SearchMedicine never returns an error; a miss on every tier is a failed
// envelope carrying the not-found disclaimer.
func (e *engine) SearchMedicine(ctx context.Context, query string) (resp *AIResponse) {
	done := metrics.TimeCall(e.rec, "search_medicine")
	defer func() {
		if r := recover(); r != nil {
			slog.Error("search: panic recovered", "query", query, "panic", r, "stack", string(debug.Stack()))
			resp = fail(ClassInternal, msgTechnical, SearchDisclaimer)
		}
		done(resp.Success)
	}()

	if e.closed.Load() {
		return fail(ClassInternal, msgClosed, SearchDisclaimer)
	}

	res, err := e.searcher.Search(ctx, query)
	if err != nil {
		class := Classify(err)
		switch class {
		case ClassInvalidInput:
			return fail(class, msgEmptyInput, SearchDisclaimer)
		case ClassNotFound:
			return fail(class, msgNoInformation, NotFoundDisclaimer)
		}
		slog.Warn("search: medicine search failed", "query", query, "class", class, "error", err)
		return fail(class, msgTechnical, NotFoundDisclaimer)
	}
	return succeed(res, res.Sources, res.Confidence, SearchDisclaimer)
}

func (e *engine) Statistics(ctx context.Context) (*Stats, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if err := e.kb.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing knowledge base: %w", err)
	}
	st := &Stats{Graph: e.kb.Statistics()}
	if e.store != nil {
		c, err := e.store.Counts(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting stored rows: %w", err)
		}
		st.Stored = c
	}
	return st, nil
}

func (e *engine) History(ctx context.Context, limit int) ([]store.AnalysisRecord, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if e.store == nil {
		return []store.AnalysisRecord{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return e.store.RecentAnalyses(ctx, limit)
}

// closeTimeout bounds the audit flush on Close.
const closeTimeout = 10 * time.Second

// Close shuts down the engine. Queued audit records are flushed before the
// store is closed. Calling Close more than once is safe.
func (e *engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := e.queue.Close(ctx); err != nil {
			slog.Warn("engine: audit flush incomplete", "error", err)
		}
		e.closeErr = e.closeStore()
	})
	return e.closeErr
}

func (e *engine) closeStore() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}
