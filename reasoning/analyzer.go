// Package reasoning scores extraction quality and runs AI-assisted report
// analysis grounded in the knowledge graph.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/medreason/background"
	"github.com/brunobiangulo/medreason/extract"
	"github.com/brunobiangulo/medreason/knowledge"
	"github.com/brunobiangulo/medreason/llm"
	"github.com/brunobiangulo/medreason/store"
)

var (
	// ErrNotConfigured is returned when no AI provider is available. It is
	// distinct from runtime failures so callers can say so.
	ErrNotConfigured = errors.New("reasoning: AI provider not configured")

	// ErrCompletion wraps failures of the completion call itself.
	ErrCompletion = errors.New("reasoning: AI completion failed")
)

const (
	// AnalysisConfidence is the fixed confidence of an AI analysis.
	AnalysisConfidence = 0.85

	excerptRunes          = 500
	maxRelatedConditions  = 3
	maxRelatedDrugsByTerm = 3
)

// AnalysisSources are attached to every analysis.
var AnalysisSources = []string{"Gemini AI", "Medical Knowledge Base", "Open Medical Data"}

var additionalResources = []string{
	"MedlinePlus Lab Tests: https://medlineplus.gov/lab-tests/",
	"NIH MedlinePlus Drug Information: https://medlineplus.gov/druginformation.html",
	"CDC Health Topics: https://www.cdc.gov/health-topics.html",
}

// KnowledgeBase is the part of the knowledge graph the analyzer reads.
type KnowledgeBase interface {
	Initialize(ctx context.Context) error
	SearchEntities(query string, t knowledge.EntityType) []knowledge.Entity
}

// AuditSink persists analysis records.
type AuditSink interface {
	SaveAnalysis(ctx context.Context, rec store.AnalysisRecord) error
}

// Submitter schedules background work without blocking.
type Submitter interface {
	Submit(name string, fn background.Task) bool
}

// AnalyzerConfig tunes the completion call.
type AnalyzerConfig struct {
	Timeout     time.Duration // default 30s
	Model       string
	MaxTokens   int // default 2048
	Temperature float64
}

// KnowledgeBaseEnhancements is graph context attached to a parsed analysis.
type KnowledgeBaseEnhancements struct {
	ExtractedEntities   []string      `json:"extracted_entities"`
	RelatedDrugs        []RelatedDrug `json:"related_drugs"`
	RelatedConditions   []string      `json:"related_conditions"`
	AdditionalResources []string      `json:"additional_resources"`
}

type RelatedDrug struct {
	Term string `json:"term"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Analysis is the outcome of Analyze. Exactly one of Report or Raw is set:
// Raw holds the completion text when it could not be parsed as JSON.
type Analysis struct {
	Report       *Report                    `json:"report,omitempty"`
	Raw          string                     `json:"raw,omitempty"`
	Enhancements *KnowledgeBaseEnhancements `json:"knowledge_base_enhancements,omitempty"`
	Terms        []string                   `json:"mentioned_terms"`
	Sources      []string                   `json:"sources"`
	Confidence   float64                    `json:"confidence"`
	Model        string                     `json:"model,omitempty"`
}

// Analyzer runs one AI analysis per report.
type Analyzer struct {
	kb    KnowledgeBase
	chat  llm.Provider
	audit AuditSink
	queue Submitter
	cfg   AnalyzerConfig
	terms []*termMatcher
}

type termMatcher struct {
	term string
	re   *regexp.Regexp
}

// NewAnalyzer creates an analyzer. chat may be nil, in which case Analyze
// returns ErrNotConfigured. audit and queue may be nil to skip auditing.
func NewAnalyzer(kb KnowledgeBase, chat llm.Provider, audit AuditSink, queue Submitter, cfg AnalyzerConfig) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = llm.DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	a := &Analyzer{kb: kb, chat: chat, audit: audit, queue: queue, cfg: cfg}
	for _, t := range extract.LabTerms() {
		a.terms = append(a.terms, &termMatcher{
			term: t,
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`),
		})
	}
	return a
}

// Analyze asks the model for a structured reading of text. A completion
// that is not valid JSON is returned as Analysis.Raw rather than an error.
func (a *Analyzer) Analyze(ctx context.Context, text, reportType string) (*Analysis, error) {
	if err := a.kb.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing knowledge base: %w", err)
	}
	if a.chat == nil {
		return nil, ErrNotConfigured
	}
	if reportType == "" {
		reportType = extract.ClassifyReport(text)
	}

	start := time.Now()
	terms := a.mentionedTerms(text)
	kbContext, conditions := a.knowledgeContext(terms, reportType)
	prompt := buildAnalysisPrompt(text, reportType, kbContext)

	slog.Info("analysis: requesting completion",
		"report_type", reportType,
		"terms", len(terms),
		"prompt_len", len(prompt),
	)

	cctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	resp, err := llm.Complete(cctx, a.chat, prompt, llm.ChatRequest{
		Model:          a.cfg.Model,
		Messages:       []llm.Message{{Role: "system", Content: systemPrompt}},
		Temperature:    a.cfg.Temperature,
		MaxTokens:      a.cfg.MaxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompletion, err)
	}

	out := &Analysis{
		Terms:      terms,
		Sources:    append([]string(nil), AnalysisSources...),
		Confidence: AnalysisConfidence,
		Model:      resp.Model,
	}
	report, perr := parseReport(resp.Content)
	if perr != nil {
		slog.Warn("analysis: completion is not JSON, returning raw text", "error", perr)
		out.Raw = resp.Content
	} else {
		out.Report = report
		out.Enhancements = a.enhancements(terms, conditions)
	}

	slog.Info("analysis: complete",
		"parsed", out.Report != nil,
		"model", resp.Model,
		"tokens", resp.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	a.submitAudit(text, reportType, out, resp)
	return out, nil
}

// mentionedTerms scans text for catalog lab terms.
func (a *Analyzer) mentionedTerms(text string) []string {
	var terms []string
	for _, m := range a.terms {
		if m.re.MatchString(text) {
			terms = append(terms, m.term)
		}
	}
	return terms
}

func (a *Analyzer) knowledgeContext(terms []string, reportType string) (string, []string) {
	var b strings.Builder
	seen := make(map[string]bool)
	for _, term := range terms {
		for _, e := range a.kb.SearchEntities(term, knowledge.TypeLabTest) {
			base := e.Common()
			if seen[base.ID] {
				continue
			}
			seen[base.ID] = true
			fmt.Fprintf(&b, "- %s: %s\n", base.Name, base.Description)
		}
	}

	var conditions []string
	related := a.kb.SearchEntities(reportType, "")
	if len(related) > maxRelatedConditions {
		related = related[:maxRelatedConditions]
	}
	if len(related) > 0 {
		b.WriteString("Related conditions:\n")
		for _, e := range related {
			base := e.Common()
			conditions = append(conditions, base.Name)
			fmt.Fprintf(&b, "- %s: %s\n", base.Name, base.Description)
		}
	}
	return b.String(), conditions
}

func (a *Analyzer) enhancements(terms, conditions []string) *KnowledgeBaseEnhancements {
	enh := &KnowledgeBaseEnhancements{
		ExtractedEntities:   append([]string{}, terms...),
		RelatedDrugs:        []RelatedDrug{},
		RelatedConditions:   append([]string{}, conditions...),
		AdditionalResources: append([]string(nil), additionalResources...),
	}
	for _, term := range terms {
		drugs := a.kb.SearchEntities(term, knowledge.TypeDrug)
		if len(drugs) > maxRelatedDrugsByTerm {
			drugs = drugs[:maxRelatedDrugsByTerm]
		}
		for _, d := range drugs {
			base := d.Common()
			enh.RelatedDrugs = append(enh.RelatedDrugs, RelatedDrug{Term: term, ID: base.ID, Name: base.Name})
		}
	}
	return enh
}

func (a *Analyzer) submitAudit(text, reportType string, out *Analysis, resp *llm.ChatResponse) {
	if a.audit == nil || a.queue == nil {
		return
	}

	rec := store.AnalysisRecord{
		ID:               uuid.NewString(),
		ReportType:       reportType,
		SourceExcerpt:    truncateRunes(text, excerptRunes),
		Confidence:       out.Confidence,
		ModelUsed:        resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		CreatedAt:        time.Now().UTC(),
	}
	if out.Report != nil {
		rec.Summary = out.Report.Summary
		rec.RiskLevel = string(out.Report.RiskAssessment.Level)
		if b, err := json.Marshal(out.Report); err == nil {
			rec.Response = b
		}
	} else if b, err := json.Marshal(out.Raw); err == nil {
		rec.Response = b
	}

	if !a.queue.Submit("audit:analysis", func(ctx context.Context) error {
		return a.audit.SaveAnalysis(ctx, rec)
	}) {
		slog.Warn("audit: analysis record dropped", "id", rec.ID)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

const systemPrompt = `You are a careful medical report analysis assistant. You explain lab results and clinical findings in plain language.
Rules:
1. Base every statement on the report text and the knowledge context provided.
2. Flag values outside their reference ranges and state the clinical significance.
3. Never give a definitive diagnosis; recommend consulting a healthcare professional.
4. Respond with a single JSON object and nothing else.`

func buildAnalysisPrompt(text, reportType, kbContext string) string {
	if kbContext == "" {
		kbContext = "(no matching knowledge base entries)\n"
	}
	return fmt.Sprintf(`Report type: %s

Report:
%s

Knowledge context:
%s
Analyze the report and return JSON with exactly these fields:
{
  "summary": "plain-language summary",
  "keyFindings": ["finding"],
  "abnormalValues": [{"parameter": "", "value": "", "normal": "", "significance": ""}],
  "riskAssessment": {"level": "low|moderate|high", "factors": ["factor"]},
  "recommendations": ["recommendation"],
  "followUp": ["follow-up action"],
  "relatedConditions": ["condition"]
}`, reportType, text, kbContext)
}
