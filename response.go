package medreason

import (
	"time"

	"github.com/brunobiangulo/medreason/extract"
	"github.com/brunobiangulo/medreason/knowledge"
	"github.com/brunobiangulo/medreason/reasoning"
	"github.com/brunobiangulo/medreason/store"
)

// Disclaimers attached to every AIResponse.
const (
	AnalysisDisclaimer = "This AI-generated analysis is for informational purposes only and is not a medical diagnosis. " +
		"Always consult a healthcare professional about your results."
	SearchDisclaimer = "Medicine information is provided for reference only. " +
		"Always consult a healthcare professional or pharmacist before starting, stopping or changing any medication."
	NotFoundDisclaimer = "We could not find reliable information for this query. " +
		"Please consult a healthcare professional or pharmacist."
)

// User-facing error messages.
const (
	msgNotConfigured = "AI analysis feature not configured: no AI provider credential is set"
	msgTechnical     = "A technical issue prevented the analysis. Please try again later"
	msgNoInformation = "No information found for this medicine"
	msgEmptyInput    = "Input text is empty"
	msgClosed        = "The service is shutting down"
)

// AIResponse is the envelope returned by AnalyzeReport and SearchMedicine.
// A failed response never carries Data and always has zero Confidence.
// Disclaimer is never empty.
type AIResponse struct {
	Success    bool       `json:"success"`
	Data       any        `json:"data,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
	Sources    []string   `json:"sources"`
	Confidence float64    `json:"confidence"`
	Disclaimer string     `json:"disclaimer"`
}

func succeed(data any, sources []string, confidence float64, disclaimer string) *AIResponse {
	if sources == nil {
		sources = []string{}
	}
	return &AIResponse{
		Success:    true,
		Data:       data,
		Sources:    sources,
		Confidence: confidence,
		Disclaimer: disclaimer,
	}
}

func fail(class ErrorClass, msg, disclaimer string) *AIResponse {
	return &AIResponse{
		Success:    false,
		Error:      msg,
		ErrorClass: class,
		Sources:    []string{},
		Disclaimer: disclaimer,
	}
}

// ProcessedDocument is the result of ProcessDocument. It is owned by the
// caller and never persisted.
type ProcessedDocument struct {
	Name        string                    `json:"name"`
	MediaType   string                    `json:"media_type"`
	Method      string                    `json:"method"`
	Pages       int                       `json:"pages,omitempty"`
	Text        string                    `json:"text"`
	Entities    []extract.ExtractedEntity `json:"entities"`
	Structured  *extract.StructuredData   `json:"structured_data"`
	Confidence  float64                   `json:"confidence"`
	Quality     reasoning.Quality         `json:"quality"`
	ProcessedAt time.Time                 `json:"processed_at"`
}

// Stats summarizes the knowledge graph and, when backed by SQLite, the
// stored collections.
type Stats struct {
	Graph  knowledge.Stats `json:"graph"`
	Stored *store.Counts   `json:"stored,omitempty"`
}
