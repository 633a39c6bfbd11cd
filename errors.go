package medreason

import (
	"context"
	"errors"

	"github.com/brunobiangulo/medreason/external"
	"github.com/brunobiangulo/medreason/extract"
	"github.com/brunobiangulo/medreason/llm"
	"github.com/brunobiangulo/medreason/parser"
	"github.com/brunobiangulo/medreason/reasoning"
	"github.com/brunobiangulo/medreason/retrieval"
)

var (
	// ErrNotConfigured is returned when a required AI credential is absent.
	ErrNotConfigured = reasoning.ErrNotConfigured

	// ErrUnsupportedMediaType is returned for artifacts no extractor handles.
	ErrUnsupportedMediaType = parser.ErrUnsupportedMediaType

	// ErrEmptyText is returned when a document yields no text.
	ErrEmptyText = extract.ErrEmptyText

	// ErrNoResults is returned when no medicine search tier found anything.
	ErrNoResults = retrieval.ErrNoResults

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("medreason: invalid configuration")

	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("medreason: engine is closed")
)

// ErrorClass groups errors by how a caller should react to them.
type ErrorClass string

const (
	ClassConfiguration    ErrorClass = "configuration"
	ClassUnsupportedInput ErrorClass = "unsupported_input"
	ClassInvalidInput     ErrorClass = "invalid_input"
	ClassExternalService  ErrorClass = "external_service"
	ClassNotFound         ErrorClass = "not_found"
	ClassCanceled         ErrorClass = "canceled"
	ClassInternal         ErrorClass = "internal"
)

// Classify maps err onto an ErrorClass. A nil error has no class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured), errors.Is(err, parser.ErrOCRUnavailable), errors.Is(err, ErrInvalidConfig):
		return ClassConfiguration
	case errors.Is(err, ErrUnsupportedMediaType):
		return ClassUnsupportedInput
	case errors.Is(err, ErrEmptyText), errors.Is(err, parser.ErrNoText), errors.Is(err, parser.ErrMalformed),
		errors.Is(err, retrieval.ErrEmptyQuery):
		return ClassInvalidInput
	case errors.Is(err, ErrNoResults), errors.Is(err, external.ErrNotFound):
		return ClassNotFound
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.Is(err, reasoning.ErrCompletion), errors.Is(err, external.ErrUnavailable),
		errors.Is(err, llm.ErrCircuitOpen), errors.Is(err, llm.ErrEmptyCompletion),
		errors.Is(err, context.DeadlineExceeded):
		return ClassExternalService
	}
	return ClassInternal
}
