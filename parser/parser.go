// Package parser turns uploaded artifacts into plain text, with one
// extraction strategy per media type.
package parser

import (
	"context"
	"errors"
)

var (
	// ErrUnsupportedMediaType is returned when no strategy handles the
	// artifact's declared media type.
	ErrUnsupportedMediaType = errors.New("parser: unsupported media type")

	// ErrOCRUnavailable is returned for images when no OCR engine is set.
	ErrOCRUnavailable = errors.New("parser: no OCR engine configured")

	// ErrNoText is returned when a document yields no extractable text.
	ErrNoText = errors.New("parser: no text found")

	// ErrMalformed is returned when a document's structure cannot be read.
	ErrMalformed = errors.New("parser: malformed document")
)

// Artifact is an uploaded file.
type Artifact struct {
	Name      string
	MediaType string
	Data      []byte
}

// Result is what an extractor produces.
type Result struct {
	Text   string
	Method string // "native", "ocr", "ocr-fallback"
	Pages  int
}

// Extractor converts an artifact of one or more media types into text.
type Extractor interface {
	Extract(ctx context.Context, a Artifact) (*Result, error)
	// MediaTypes lists handled types; "type/*" registers a wildcard.
	MediaTypes() []string
}

// OCREngine recognizes text in image or scanned document bytes.
type OCREngine interface {
	Recognize(ctx context.Context, data []byte, mediaType string) (string, error)
}
