package parser

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"
)

// DefaultTimeout bounds a single extraction.
const DefaultTimeout = 60 * time.Second

type Registry struct {
	extractors map[string]Extractor
	timeout    time.Duration
}

// NewRegistry registers the built-in text, PDF and spreadsheet strategies,
// and an image strategy backed by ocr. A nil ocr makes image extraction
// fail with ErrOCRUnavailable; scanned PDFs then stay unreadable.
func NewRegistry(ocr OCREngine) *Registry {
	r := &Registry{
		extractors: make(map[string]Extractor),
		timeout:    DefaultTimeout,
	}
	for _, e := range []Extractor{
		&TextExtractor{},
		&PDFExtractor{Fallback: ocr},
		&SpreadsheetExtractor{},
		&ImageExtractor{Engine: ocr},
	} {
		r.Register(e)
	}
	return r
}

// Register adds e for each of its media types, replacing earlier entries.
func (r *Registry) Register(e Extractor) {
	for _, mt := range e.MediaTypes() {
		r.extractors[strings.ToLower(mt)] = e
	}
}

// SetTimeout changes the per-extraction bound. Non-positive values are ignored.
func (r *Registry) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Get resolves the extractor for a media type: exact match first, then the
// "type/*" wildcard.
func (r *Registry) Get(mediaType string) (Extractor, error) {
	mt := normalizeMediaType(mediaType)
	if e, ok := r.extractors[mt]; ok {
		return e, nil
	}
	if major, _, ok := strings.Cut(mt, "/"); ok && major != "" {
		if e, ok := r.extractors[major+"/*"]; ok {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mediaType)
}

// Extract runs the matching strategy under the registry timeout. The call
// returns when ctx ends even if the strategy itself ignores cancellation.
func (r *Registry) Extract(ctx context.Context, a Artifact) (*Result, error) {
	e, err := r.Get(a.MediaType)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("extract: strategy panicked", "name", a.Name, "media_type", a.MediaType, "panic", v)
				ch <- outcome{nil, fmt.Errorf("extracting %s: %w: %v", a.Name, ErrMalformed, v)}
			}
		}()
		res, err := e.Extract(ctx, a)
		ch <- outcome{res, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, o.err
		}
		slog.Info("extract: text extracted",
			"name", a.Name,
			"media_type", a.MediaType,
			"method", o.res.Method,
			"chars", len(o.res.Text),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return o.res, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("extracting %s: %w", a.Name, ctx.Err())
	}
}

func normalizeMediaType(mt string) string {
	mt = strings.TrimSpace(mt)
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
