package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor reads the PDF text layer. When a document has no text layer
// (a scan) and Fallback is set, the bytes go through OCR instead.
type PDFExtractor struct {
	Fallback OCREngine
}

func (e *PDFExtractor) MediaTypes() []string { return []string{"application/pdf"} }

// Extract reads every page's text. The pdf package reports broken object
// syntax by panicking; that surfaces here as ErrMalformed.
func (e *PDFExtractor) Extract(ctx context.Context, a Artifact) (res *Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			res, err = nil, fmt.Errorf("%s: %w: %v", a.Name, ErrMalformed, v)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(a.Data), int64(len(a.Data)))
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}

	totalPages := reader.NumPage()
	pages := make([]string, 0, totalPages)
	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Debug("extract: skipping unreadable PDF page", "name", a.Name, "page", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) > 0 {
		return &Result{Text: strings.Join(pages, "\n\n"), Method: "native", Pages: totalPages}, nil
	}

	if e.Fallback == nil {
		return nil, fmt.Errorf("%s: %w", a.Name, ErrNoText)
	}
	slog.Info("extract: PDF has no text layer, using OCR", "name", a.Name, "pages", totalPages)
	text, err := e.Fallback.Recognize(ctx, a.Data, "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("OCR fallback: %w", err)
	}
	return &Result{Text: text, Method: "ocr-fallback", Pages: totalPages}, nil
}
