package parser

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"
)

// TextExtractor handles every text/* type as UTF-8.
type TextExtractor struct{}

func (e *TextExtractor) MediaTypes() []string { return []string{"text/*"} }

func (e *TextExtractor) Extract(ctx context.Context, a Artifact) (*Result, error) {
	data := bytes.TrimPrefix(a.Data, []byte("\xef\xbb\xbf"))
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return &Result{Text: text, Method: "native", Pages: 1}, nil
}
