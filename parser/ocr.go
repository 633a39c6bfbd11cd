package parser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/brunobiangulo/medreason/llm"
)

// ImageExtractor sends image/* artifacts through an OCR engine.
type ImageExtractor struct {
	Engine OCREngine
}

func (e *ImageExtractor) MediaTypes() []string { return []string{"image/*"} }

func (e *ImageExtractor) Extract(ctx context.Context, a Artifact) (*Result, error) {
	if e.Engine == nil {
		return nil, ErrOCRUnavailable
	}
	text, err := e.Engine.Recognize(ctx, a.Data, normalizeMediaType(a.MediaType))
	if err != nil {
		return nil, fmt.Errorf("OCR %s: %w", a.Name, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s: %w", a.Name, ErrNoText)
	}
	return &Result{Text: text, Method: "ocr", Pages: 1}, nil
}

// VisionOCR recognizes text with a vision-capable LLM.
type VisionOCR struct {
	provider llm.VisionProvider
}

func NewVisionOCR(provider llm.VisionProvider) *VisionOCR {
	return &VisionOCR{provider: provider}
}

const ocrPrompt = `Transcribe all text in this medical document exactly as written.
- Keep one "Label: value" pair per line (e.g. "Hemoglobin: 14.2 g/dL (13.5-17.5)")
- Keep reference ranges in parentheses after the value
- Format tables as one row per line
- Do not interpret, summarize or correct values
- Output only the transcription`

func (o *VisionOCR) Recognize(ctx context.Context, data []byte, mediaType string) (string, error) {
	b64 := base64.StdEncoding.EncodeToString(data)

	resp, err := o.provider.ChatWithImages(ctx, llm.VisionChatRequest{
		Messages: []llm.VisionMessage{
			{
				Role: "user",
				Content: []llm.ContentPart{
					{Type: "text", Text: ocrPrompt},
					{
						Type:     "image_url",
						ImageURL: &llm.ImageURL{URL: "data:" + mediaType + ";base64," + b64},
					},
				},
			},
		},
		MaxTokens: 4096,
	})
	if err != nil {
		return "", fmt.Errorf("vision extraction failed: %w", err)
	}
	return stripFences(resp.Content), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
