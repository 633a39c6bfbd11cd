package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"gemini", "*llm.geminiProvider"},
		{"openai", "*llm.openAIProvider"},
		{"ollama", "*llm.ollamaProvider"},
		{"custom", "*llm.openAICompatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			if got := fmt.Sprintf("%T", p); got != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, got, tt.wantType)
			}
			if _, ok := p.(VisionProvider); !ok {
				t.Errorf("%s provider should support vision", tt.provider)
			}
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(Config{Provider: "doesnotexist"})
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	if want := "unknown llm provider: doesnotexist"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewProviderEmpty(t *testing.T) {
	_, err := NewProvider(Config{})
	if err == nil {
		t.Fatal("expected error for empty provider, got nil")
	}
	if want := "llm provider not specified"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

// TestDefaultBaseURLs verifies that when BaseURL is empty in the config,
// each provider constructor sets the correct default.
func TestDefaultBaseURLs(t *testing.T) {
	tests := []struct {
		provider string
		wantURL  string
	}{
		{"gemini", "https://generativelanguage.googleapis.com/v1beta/openai"},
		{"openai", "https://api.openai.com"},
		{"ollama", "http://localhost:11434"},
		{"custom", ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", tt.provider, err)
			}
			if got := baseField(p, "BaseURL"); got != tt.wantURL {
				t.Errorf("default BaseURL for %q = %q, want %q", tt.provider, got, tt.wantURL)
			}
		})
	}
}

func TestGeminiDefaultModel(t *testing.T) {
	p := NewGemini(Config{Provider: "gemini", APIKey: "k"})
	if got := baseField(p, "Model"); got != "gemini-2.5-flash" {
		t.Errorf("model = %q, want gemini-2.5-flash", got)
	}
}

// TestExplicitBaseURLPreserved verifies that a user-supplied BaseURL
// is not overwritten by the default.
func TestExplicitBaseURLPreserved(t *testing.T) {
	customURL := "http://my-server:9999"
	for _, provider := range []string{"gemini", "openai", "ollama", "custom"} {
		t.Run(provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: provider, Model: "m", BaseURL: customURL})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", provider, err)
			}
			if got := baseField(p, "BaseURL"); got != customURL {
				t.Errorf("provider %q BaseURL = %q, want %q", provider, got, customURL)
			}
		})
	}
}

func TestConfigured(t *testing.T) {
	tests := []struct {
		cfg  Config
		want bool
	}{
		{Config{Provider: "gemini"}, false},
		{Config{Provider: "gemini", APIKey: "k"}, true},
		{Config{Provider: "openai", APIKey: "k"}, true},
		{Config{Provider: "ollama"}, true},
		{Config{Provider: "custom"}, false},
		{Config{Provider: "custom", BaseURL: "http://x"}, true},
		{Config{}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.Configured(); got != tt.want {
			t.Errorf("%+v.Configured() = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}

func baseField(p Provider, field string) string {
	v := reflect.ValueOf(p).Elem()
	return v.FieldByName("base").FieldByName("cfg").FieldByName(field).String()
}

// ---------------------------------------------------------------------------
// HTTP behaviour
// ---------------------------------------------------------------------------

func chatServer(t *testing.T, status *int32, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		if code := atomic.LoadInt32(status); code != http.StatusOK {
			w.WriteHeader(int(code))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{{
				"message":       map[string]string{"content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
}

func TestChatRoundTrip(t *testing.T) {
	status := int32(http.StatusOK)
	srv := chatServer(t, &status, `{"summary":"ok"}`)
	defer srv.Close()

	p := NewOpenAICompat(Config{Provider: "custom", BaseURL: srv.URL, APIKey: "secret", Model: "test-model"})
	resp, err := Complete(context.Background(), p, "hello", ChatRequest{Temperature: 0.1})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"summary":"ok"}` || resp.TotalTokens != 15 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestCompleteEmptyContent(t *testing.T) {
	status := int32(http.StatusOK)
	srv := chatServer(t, &status, "")
	defer srv.Close()

	p := NewOpenAICompat(Config{Provider: "custom", BaseURL: srv.URL, APIKey: "secret"})
	_, err := Complete(context.Background(), p, "hello", ChatRequest{})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestChatNonRetryableStatus(t *testing.T) {
	status := int32(http.StatusUnauthorized)
	srv := chatServer(t, &status, "")
	defer srv.Close()

	p := NewOpenAICompat(Config{Provider: "custom", BaseURL: srv.URL, APIKey: "secret"})
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Resilient wrapper
// ---------------------------------------------------------------------------

type stubProvider struct {
	calls int32
	err   error
	delay time.Duration
}

func (s *stubProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Content: "ok"}, nil
}

func TestResilientTimeout(t *testing.T) {
	stub := &stubProvider{delay: time.Second}
	r := NewResilient("test", stub, 20*time.Millisecond)

	_, err := r.Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestResilientOpensAfterFailures(t *testing.T) {
	stub := &stubProvider{err: errors.New("boom")}
	r := NewResilient("test", stub, time.Second)

	for i := 0; i < 3; i++ {
		if _, err := r.Chat(context.Background(), ChatRequest{}); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := r.Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if got := atomic.LoadInt32(&stub.calls); got != 3 {
		t.Errorf("wrapped provider called %d times, want 3", got)
	}
	if r.State() != "open" {
		t.Errorf("state = %s, want open", r.State())
	}
}

func TestResilientVisionUnsupported(t *testing.T) {
	r := NewResilient("test", &stubProvider{}, time.Second)
	if _, err := r.ChatWithImages(context.Background(), VisionChatRequest{}); err == nil {
		t.Fatal("expected error for non-vision provider")
	}
}
