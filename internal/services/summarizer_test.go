package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/huangang/taskreport/internal/config"
	"github.com/huangang/taskreport/internal/docgen"
)

func sampleContent() *docgen.Content {
	return &docgen.Content{
		Title:       "Platform weekly",
		PeriodStart: time.Date(2026, 10, 7, 9, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
		Sections: []docgen.Section{{
			Heading: "Platform",
			Entries: []docgen.Entry{{Title: "schema drafted", Body: "first version", Task: "Migrate DB"}},
		}},
	}
}

func TestLLMSummarizer_Summarize(t *testing.T) {
	var gotPrompt string
	s := NewLLMSummarizer(config.AIConfig{Provider: "openai"})
	s.complete = func(_ context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return "  Good week.  ", nil
	}

	summary, err := s.Summarize(context.Background(), sampleContent())
	if err != nil {
		t.Fatal(err)
	}
	if summary != "Good week." {
		t.Errorf("summary = %q", summary)
	}
	for _, want := range []string{"Report: Platform weekly", "Period: 2026-10-07 to 2026-10-14", "## Platform", "- [Migrate DB] schema drafted: first version"} {
		if !strings.Contains(gotPrompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, gotPrompt)
		}
	}
}

func TestLLMSummarizer_EmptyContentSkipsProvider(t *testing.T) {
	s := NewLLMSummarizer(config.AIConfig{})
	s.complete = func(context.Context, string) (string, error) {
		t.Error("provider should not be called for empty content")
		return "", nil
	}
	if summary, err := s.Summarize(context.Background(), &docgen.Content{}); err != nil || summary != "" {
		t.Errorf("Summarize() = %q, %v", summary, err)
	}
}

func TestLLMSummarizer_ProviderError(t *testing.T) {
	s := NewLLMSummarizer(config.AIConfig{})
	s.complete = func(context.Context, string) (string, error) { return "", errors.New("quota exceeded") }
	if _, err := s.Summarize(context.Background(), sampleContent()); err == nil {
		t.Error("expected provider error")
	}
}

func TestBuildSummaryPrompt_Truncates(t *testing.T) {
	c := sampleContent()
	c.Sections[0].Entries[0].Body = strings.Repeat("x", maxSummaryPromptChars*2)
	prompt := buildSummaryPrompt(c)
	if len(prompt) > maxSummaryPromptChars+len("\n(truncated)") {
		t.Errorf("prompt length %d exceeds limit", len(prompt))
	}
	if !strings.HasSuffix(prompt, "(truncated)") {
		t.Error("truncated prompt should be marked")
	}
}

func TestBuildSummaryPrompt_TruncatesOnRuneBoundary(t *testing.T) {
	c := sampleContent()
	// three-byte runes, so the byte limit falls inside one
	c.Sections[0].Entries[0].Body = strings.Repeat("进度", maxSummaryPromptChars)
	prompt := buildSummaryPrompt(c)
	if !utf8.ValidString(prompt) {
		t.Error("truncated prompt is not valid UTF-8")
	}
	if len(prompt) > maxSummaryPromptChars+len("\n(truncated)") {
		t.Errorf("prompt length %d exceeds limit", len(prompt))
	}
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "abc"},
		{"abc", 2, "ab"},
		{"日本", 4, "日"},
		{"日本", 3, "日"},
		{"日本", 2, ""},
	}
	for _, tt := range tests {
		if got := truncateUTF8(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateUTF8(%q, %d) = %q, expected %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestLLMSummarizer_OpenAICompatible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","model":"test","choices":[{"index":0,"message":{"role":"assistant","content":"Shipped the schema."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	s := NewLLMSummarizer(config.AIConfig{Provider: "openai", BaseURL: srv.URL + "/v1", APIKey: "test", Model: "test"})
	summary, err := s.Summarize(context.Background(), sampleContent())
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary != "Shipped the schema." {
		t.Errorf("summary = %q", summary)
	}
}
