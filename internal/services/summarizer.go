package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/huangang/taskreport/internal/config"
	"github.com/huangang/taskreport/internal/docgen"
	"github.com/huangang/taskreport/pkg/logger"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

const maxSummaryPromptChars = 24000

// Summarizer writes a short overview paragraph for a report.
type Summarizer interface {
	Summarize(ctx context.Context, content *docgen.Content) (string, error)
}

// LLMSummarizer asks the configured language model provider for a summary.
type LLMSummarizer struct {
	cfg      config.AIConfig
	timeout  time.Duration
	complete func(ctx context.Context, prompt string) (string, error)
}

func NewLLMSummarizer(cfg config.AIConfig) *LLMSummarizer {
	s := &LLMSummarizer{cfg: cfg, timeout: 2 * time.Minute}
	s.complete = s.callLLM
	return s
}

// Summarize returns "" without calling the provider when there is nothing to summarize.
func (s *LLMSummarizer) Summarize(ctx context.Context, content *docgen.Content) (string, error) {
	if content.IsEmpty() {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := buildSummaryPrompt(content)
	logger.Debugf("[AI] Summary prompt length: %d chars, provider: %s", len(prompt), s.cfg.Provider)

	summary, err := s.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

func buildSummaryPrompt(content *docgen.Content) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following team progress report in one short paragraph for managers. ")
	sb.WriteString("Mention notable achievements and blockers. Do not invent facts.\n\n")
	if content.Title != "" {
		fmt.Fprintf(&sb, "Report: %s\n", content.Title)
	}
	if !content.PeriodStart.IsZero() {
		fmt.Fprintf(&sb, "Period: %s to %s\n", content.PeriodStart.Format("2006-01-02"), content.PeriodEnd.Format("2006-01-02"))
	}
	for _, sec := range content.Sections {
		fmt.Fprintf(&sb, "\n## %s\n", sec.Heading)
		for _, e := range sec.Entries {
			fmt.Fprintf(&sb, "- [%s] %s: %s\n", e.Task, e.Title, strings.TrimSpace(e.Body))
		}
	}

	prompt := sb.String()
	if len(prompt) > maxSummaryPromptChars {
		prompt = truncateUTF8(prompt, maxSummaryPromptChars) + "\n(truncated)"
	}
	return prompt
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// callLLM dispatches to the provider-specific client.
func (s *LLMSummarizer) callLLM(ctx context.Context, prompt string) (string, error) {
	switch s.cfg.Provider {
	case "anthropic":
		return s.callAnthropic(ctx, prompt)
	case "ollama":
		return s.callOllama(ctx, prompt)
	case "gemini":
		return s.callGemini(ctx, prompt)
	case "azure":
		return s.callOpenAICompatible(ctx, openai.DefaultAzureConfig(s.cfg.APIKey, s.cfg.BaseURL), prompt)
	default:
		// openai and other OpenAI-compatible services
		clientConfig := openai.DefaultConfig(s.cfg.APIKey)
		if s.cfg.BaseURL != "" {
			clientConfig.BaseURL = s.cfg.BaseURL
		}
		return s.callOpenAICompatible(ctx, clientConfig, prompt)
	}
}

func (s *LLMSummarizer) callOpenAICompatible(ctx context.Context, clientConfig openai.ClientConfig, prompt string) (string, error) {
	client := openai.NewClientWithConfig(clientConfig)

	temperature := float32(0.3)
	if s.cfg.Temperature > 0 {
		temperature = float32(s.cfg.Temperature)
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model, // deployment name on Azure
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", s.cfg.Provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from %s", s.cfg.Provider)
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *LLMSummarizer) callAnthropic(ctx context.Context, prompt string) (string, error) {
	opts := []option.RequestOption{option.WithAPIKey(s.cfg.APIKey)}
	if s.cfg.BaseURL != "" && !strings.Contains(s.cfg.BaseURL, "openai.com") {
		opts = append(opts, option.WithBaseURL(s.cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := int64(s.cfg.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	model := s.cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}

func (s *LLMSummarizer) callOllama(ctx context.Context, prompt string) (string, error) {
	baseURL := s.cfg.BaseURL
	if baseURL == "" || strings.Contains(baseURL, "openai.com") {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	client := api.NewClient(u, http.DefaultClient)

	model := s.cfg.Model
	if model == "" {
		model = "llama3"
	}

	var content strings.Builder
	err = client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Options:  map[string]interface{}{"temperature": s.cfg.Temperature},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("Ollama API error: %w", err)
	}
	return content.String(), nil
}

func (s *LLMSummarizer) callGemini(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: s.cfg.APIKey})
	if err != nil {
		return "", fmt.Errorf("Gemini client error: %w", err)
	}
	model := s.cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return resp.Text(), nil
}
