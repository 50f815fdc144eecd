package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultModel     = "claude-3-5-sonnet-20241022"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 2048
)

// Provider implements llm.Provider for Anthropic. Responses are fetched in a
// single request and fragmented locally for token callbacks.
type Provider struct {
	apiKey       string
	defaultModel string
	client       *http.Client
	baseURL      string
}

// NewProvider creates a new Anthropic provider
func NewProvider(apiKey, model string) llm.Provider {
	return NewWithBaseURL(apiKey, model, defaultBaseURL)
}

// NewWithBaseURL creates a provider pointed at a custom endpoint
func NewWithBaseURL(apiKey, model, baseURL string) *Provider {
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		apiKey:       apiKey,
		defaultModel: model,
		client:       &http.Client{Timeout: 120 * time.Second},
		baseURL:      strings.TrimSuffix(baseURL, "/"),
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "anthropic"
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Analyze asks the model to review code
func (p *Provider) Analyze(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, llm.SinglePrompt(prompt), llm.ChatOptions{Temperature: llm.Float(0.2)}, nil)
}

// GenerateFix asks the model for corrected code
func (p *Provider) GenerateFix(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, llm.SinglePrompt(prompt), llm.ChatOptions{Temperature: llm.Float(0)}, nil)
}

// Chat sends the conversation to the messages endpoint
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, cb *llm.Callbacks) (string, error) {
	if !p.IsConfigured() {
		return "", llm.NewCredentialError(p.Name())
	}

	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	// System messages move to the top-level field
	system := opts.SystemPrompt
	converted := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		converted = append(converted, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	anthropicReq := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: opts.Temperature,
		Messages:    converted,
	}

	body, err := json.Marshal(anthropicReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return "", &llm.ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var anthropicResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthropicResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(anthropicResp.Content) == 0 {
		return "", fmt.Errorf("anthropic: %w", llm.ErrNoContent)
	}

	var sb strings.Builder
	for _, block := range anthropicResp.Content {
		if block.Type == "" || block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	log.Debug().
		Str("provider", p.Name()).
		Str("model", model).
		Int("input_tokens", anthropicResp.Usage.InputTokens).
		Int("output_tokens", anthropicResp.Usage.OutputTokens).
		Dur("latency", time.Since(start)).
		Msg("Chat completed")

	return llm.EmitChunked(sb.String(), llm.DefaultChunkSize, cb), nil
}
