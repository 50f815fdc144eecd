package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 2048
)

// Options customizes an OpenAI-compatible provider
type Options struct {
	Name    string
	BaseURL string
	Client  *http.Client
}

// Provider implements llm.Provider for OpenAI and OpenAI-compatible APIs
type Provider struct {
	name         string
	apiKey       string
	defaultModel string
	client       *http.Client
	baseURL      string
}

// NewProvider creates a new OpenAI provider
func NewProvider(apiKey, model string) llm.Provider {
	return NewCompatible(apiKey, model, Options{})
}

// NewCompatible creates a provider for any endpoint speaking the OpenAI chat API
func NewCompatible(apiKey, model string, opts Options) *Provider {
	if model == "" {
		model = defaultModel
	}
	if opts.Name == "" {
		opts.Name = "openai"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 120 * time.Second}
	}
	return &Provider{
		name:         opts.Name,
		apiKey:       apiKey,
		defaultModel: model,
		client:       opts.Client,
		baseURL:      opts.BaseURL,
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return p.name
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Analyze asks the model to review code
func (p *Provider) Analyze(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, llm.SinglePrompt(prompt), llm.ChatOptions{Temperature: llm.Float(0.2)}, nil)
}

// GenerateFix asks the model for corrected code
func (p *Provider) GenerateFix(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, llm.SinglePrompt(prompt), llm.ChatOptions{Temperature: llm.Float(0)}, nil)
}

// Chat runs a chat completion, streaming over SSE when the caller wants tokens
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, cb *llm.Callbacks) (string, error) {
	if !p.IsConfigured() {
		return "", llm.NewCredentialError(p.name)
	}

	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	chatReq := chatRequest{
		Model:       model,
		Messages:    llm.WithSystemPrompt(opts.SystemPrompt, messages),
		Stream:      cb.Streaming(),
		Temperature: opts.Temperature,
		MaxTokens:   maxTokens,
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if chatReq.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	log.Debug().
		Str("provider", p.name).
		Str("model", model).
		Int("messages", len(chatReq.Messages)).
		Bool("stream", chatReq.Stream).
		Msg("Sending chat request")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return "", &llm.ProviderError{Provider: p.name, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if chatReq.Stream {
		return p.readStream(ctx, resp.Body, cb)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", p.name, llm.ErrNoContent)
	}

	return llm.EmitChunked(chatResp.Choices[0].Message.Content, llm.DefaultChunkSize, cb), nil
}

func (p *Provider) readStream(ctx context.Context, body io.Reader, cb *llm.Callbacks) (string, error) {
	col := llm.NewCollector(cb)

	err := llm.ReadSSE(ctx, body, func(data []byte) error {
		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			llm.SkipMalformed(p.name, data, err)
			return nil
		}
		if chunk.Error != nil {
			return fmt.Errorf("%s stream error: %s", p.name, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		col.Add(chunk.Choices[0].Delta.Content)
		return nil
	})
	if err != nil {
		return col.Text(), fmt.Errorf("stream read failed: %w", err)
	}

	return col.Finish(), nil
}
