package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/secassist/internal/llm"
)

const defaultModel = "qwen2.5-coder:7b"

// Provider implements llm.Provider for a local Ollama server
type Provider struct {
	host         string
	defaultModel string
	client       *http.Client
}

// NewProvider creates a new Ollama provider. The host plays the role of the
// credential: without one the provider is unconfigured.
func NewProvider(host, model string) llm.Provider {
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		host:         strings.TrimSuffix(host, "/"),
		defaultModel: model,
		client:       &http.Client{Timeout: 300 * time.Second},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "ollama"
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has a host
func (p *Provider) IsConfigured() bool {
	return p.host != ""
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []llm.Message  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
	Error     string `json:"error,omitempty"`
}

// Analyze asks the model to review code
func (p *Provider) Analyze(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, llm.SinglePrompt(prompt), llm.ChatOptions{Temperature: llm.Float(0.2)}, nil)
}

// GenerateFix asks the model for corrected code
func (p *Provider) GenerateFix(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, llm.SinglePrompt(prompt), llm.ChatOptions{Temperature: llm.Float(0)}, nil)
}

// Chat calls /api/chat. Ollama streams newline-delimited JSON objects.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, cb *llm.Callbacks) (string, error) {
	if !p.IsConfigured() {
		return "", llm.NewCredentialError(p.Name())
	}

	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}

	options := map[string]any{
		"num_predict": 4096, // thinking models need the headroom
	}
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}

	ollamaReq := ollamaRequest{
		Model:    model,
		Messages: llm.WithSystemPrompt(opts.SystemPrompt, messages),
		Stream:   true,
		Options:  options,
	}

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return "", &llm.ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	col := llm.NewCollector(cb)
	err = llm.ReadNDJSON(ctx, resp.Body, func(line []byte) (bool, error) {
		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			llm.SkipMalformed(p.Name(), line, err)
			return false, nil
		}
		if chunk.Error != "" {
			return true, fmt.Errorf("ollama stream error: %s", chunk.Error)
		}
		col.Add(chunk.Message.Content)
		return chunk.Done, nil
	})
	if err != nil {
		return col.Text(), fmt.Errorf("stream read failed: %w", err)
	}

	return col.Finish(), nil
}
