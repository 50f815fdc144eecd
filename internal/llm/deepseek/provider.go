package deepseek

import (
	"github.com/Rrens/secassist/internal/llm"
	"github.com/Rrens/secassist/internal/llm/openai"
)

const (
	baseURL      = "https://api.deepseek.com/v1"
	defaultModel = "deepseek-chat"
)

// NewProvider creates a new DeepSeek provider. The API is OpenAI-compatible,
// including SSE streaming.
func NewProvider(apiKey, model string) llm.Provider {
	if model == "" {
		model = defaultModel
	}
	return openai.NewCompatible(apiKey, model, openai.Options{
		Name:    "deepseek",
		BaseURL: baseURL,
	})
}
