package app

import (
	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/config"
	"github.com/Rrens/secassist/internal/llm"
	"github.com/Rrens/secassist/internal/llm/anthropic"
	"github.com/Rrens/secassist/internal/llm/deepseek"
	"github.com/Rrens/secassist/internal/llm/gemini"
	"github.com/Rrens/secassist/internal/llm/local"
	"github.com/Rrens/secassist/internal/llm/ollama"
	"github.com/Rrens/secassist/internal/llm/openai"
)

// SecretSource resolves stored provider credentials
type SecretSource interface {
	Get(provider string) (string, bool)
}

// NewProviderRouter registers every provider. Credentials from configuration
// (and so the environment) win over the keystore. A provider without a
// credential is still registered and fails fast when called.
func NewProviderRouter(cfg config.LLMConfig, secrets SecretSource) *llm.Router {
	router := llm.NewRouter(cfg.DefaultProvider)
	log.Info().Msgf("Initializing LLM providers. Default: %s", cfg.DefaultProvider)

	router.RegisterFactory("openai", func(secret, model string) llm.Provider {
		return openai.NewCompatible(secret, model, openai.Options{BaseURL: cfg.OpenAI.BaseURL})
	})
	router.RegisterFactory("anthropic", anthropic.NewProvider)
	router.RegisterFactory("deepseek", deepseek.NewProvider)
	router.RegisterFactory("gemini", func(secret, model string) llm.Provider {
		return gemini.NewProvider(secret, model)
	})
	// the ollama "secret" is its host
	router.RegisterFactory("ollama", ollama.NewProvider)

	register := func(name, configured, model string) {
		secret, source := configured, "config"
		if secret == "" && secrets != nil {
			if stored, ok := secrets.Get(name); ok {
				secret, source = stored, "keystore"
			}
		}
		if _, err := router.Rotate(name, secret, model); err != nil {
			log.Error().Err(err).Str("provider", name).Msg("Failed to register provider")
			return
		}
		if secret == "" {
			log.Warn().Str("provider", name).Msg("Provider has no credential, calls will fail until one is set")
			return
		}
		log.Info().Str("provider", name).Str("source", source).Msg("Registered provider")
	}

	register("openai", cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	register("anthropic", cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	register("deepseek", cfg.DeepSeek.APIKey, cfg.DeepSeek.Model)
	register("gemini", cfg.Gemini.APIKey, cfg.Gemini.Model)
	register("ollama", cfg.Ollama.Host, cfg.Ollama.DefaultModel)

	router.RegisterProvider(local.NewProvider())
	return router
}
