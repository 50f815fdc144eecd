package llm

import "context"

// Message roles understood by every provider
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry of the conversation sent to a provider
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatOptions carries optional request hints. Zero values mean
// "use the provider default".
type ChatOptions struct {
	SystemPrompt string
	Model        string
	Temperature  *float64
	MaxTokens    int
}

// Callbacks receive streaming progress. Every field is optional.
type Callbacks struct {
	OnStart    func()
	OnToken    func(fragment string)
	OnComplete func(fullText string)
}

// Start invokes OnStart when set
func (c *Callbacks) Start() {
	if c != nil && c.OnStart != nil {
		c.OnStart()
	}
}

// Token invokes OnToken for a non-empty fragment
func (c *Callbacks) Token(fragment string) {
	if c != nil && c.OnToken != nil && fragment != "" {
		c.OnToken(fragment)
	}
}

// Complete invokes OnComplete when set
func (c *Callbacks) Complete(full string) {
	if c != nil && c.OnComplete != nil {
		c.OnComplete(full)
	}
}

// Streaming reports whether the caller asked for incremental tokens
func (c *Callbacks) Streaming() bool {
	return c != nil && c.OnToken != nil
}

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// DefaultModel returns the default model
	DefaultModel() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// Analyze asks the model to review code and returns its raw answer
	Analyze(ctx context.Context, prompt string) (string, error)

	// GenerateFix asks the model for corrected code and returns its raw answer
	GenerateFix(ctx context.Context, prompt string) (string, error)

	// Chat runs a conversational completion. When cb.OnToken is set the
	// provider delivers incremental fragments before OnComplete.
	Chat(ctx context.Context, messages []Message, opts ChatOptions, cb *Callbacks) (string, error)
}

// ProviderFactory creates a new provider instance from a credential and model
type ProviderFactory func(secret, model string) Provider

// WithSystemPrompt returns the messages with the system prompt prepended
func WithSystemPrompt(systemPrompt string, messages []Message) []Message {
	out := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(out, messages...)
}

// SinglePrompt wraps a one-shot prompt as a conversation
func SinglePrompt(prompt string) []Message {
	return []Message{{Role: RoleUser, Content: prompt}}
}

// Float returns a pointer to v, for ChatOptions.Temperature
func Float(v float64) *float64 {
	return &v
}
