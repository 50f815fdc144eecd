package local

import (
	"context"
	"strings"

	"github.com/Rrens/secassist/internal/llm"
)

// Provider is an offline, deterministic provider. It never touches the
// network and needs no credential.
type Provider struct{}

// NewProvider creates the offline provider
func NewProvider() *Provider { return &Provider{} }

func (*Provider) Name() string { return "local" }

func (*Provider) DefaultModel() string { return "local-echo" }

func (*Provider) IsConfigured() bool { return true }

func (p *Provider) Analyze(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "Offline analysis placeholder. No model was consulted for:\n" + excerpt(prompt), nil
}

func (p *Provider) GenerateFix(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "Offline fix placeholder. No model was consulted for:\n" + excerpt(prompt), nil
}

// Chat echoes the last user message, delivered through the chunked callback contract
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, _ llm.ChatOptions, cb *llm.Callbacks) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	txt := "Offline assistant reply (no provider configured).\n\nYou said:\n" + lastUserText(messages)
	return llm.EmitChunked(txt, llm.DefaultChunkSize, cb), nil
}

func lastUserText(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
