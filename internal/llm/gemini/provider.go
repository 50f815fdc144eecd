package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/Rrens/secassist/internal/llm"
)

const defaultModel = "gemini-2.5-flash"

type Provider struct {
	apiKey  string
	model   string
	options []option.ClientOption
}

// NewProvider creates a Gemini provider. Extra client options are appended
// after the API key.
func NewProvider(apiKey, model string, opts ...option.ClientOption) *Provider {
	return &Provider{
		apiKey:  apiKey,
		model:   model,
		options: opts,
	}
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) DefaultModel() string {
	if p.model != "" {
		return p.model
	}
	return defaultModel
}

func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *Provider) Analyze(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, llm.SinglePrompt(prompt), llm.ChatOptions{Temperature: llm.Float(0.2)}, nil)
}

func (p *Provider) GenerateFix(ctx context.Context, prompt string) (string, error) {
	return p.Chat(ctx, llm.SinglePrompt(prompt), llm.ChatOptions{Temperature: llm.Float(0)}, nil)
}

// Chat replays the history into a chat session and streams the reply of the
// last user message through the SDK iterator.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, cb *llm.Callbacks) (string, error) {
	if !p.IsConfigured() {
		return "", llm.NewCredentialError(p.Name())
	}

	model := opts.Model
	if model == "" {
		model = p.DefaultModel()
	}

	clientOpts := append([]option.ClientOption{option.WithAPIKey(p.apiKey)}, p.options...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	generativeModel := client.GenerativeModel(model)
	if opts.Temperature != nil {
		generativeModel.SetTemperature(float32(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		generativeModel.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	system, history, last := splitConversation(opts.SystemPrompt, messages)
	if system != "" {
		generativeModel.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	if last == "" {
		return "", errors.New("gemini: conversation has no user message")
	}

	cs := generativeModel.StartChat()
	cs.History = history

	col := llm.NewCollector(cb)
	iter := cs.SendMessageStream(ctx, genai.Text(last))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return col.Text(), fmt.Errorf("gemini generation error: %w", err)
		}
		col.Add(responseText(resp))
	}

	if col.Text() == "" {
		return "", fmt.Errorf("gemini: %w", llm.ErrNoContent)
	}
	return col.Finish(), nil
}

// splitConversation converts messages into Gemini history, returning the
// trailing user message separately.
func splitConversation(systemPrompt string, messages []llm.Message) (string, []*genai.Content, string) {
	system := systemPrompt
	var history []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case llm.RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}

	if len(history) == 0 || history[len(history)-1].Role != "user" {
		return system, history, ""
	}
	last := history[len(history)-1]
	text, _ := last.Parts[0].(genai.Text)
	return system, history[:len(history)-1], string(text)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var output string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			output += string(text)
		}
	}
	return output
}
