package annotate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider calls the Anthropic Messages API for all four
// operations (teacher's internal/core/llm package structure, rebuilt
// against the public anthropic-sdk-go client instead of an in-house HTTP
// wrapper).
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	templates Templates
	priority  int
}

// NewAnthropic builds an AnthropicProvider.
func NewAnthropic(apiKey, model string, maxTokens int64, templates Templates, priority int) *AnthropicProvider {
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		templates: templates,
		priority:  priority,
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Priority implements Provider.
func (p *AnthropicProvider) Priority() int { return p.priority }

func (p *AnthropicProvider) complete(ctx context.Context, prompt string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	if len(msg.Content) == 0 {
		return "", fmt.Errorf("anthropic: empty response")
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	if text == "" {
		return "", fmt.Errorf("anthropic: no text content block")
	}

	return text, nil
}

// Synopsis implements Provider.
func (p *AnthropicProvider) Synopsis(ctx context.Context, doc Document) (string, error) {
	prompt := Render(p.templates.Synopsis, doc, p.templates.MaxContentChars)
	return p.complete(ctx, prompt)
}

// Tags implements Provider.
func (p *AnthropicProvider) Tags(ctx context.Context, doc Document) ([]string, error) {
	prompt := Render(p.templates.Tags, doc, p.templates.MaxContentChars)

	text, err := p.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return parseTagLines(text), nil
}

// NER implements Provider.
func (p *AnthropicProvider) NER(ctx context.Context, doc Document) ([]Entity, error) {
	prompt := Render(p.templates.NER, doc, p.templates.MaxContentChars)

	text, err := p.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var entities []Entity
	if err := json.Unmarshal([]byte(extractJSON(text)), &entities); err != nil {
		return nil, fmt.Errorf("anthropic: parse ner response: %w", err)
	}

	return entities, nil
}

// DateDetect implements Provider.
func (p *AnthropicProvider) DateDetect(ctx context.Context, doc Document) (DateDetection, error) {
	prompt := Render(p.templates.DateDetect, doc, p.templates.MaxContentChars)

	text, err := p.complete(ctx, prompt)
	if err != nil {
		return DateDetection{}, err
	}

	var dd DateDetection
	if err := json.Unmarshal([]byte(extractJSON(text)), &dd); err != nil {
		return DateDetection{}, fmt.Errorf("anthropic: parse date_detect response: %w", err)
	}

	return dd, nil
}
