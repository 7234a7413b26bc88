package annotate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider calls an OpenAI-compatible chat completion endpoint for
// all four operations (teacher's internal/core/llm/openai.go client
// shape, narrowed to this package's fixed operation set).
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	templates   Templates
	priority    int
}

// NewOpenAI builds an OpenAIProvider.
func NewOpenAI(apiKey, model string, maxTokens int, temperature float32, templates Templates, priority int) *OpenAIProvider {
	return &OpenAIProvider{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		templates:   templates,
		priority:    priority,
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Priority implements Provider.
func (p *OpenAIProvider) Priority() int { return p.priority }

func (p *OpenAIProvider) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}

	return resp.Choices[0].Message.Content, nil
}

// Synopsis implements Provider.
func (p *OpenAIProvider) Synopsis(ctx context.Context, doc Document) (string, error) {
	prompt := Render(p.templates.Synopsis, doc, p.templates.MaxContentChars)
	return p.complete(ctx, prompt)
}

// Tags implements Provider.
func (p *OpenAIProvider) Tags(ctx context.Context, doc Document) ([]string, error) {
	prompt := Render(p.templates.Tags, doc, p.templates.MaxContentChars)

	text, err := p.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return parseTagLines(text), nil
}

// NER implements Provider.
func (p *OpenAIProvider) NER(ctx context.Context, doc Document) ([]Entity, error) {
	prompt := Render(p.templates.NER, doc, p.templates.MaxContentChars)

	text, err := p.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var entities []Entity
	if err := json.Unmarshal([]byte(extractJSON(text)), &entities); err != nil {
		return nil, fmt.Errorf("openai: parse ner response: %w", err)
	}

	return entities, nil
}

// DateDetect implements Provider.
func (p *OpenAIProvider) DateDetect(ctx context.Context, doc Document) (DateDetection, error) {
	prompt := Render(p.templates.DateDetect, doc, p.templates.MaxContentChars)

	text, err := p.complete(ctx, prompt)
	if err != nil {
		return DateDetection{}, err
	}

	var dd DateDetection
	if err := json.Unmarshal([]byte(extractJSON(text)), &dd); err != nil {
		return DateDetection{}, fmt.Errorf("openai: parse date_detect response: %w", err)
	}

	return dd, nil
}

// parseTagLines splits a line-per-tag response into a cleaned slice.
func parseTagLines(text string) []string {
	lines := strings.Split(text, "\n")

	tags := make([]string, 0, len(lines))

	for _, line := range lines {
		tag := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if tag != "" {
			tags = append(tags, tag)
		}
	}

	return tags
}

// extractJSON strips common LLM chattiness (code fences, leading/trailing
// prose) around a JSON payload, returning just the { ... } or [ ... ] span.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}

	end := strings.LastIndexAny(text, "}]")
	if end < start {
		return text
	}

	return text[start : end+1]
}
