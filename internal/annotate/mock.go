package annotate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockProvider is a deterministic, API-key-free fallback (teacher's
// internal/llm/llm.go mockClient, adapted to this package's four
// operations), registered at the lowest priority so it only ever answers
// when every configured real provider is unavailable or circuit-open.
type MockProvider struct{}

// Name implements Provider.
func (MockProvider) Name() string { return "mock" }

// Priority implements Provider. Always last in the fallback chain.
func (MockProvider) Priority() int { return -1 }

// Synopsis implements Provider.
func (MockProvider) Synopsis(_ context.Context, doc Document) (string, error) {
	words := strings.Fields(doc.Text)

	preview := strings.Join(words, " ")
	if len(preview) > 200 {
		preview = preview[:200]
	}

	return fmt.Sprintf("Mock synopsis of %q: %s...", doc.Title, preview), nil
}

// Tags implements Provider.
func (MockProvider) Tags(_ context.Context, _ Document) ([]string, error) {
	return []string{"document", "unclassified"}, nil
}

// NER implements Provider.
func (MockProvider) NER(_ context.Context, _ Document) ([]Entity, error) {
	return nil, nil
}

// DateDetect implements Provider.
func (MockProvider) DateDetect(_ context.Context, _ Document) (DateDetection, error) {
	return DateDetection{
		EstimatedDate: time.Now().UTC().Format(time.RFC3339),
		Confidence:    "low",
		Source:        "mock",
	}, nil
}
