package analysis

import (
	"context"
	"errors"
	"testing"
)

type stubBackend struct {
	name   string
	mimes  map[string]bool
	result Result
	err    error
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Supports(mimeType string) bool { return s.mimes[mimeType] }

func (s *stubBackend) Process(_ context.Context, _ Input) (Result, error) {
	if s.err != nil {
		return Result{}, s.err
	}

	return s.result, nil
}

func TestRegistry_RunSkipsUnsupportedAndFailingBackends(t *testing.T) {
	reg := NewRegistry(nil)

	good := &stubBackend{name: "good", mimes: map[string]bool{"application/pdf": true}, result: Result{Text: "hello"}}
	bad := &stubBackend{name: "bad", mimes: map[string]bool{"application/pdf": true}, err: errors.New("boom")}
	unrelated := &stubBackend{name: "unrelated", mimes: map[string]bool{"image/png": true}, result: Result{Text: "nope"}}

	reg.Register(good, 100)
	reg.Register(bad, 90)
	reg.Register(unrelated, 80)

	results := reg.Run(context.Background(), Input{Bytes: []byte("x"), MimeType: "application/pdf"})

	if _, ok := results["unrelated"]; ok {
		t.Fatalf("unrelated backend should not have run")
	}

	if _, ok := results["bad"]; ok {
		t.Fatalf("failing backend should not appear in results")
	}

	if r, ok := results["good"]; !ok || r.Text != "hello" {
		t.Fatalf("expected good backend result, got %v ok=%v", r, ok)
	}
}

func TestRegistry_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	reg := NewRegistry(nil)

	flaky := &stubBackend{name: "flaky", mimes: map[string]bool{"application/pdf": true}, err: errors.New("down")}
	reg.Register(flaky, 100)

	for i := 0; i < 5; i++ {
		reg.Run(context.Background(), Input{MimeType: "application/pdf"})
	}

	breaker := reg.breakers.For("flaky")
	if breaker.CanAttempt() {
		t.Fatalf("expected circuit to be open after repeated failures")
	}
}

func TestQualityScore_PrefersLongerCleanText(t *testing.T) {
	garbage := "a#$%   b^&*   c!@#"
	clean := "This is a perfectly ordinary sentence of extracted document text."

	if qualityScore(clean) <= qualityScore(garbage) {
		t.Fatalf("expected clean text to score higher than garbage: clean=%f garbage=%f", qualityScore(clean), qualityScore(garbage))
	}
}

func TestQualityScore_EmptyIsZero(t *testing.T) {
	if qualityScore("   ") != 0 {
		t.Fatalf("expected blank text to score zero")
	}
}
