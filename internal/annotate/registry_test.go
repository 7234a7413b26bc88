package annotate

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	name     string
	priority int
	err      error
	synopsis string
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Priority() int { return s.priority }

func (s *stubProvider) Synopsis(_ context.Context, _ Document) (string, error) {
	if s.err != nil {
		return "", s.err
	}

	return s.synopsis, nil
}

func (s *stubProvider) Tags(_ context.Context, _ Document) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}

	return []string{s.name}, nil
}

func (s *stubProvider) NER(_ context.Context, _ Document) ([]Entity, error) {
	return nil, s.err
}

func (s *stubProvider) DateDetect(_ context.Context, _ Document) (DateDetection, error) {
	if s.err != nil {
		return DateDetection{}, s.err
	}

	return DateDetection{EstimatedDate: "2020-01-01T00:00:00Z", Confidence: "high", Source: s.name}, nil
}

func TestRegistry_FallsBackOnFailure(t *testing.T) {
	reg := NewRegistry(nil)

	bad := &stubProvider{name: "bad", priority: 100, err: errors.New("boom")}
	good := &stubProvider{name: "good", priority: 50, synopsis: "fine"}

	reg.Register(bad)
	reg.Register(good)

	out, err := reg.Synopsis(context.Background(), Document{Title: "t", Text: "body"})
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}

	if out != "fine" {
		t.Fatalf("expected fallback result %q, got %q", "fine", out)
	}
}

func TestRegistry_AllProvidersFailReturnsJoinedError(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubProvider{name: "only", priority: 1, err: errors.New("down")})

	_, err := reg.Synopsis(context.Background(), Document{})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestRegistry_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	reg := NewRegistry(nil)

	flaky := &stubProvider{name: "flaky", priority: 100, err: errors.New("down")}
	reg.Register(flaky)

	for i := 0; i < 5; i++ {
		_, _ = reg.Synopsis(context.Background(), Document{})
	}

	breaker := reg.breakers.For("flaky")
	if breaker.CanAttempt() {
		t.Fatalf("expected circuit to be open after repeated failures")
	}
}

func TestMockProvider_IsDeterministicAcrossOperations(t *testing.T) {
	m := MockProvider{}

	tags, err := m.Tags(context.Background(), Document{Title: "t", Text: "body"})
	if err != nil || len(tags) != 2 {
		t.Fatalf("expected two deterministic tags, got %v err=%v", tags, err)
	}

	entities, err := m.NER(context.Background(), Document{})
	if err != nil || entities != nil {
		t.Fatalf("expected nil entities, got %v err=%v", entities, err)
	}

	dd, err := m.DateDetect(context.Background(), Document{})
	if err != nil || dd.Source != "mock" || dd.Confidence != "low" {
		t.Fatalf("unexpected mock date detection: %+v err=%v", dd, err)
	}
}

func TestRender_TruncatesContentAndSubstitutes(t *testing.T) {
	doc := Document{Title: "Memo", Text: "0123456789"}

	out := Render("Title: {title}\n{content}", doc, 4)
	want := "Title: Memo\n0123"

	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestParseTagLines_StripsBulletsAndBlankLines(t *testing.T) {
	tags := parseTagLines("- alpha\nbeta\n\n- gamma  ")

	want := []string{"alpha", "beta", "gamma"}
	if len(tags) != len(want) {
		t.Fatalf("expected %v, got %v", want, tags)
	}

	for i, tag := range tags {
		if tag != want[i] {
			t.Fatalf("expected %v, got %v", want, tags)
		}
	}
}

func TestExtractJSON_StripsCodeFence(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"

	out := extractJSON(in)
	if out != "{\"a\":1}" {
		t.Fatalf("expected stripped JSON, got %q", out)
	}
}
