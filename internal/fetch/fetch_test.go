package fetch

import (
	"bytes"
	"context"
	"net/http"
	"testing"
)

func TestClassifyGovernorOutcome(t *testing.T) {
	if classifyGovernorOutcome(nil, context.DeadlineExceeded) != 2 {
		t.Fatalf("expected transport error outcome on transport failure")
	}

	resp := &http.Response{StatusCode: http.StatusTooManyRequests}
	if classifyGovernorOutcome(resp, nil) != 1 {
		t.Fatalf("expected rate-limited outcome on 429")
	}

	resp = &http.Response{StatusCode: http.StatusOK}
	if classifyGovernorOutcome(resp, nil) != 0 {
		t.Fatalf("expected success outcome on 200")
	}
}

func TestOutcomeLabel(t *testing.T) {
	cases := map[OutcomeKind]string{
		OutcomeFresh:          "fresh",
		OutcomeNotModified:    "not_modified",
		OutcomeHTTPError:      "http_error",
		OutcomeTransportError: "transport_error",
	}

	for kind, want := range cases {
		if got := outcomeLabel(kind); got != want {
			t.Errorf("outcomeLabel(%v) = %q, want %q", kind, got, want)
		}
	}
}

func TestReadCappedRejectsOversizedBody(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 100)

	_, err := readCapped(bytes.NewReader(big), 10)
	if err != ErrBodyTooLarge {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestReadCappedAllowsBodyUnderCap(t *testing.T) {
	data := []byte("small body")

	got, err := readCapped(bytes.NewReader(data), 1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}
