package crawl

import "testing"

func TestCanonicalizeURL(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantOK  bool
	}{
		{"HTTP://Example.COM/Path/", "http://example.com/Path", true},
		{"https://example.com/a#section", "https://example.com/a", true},
		{"ftp://example.com/file", "", false},
		{"not a url", "", false},
	}

	for _, c := range cases {
		got, ok := CanonicalizeURL(c.in)
		if ok != c.wantOK {
			t.Errorf("CanonicalizeURL(%q) ok = %v, want %v", c.in, ok, c.wantOK)
			continue
		}

		if ok && got != c.want {
			t.Errorf("CanonicalizeURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPaginatedLabel(t *testing.T) {
	if paginatedLabel("application/pdf") != "pdf" {
		t.Fatal("expected pdf label")
	}

	if paginatedLabel("image/tiff") != "tiff" {
		t.Fatal("expected tiff label")
	}

	if paginatedLabel("text/html") != "other" {
		t.Fatal("expected other label")
	}
}

func TestFilenameFromURL(t *testing.T) {
	name := filenameFromURL("https://example.com/docs/report.pdf")
	if name == nil || *name != "report.pdf" {
		t.Fatalf("expected report.pdf, got %v", name)
	}

	if filenameFromURL("https://example.com/") != nil {
		t.Fatal("expected nil filename for bare path")
	}
}
