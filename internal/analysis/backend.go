// Package analysis implements the acquisition engine's per-page text
// extraction and OCR pipeline: it explodes paginated DocumentVersions into
// DocumentPage rows, runs a priority-ordered set of backends against each
// page under an at-most-once claim protocol, and finalizes per-page text
// by a quality score across whichever backends produced output.
package analysis

import "context"

// Backend names, used as the analysis_results.backend column value.
const (
	BackendNativePDF   = "native_pdf"
	BackendReadability = "readability"
	BackendClassicalOCR = "classical_ocr"
	BackendNeuralOCR   = "neural_ocr"
	BackendVisionOCR   = "vision_ocr"
)

// AnalysisType values, used as the analysis_results.analysis_type column.
const (
	TypeTextExtract = "text_extract"
	TypeOCR         = "ocr"
)

// Result is one backend's output for one unit of work (a page's image
// bytes, or a whole document's bytes for page-less backends).
type Result struct {
	Text             string
	Confidence       float32
	ProcessingTimeMS int64
}

// Input is what a backend receives: raw bytes plus the MIME type the
// Content Store recorded for the enclosing DocumentVersion, so a backend
// that only handles specific types can reject others cheaply.
type Input struct {
	Bytes      []byte
	MimeType   string
	PageNumber int // 0 for page-less (whole-document) backends
}

// Backend is the narrow capability set every extraction/OCR implementation
// satisfies (spec.md §4.6's "process(page_bytes | page_image) → result").
type Backend interface {
	Name() string
	// Supports reports whether this backend can attempt the given input,
	// e.g. BackendNativePDF only supports "application/pdf".
	Supports(mimeType string) bool
	Process(ctx context.Context, in Input) (Result, error)
}
