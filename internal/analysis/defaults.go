package analysis

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// Options configures BuildDefault's optional backends; zero values disable
// the corresponding backend (e.g. an empty VisionAPIKey skips vision OCR).
type Options struct {
	VisionAPIKey  string
	VisionModel   string
	NeuralOCRURL  string
	OCRLanguages  []string
	EnabledOrder  []string // optional subset/reorder from ANALYSIS_OCR_BACKENDS
}

// BuildDefault registers the always-available structural backends
// (native PDF, readability) plus whichever OCR backends Options enables,
// honoring EnabledOrder, when non-empty, as a filter and as the OCR
// backends' run order.
func BuildDefault(opts Options, logger *zerolog.Logger) *Registry {
	reg := NewRegistry(logger)

	enabled := func(name string) bool {
		if len(opts.EnabledOrder) == 0 {
			return true
		}

		for _, n := range opts.EnabledOrder {
			if n == name {
				return true
			}
		}

		return false
	}

	// ocrPriority orders OCR backends by their position in EnabledOrder
	// when it is set, keeping them below the structural backends.
	ocrPriority := func(name string, def int) int {
		for i, n := range opts.EnabledOrder {
			if n == name {
				return PriorityClassicalOCR - i
			}
		}

		return def
	}

	reg.Register(NativePDFBackend{}, PriorityNativePDF)
	reg.Register(ReadabilityBackend{}, PriorityReadability)

	if enabled(BackendClassicalOCR) {
		reg.Register(ClassicalOCRBackend{Languages: opts.OCRLanguages}, ocrPriority(BackendClassicalOCR, PriorityClassicalOCR))
	}

	if opts.VisionAPIKey != "" && enabled(BackendVisionOCR) {
		reg.Register(VisionOCRBackend{
			Client: openai.NewClient(opts.VisionAPIKey),
			Model:  opts.VisionModel,
		}, ocrPriority(BackendVisionOCR, PriorityVisionOCR))
	}

	if opts.NeuralOCRURL != "" && enabled(BackendNeuralOCR) {
		reg.Register(NeuralOCRBackend{
			Endpoint: opts.NeuralOCRURL,
			Client:   &http.Client{Timeout: 90 * time.Second},
		}, ocrPriority(BackendNeuralOCR, PriorityNeuralOCR))
	}

	return reg
}
