package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"github.com/otiai10/gosseract/v2"
	"github.com/sashabaranov/go-openai"
)

const mimePDF = "application/pdf"

// NativePDFBackend extracts text structurally from born-digital PDFs via
// ledongthuc/pdf, without rasterizing or OCR-ing anything. It produces no
// output (and a non-nil error) for scanned/image-only PDFs, which have no
// extractable text layer. No other registered backend accepts
// application/pdf, so such pages end up with ocr_status failed.
type NativePDFBackend struct{}

// Name implements Backend.
func (NativePDFBackend) Name() string { return BackendNativePDF }

// Supports implements Backend.
func (NativePDFBackend) Supports(mimeType string) bool { return mimeType == mimePDF }

// Process implements Backend. When in.PageNumber is 0 it concatenates
// every page's text; otherwise it extracts just that one page.
func (NativePDFBackend) Process(_ context.Context, in Input) (Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(in.Bytes), int64(len(in.Bytes)))
	if err != nil {
		return Result{}, fmt.Errorf("native pdf: open reader: %w", err)
	}

	if in.PageNumber > 0 {
		text, err := extractPDFPage(reader, in.PageNumber)
		if err != nil {
			return Result{}, err
		}

		return Result{Text: text, Confidence: 1.0}, nil
	}

	var sb strings.Builder

	for i := 1; i <= reader.NumPage(); i++ {
		text, err := extractPDFPage(reader, i)
		if err != nil {
			continue
		}

		sb.WriteString(text)
		sb.WriteString("\n")
	}

	if sb.Len() == 0 {
		return Result{}, fmt.Errorf("native pdf: no extractable text")
	}

	return Result{Text: sb.String(), Confidence: 1.0}, nil
}

// NativePDFPageCount returns the page count of a PDF read from r.
func NativePDFPageCount(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("native pdf: read: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("native pdf: open reader: %w", err)
	}

	return reader.NumPage(), nil
}

func extractPDFPage(reader *pdf.Reader, pageNumber int) (string, error) {
	page := reader.Page(pageNumber)
	if page.V.IsNull() {
		return "", fmt.Errorf("native pdf: page %d is empty", pageNumber)
	}

	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("native pdf: page %d: %w", pageNumber, err)
	}

	return text, nil
}

// ReadabilityBackend extracts the main body text from HTML source
// documents using go-shiori/go-readability's boilerplate-stripping
// heuristics — a whole-document (page-less) backend.
type ReadabilityBackend struct{}

// Name implements Backend.
func (ReadabilityBackend) Name() string { return BackendReadability }

// Supports implements Backend.
func (ReadabilityBackend) Supports(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/html")
}

// Process implements Backend.
func (ReadabilityBackend) Process(_ context.Context, in Input) (Result, error) {
	article, err := readability.FromReader(bytes.NewReader(in.Bytes), &url.URL{})
	if err != nil {
		return Result{}, fmt.Errorf("readability: %w", err)
	}

	if strings.TrimSpace(article.TextContent) == "" {
		return Result{}, fmt.Errorf("readability: empty extraction")
	}

	return Result{Text: article.TextContent, Confidence: 0.9}, nil
}

// ClassicalOCRBackend runs Tesseract (via otiai10/gosseract) over page
// image bytes. It is the default OCR backend for scanned documents.
type ClassicalOCRBackend struct {
	Languages []string
}

// Name implements Backend.
func (ClassicalOCRBackend) Name() string { return BackendClassicalOCR }

// Supports implements Backend. Classical OCR runs on images, so it accepts
// image/* types only; the pipeline does not rasterize PDFs, so PDF pages
// never reach it.
func (ClassicalOCRBackend) Supports(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// Process implements Backend.
func (b ClassicalOCRBackend) Process(_ context.Context, in Input) (Result, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(b.Languages) > 0 {
		if err := client.SetLanguage(b.Languages...); err != nil {
			return Result{}, fmt.Errorf("classical ocr: set language: %w", err)
		}
	}

	if err := client.SetImageFromBytes(in.Bytes); err != nil {
		return Result{}, fmt.Errorf("classical ocr: set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return Result{}, fmt.Errorf("classical ocr: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("classical ocr: empty result")
	}

	return Result{Text: text, Confidence: 0.7}, nil
}

// VisionOCRBackend delegates page images to an OpenAI-compatible vision
// endpoint, used as a higher-accuracy fallback for degraded scans the
// classical backend garbles.
type VisionOCRBackend struct {
	Client *openai.Client
	Model  string
}

// Name implements Backend.
func (VisionOCRBackend) Name() string { return BackendVisionOCR }

// Supports implements Backend.
func (VisionOCRBackend) Supports(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

const visionOCRPrompt = "Transcribe all text visible in this scanned document image verbatim. Output only the transcribed text."

// Process implements Backend.
func (b VisionOCRBackend) Process(ctx context.Context, in Input) (Result, error) {
	model := b.Model
	if model == "" {
		model = openai.GPT4o
	}

	dataURL := "data:" + in.MimeType + ";base64," + base64.StdEncoding.EncodeToString(in.Bytes)

	resp, err := b.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: visionOCRPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("vision ocr: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("vision ocr: empty response")
	}

	return Result{Text: resp.Choices[0].Message.Content, Confidence: 0.85}, nil
}

// NeuralOCRBackend posts page images to a configured neural-OCR HTTP
// endpoint and parses a {"text": "...", "confidence": 0.0} JSON response.
// No Go SDK for any specific neural OCR engine appears in the retrieval
// pack, so this is a thin bespoke HTTP client rather than a vendored one —
// the same shape the teacher uses for its own bespoke REST collaborators.
type NeuralOCRBackend struct {
	Endpoint string
	Client   *http.Client
}

// Name implements Backend.
func (NeuralOCRBackend) Name() string { return BackendNeuralOCR }

// Supports implements Backend.
func (NeuralOCRBackend) Supports(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

type neuralOCRResponse struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
}

// Process implements Backend.
func (b NeuralOCRBackend) Process(ctx context.Context, in Input) (Result, error) {
	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(in.Bytes))
	if err != nil {
		return Result{}, fmt.Errorf("neural ocr: build request: %w", err)
	}

	req.Header.Set("Content-Type", in.MimeType)

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("neural ocr: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("neural ocr: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("neural ocr: read response: %w", err)
	}

	var parsed neuralOCRResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("neural ocr: parse response: %w", err)
	}

	if strings.TrimSpace(parsed.Text) == "" {
		return Result{}, fmt.Errorf("neural ocr: empty result")
	}

	return Result{Text: parsed.Text, Confidence: parsed.Confidence}, nil
}
