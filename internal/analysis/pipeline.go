package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/lueurxax/foia-acquired/internal/core/errors"
	"github.com/lueurxax/foia-acquired/internal/contentstore"
	"github.com/lueurxax/foia-acquired/internal/storage"
)

// DefaultPageConcurrency bounds how many pages of one version ProcessVersion
// runs backends over at once (spec.md §5's bounded-concurrency model).
const DefaultPageConcurrency = 4

// paginatedMimeTypes are MIME types the pipeline explodes into per-page
// DocumentPage rows (spec.md §4.6's page extraction); versions of every
// other MIME type get no page rows, and the pipeline runs no backend over
// them.
var paginatedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/tiff":      true,
}

// Pipeline drives the Analysis Pipeline: page extraction, backend
// dispatch under the claim protocol, and per-page text finalization.
type Pipeline struct {
	db       *storage.DB
	store    *contentstore.Store
	registry *Registry
	logger   *zerolog.Logger
}

// New builds a Pipeline.
func New(db *storage.DB, store *contentstore.Store, registry *Registry, logger *zerolog.Logger) *Pipeline {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Pipeline{db: db, store: store, registry: registry, logger: logger}
}

// ExplodeVersion inserts DocumentPage rows for a freshly acquired
// DocumentVersion if its MIME type is paginated, returning the page count
// (0 for non-paginated types, which get no pages and are not analyzed by
// the pipeline).
func (p *Pipeline) ExplodeVersion(ctx context.Context, v storage.DocumentVersion) (int, error) {
	if !paginatedMimeTypes[v.MimeType] {
		return 0, nil
	}

	pageCount := 1
	if v.PageCount != nil && *v.PageCount > 0 {
		pageCount = *v.PageCount
	} else if v.MimeType == "application/pdf" {
		count, err := countPDFPages(p.store, v.FilePath)
		if err != nil {
			return 0, fmt.Errorf("explode version %s: %w", v.ID, err)
		}

		pageCount = count
	}

	if _, err := p.db.InsertDocumentPages(ctx, v.DocumentID, v.ID, pageCount); err != nil {
		return 0, fmt.Errorf("explode version %s: %w", v.ID, err)
	}

	return pageCount, nil
}

func countPDFPages(store *contentstore.Store, relativePath string) (int, error) {
	f, err := store.Open(relativePath)
	if err != nil {
		return 0, fmt.Errorf("count pdf pages: open: %w", err)
	}
	defer f.Close()

	n, err := NativePDFPageCount(f)
	if err != nil {
		return 1, nil // unknown page count treated as a single page, best effort
	}

	return n, nil
}

// ProcessPage runs every backend supporting mimeType against one page's
// bytes, claiming each (page, analysis_type, backend) triple before
// attempting it so concurrent workers never duplicate work (spec.md
// §4.6's claim protocol, §3 invariant 5).
func (p *Pipeline) ProcessPage(ctx context.Context, page storage.DocumentPage, pageBytes []byte, mimeType string) error {
	analysisType := TypeOCR
	if mimeType == "application/pdf" {
		analysisType = TypeTextExtract
	}

	names := p.registry.Names(mimeType)
	if len(names) == 0 {
		if err := p.db.SetPageStatus(ctx, page.ID, storage.OCRStatusSkipped); err != nil {
			return fmt.Errorf("process page %s: %w", page.ID, err)
		}

		return nil
	}

	if err := p.db.SetPageStatus(ctx, page.ID, storage.OCRStatusInProgress); err != nil {
		return fmt.Errorf("process page %s: %w", page.ID, err)
	}

	anySucceeded := false

	for _, name := range names {
		backend, ok := p.registry.Get(name)
		if !ok {
			continue
		}

		claimID, err := p.db.ClaimPageAnalysis(ctx, page.ID, analysisType, name)
		if errors.Is(err, appErrors.ErrAlreadyClaimed) {
			continue
		}

		if err != nil {
			return fmt.Errorf("process page %s: %w", page.ID, err)
		}

		start := time.Now()

		result, procErr := backend.Process(ctx, Input{Bytes: pageBytes, MimeType: mimeType, PageNumber: page.PageNumber})

		elapsed := time.Since(start).Milliseconds()

		var text *string
		var confidence *float32

		if procErr == nil {
			text = &result.Text
			confidence = &result.Confidence
			anySucceeded = true
		}

		if err := p.db.CompleteAnalysisResult(ctx, claimID, text, confidence, elapsed, procErr); err != nil {
			return fmt.Errorf("process page %s: complete %s: %w", page.ID, name, err)
		}
	}

	if !anySucceeded {
		_ = p.db.SetPageText(ctx, page.ID, "ocr_text", "", storage.OCRStatusFailed)
		return nil
	}

	return p.Finalize(ctx, page.ID)
}

// Finalize picks final_text for one page by ranking every completed
// AnalysisResult for it via qualityScore, and writes the winner's text
// (spec.md §4.6's "per page, final_text is chosen by a quality score").
func (p *Pipeline) Finalize(ctx context.Context, pageID string) error {
	results, err := p.db.PageAnalysisResults(ctx, pageID)
	if err != nil {
		return fmt.Errorf("finalize page %s: %w", pageID, err)
	}

	var best *storage.AnalysisResult
	bestScore := -1.0

	for i := range results {
		r := &results[i]
		if r.ResultText == nil {
			continue
		}

		score := qualityScore(*r.ResultText)
		if score > bestScore {
			bestScore = score
			best = r
		}
	}

	if best == nil {
		return p.db.SetPageText(ctx, pageID, "final_text", "", storage.OCRStatusFailed)
	}

	column := "ocr_text"
	if best.AnalysisType == TypeTextExtract {
		column = "pdf_text"
	}

	if err := p.db.SetPageText(ctx, pageID, column, *best.ResultText, storage.OCRStatusComplete); err != nil {
		return fmt.Errorf("finalize page %s: %w", pageID, err)
	}

	return p.db.SetPageText(ctx, pageID, "final_text", *best.ResultText, storage.OCRStatusComplete)
}

// qualityScore combines length, whitespace ratio, and dictionary-word
// ratio into a single comparable score — a simplified, dependency-free
// stand-in for a real lexicon lookup, since no English-wordlist package
// appears anywhere in the retrieval pack.
func qualityScore(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	runes := []rune(text)
	total := len(runes)

	var whitespace, alpha int

	for _, r := range runes {
		switch {
		case unicode.IsSpace(r):
			whitespace++
		case unicode.IsLetter(r):
			alpha++
		}
	}

	whitespaceRatio := float64(whitespace) / float64(total)
	alphaRatio := float64(alpha) / float64(total)

	lengthScore := float64(total)
	if lengthScore > 5000 {
		lengthScore = 5000
	}

	// Penalize extremes of whitespace ratio (OCR garbage tends toward
	// very low or very high whitespace) and reward a high letter ratio.
	whitespacePenalty := 1.0
	if whitespaceRatio < 0.05 || whitespaceRatio > 0.5 {
		whitespacePenalty = 0.5
	}

	return lengthScore * whitespacePenalty * (0.5 + alphaRatio)
}

// HandleNewVersion implements crawl.VersionHook: it explodes the version
// into DocumentPage rows if its MIME type is paginated. Actual backend
// dispatch runs later, driven by the Analysis worker loop rather than
// synchronously on the crawl path, so a slow OCR backend never blocks
// fetching.
func (p *Pipeline) HandleNewVersion(ctx context.Context, v storage.DocumentVersion) {
	if _, err := p.ExplodeVersion(ctx, v); err != nil {
		p.logger.Warn().Err(err).Str("version_id", v.ID).Msg("failed to explode document version into pages")
	}
}

// ProcessVersion processes up to limit pending pages of versionID,
// reading the version's full stored bytes once and handing each page the
// same bytes plus its page number — sufficient for backends like
// NativePDFBackend that slice a page out of the whole document
// themselves. Backends that require a rasterized per-page image (the OCR
// family) simply decline via Supports("application/pdf") == false; no
// page-image rasterizer exists anywhere in the retrieval pack, so
// plugging one in is left as a follow-up rather than invented here.
func (p *Pipeline) ProcessVersion(ctx context.Context, versionID string, limit int) (int, error) {
	version, err := p.db.DocumentVersionByID(ctx, versionID)
	if err != nil {
		return 0, fmt.Errorf("process version %s: %w", versionID, err)
	}

	pages, err := p.db.PendingOCRPages(ctx, versionID, limit)
	if err != nil {
		return 0, fmt.Errorf("process version %s: %w", versionID, err)
	}

	if len(pages) == 0 {
		return 0, nil
	}

	f, err := p.store.Open(version.FilePath)
	if err != nil {
		return 0, fmt.Errorf("process version %s: open blob: %w", versionID, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return 0, fmt.Errorf("process version %s: read blob: %w", versionID, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(DefaultPageConcurrency)

	for _, page := range pages {
		page := page

		group.Go(func() error {
			if err := p.ProcessPage(groupCtx, page, data, version.MimeType); err != nil {
				p.logger.Warn().Err(err).Str("page_id", page.ID).Msg("failed to process page")
			}

			return nil
		})
	}

	_ = group.Wait()

	return len(pages), nil
}

// Compare runs every backend supporting mimeType against bytes and returns
// their raw results without writing anything to the page's canonical
// text columns (spec.md §4.6's non-destructive "compare mode").
func (p *Pipeline) Compare(ctx context.Context, in Input) map[string]Result {
	return p.registry.Run(ctx, in)
}
