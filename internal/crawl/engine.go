// Package crawl implements the Crawl Engine: the state machine driving
// CrawlUrl rows through discovered -> fetching -> fetched/failed/
// not_modified/skipped, producing Document and DocumentVersion rows on
// every fresh fetch.
package crawl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lueurxax/foia-acquired/internal/contentstore"
	"github.com/lueurxax/foia-acquired/internal/fetch"
	"github.com/lueurxax/foia-acquired/internal/platform/observability"
	"github.com/lueurxax/foia-acquired/internal/storage"
)

// DefaultMaxRetries is the number of transient failures a CrawlUrl
// tolerates before it moves to permanent failed (spec.md §4.4).
const DefaultMaxRetries = 5

// DefaultStaleClaimThreshold is how long a row may sit in fetching before
// the stale-claim sweep reclaims it back to discovered.
const DefaultStaleClaimThreshold = 15 * time.Minute

// DefaultConcurrency bounds how many claimed URLs ProcessBatch fetches at
// once (spec.md §5's bounded-concurrency model).
const DefaultConcurrency = 4

// VersionHook is notified whenever handleFresh inserts a new
// DocumentVersion, letting the Analysis Pipeline explode pages off a
// version without the Crawl Engine importing the analysis package
// directly (spec.md §4.6's page extraction is the pipeline's job, not
// this engine's — see handleFresh).
type VersionHook interface {
	HandleNewVersion(ctx context.Context, v storage.DocumentVersion)
}

// Engine drives the crawl state machine for one process.
type Engine struct {
	db          *storage.DB
	fetcher     *fetch.Fetcher
	store       *contentstore.Store
	logger      *zerolog.Logger
	maxRetries  int
	concurrency int
	versionHook VersionHook
}

// New builds an Engine.
func New(db *storage.DB, fetcher *fetch.Fetcher, store *contentstore.Store, logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Engine{db: db, fetcher: fetcher, store: store, logger: logger, maxRetries: DefaultMaxRetries, concurrency: DefaultConcurrency}
}

// SetVersionHook registers a callback invoked synchronously after each new
// DocumentVersion is committed, used to wire in the Analysis Pipeline's
// page-extraction step from outside this package.
func (e *Engine) SetVersionHook(hook VersionHook) {
	e.versionHook = hook
}

// SetConcurrency overrides how many claimed URLs ProcessBatch fetches in
// parallel. Values <= 0 are ignored.
func (e *Engine) SetConcurrency(n int) {
	if n > 0 {
		e.concurrency = n
	}
}

// Enqueue inserts a crawl_urls row in the discovered state if one for this
// (source, url) doesn't already exist.
func (e *Engine) Enqueue(ctx context.Context, sourceID, rawURL, discoveryMethod, parentURL string, depth int) error {
	canonical, ok := CanonicalizeURL(rawURL)
	if !ok {
		return nil
	}

	if _, err := e.db.EnqueueURL(ctx, sourceID, canonical, discoveryMethod, parentURL, depth); err != nil {
		return fmt.Errorf("crawl engine: enqueue: %w", err)
	}

	return nil
}

// ProcessBatch claims up to batchSize CrawlUrl rows for sourceID and
// drives each through a fetch attempt and its resulting state transition.
// Returns the number of rows processed.
func (e *Engine) ProcessBatch(ctx context.Context, sourceID string, batchSize int) (int, error) {
	claimed, err := e.db.ClaimURLs(ctx, sourceID, batchSize)
	if err != nil {
		return 0, fmt.Errorf("crawl engine: claim urls: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.concurrency)

	for _, u := range claimed {
		u := u

		group.Go(func() error {
			e.processOne(groupCtx, u)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return 0, err
	}

	return len(claimed), nil
}

// SweepStaleClaims reclaims rows stuck in fetching past threshold back to
// discovered — a periodic task meant to be registered with the Worker
// Coordinator (spec.md §4.4's recovery sweep).
func (e *Engine) SweepStaleClaims(ctx context.Context, threshold time.Duration) {
	if threshold <= 0 {
		threshold = DefaultStaleClaimThreshold
	}

	n, err := e.db.ReclaimStaleClaims(ctx, threshold)
	if err != nil {
		e.logger.Warn().Err(err).Msg("stale claim sweep failed")
		return
	}

	if n > 0 {
		observability.CrawlClaimsReclaimed.Add(float64(n))
		e.logger.Info().Int("count", n).Msg("reclaimed stale crawl claims")
	}
}

func (e *Engine) processOne(ctx context.Context, u storage.CrawlURL) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("url", u.URL).Msg("recovered from panic processing crawl url")
			_ = e.db.MarkFailed(ctx, u.ID, fmt.Sprintf("panic: %v", r), e.maxRetries)
		}
	}()

	cursor := fetch.Cursor{}
	if u.ETag != nil {
		cursor.ETag = *u.ETag
	}

	if u.LastModified != nil {
		cursor.LastModified = *u.LastModified
	}

	outcome := e.fetcher.Fetch(ctx, u.SourceID, u.URL, cursor, false)

	switch outcome.Kind {
	case fetch.OutcomeFresh:
		e.handleFresh(ctx, u, outcome)
	case fetch.OutcomeNotModified:
		if err := e.db.MarkFetched(ctx, u.ID, storage.CrawlStatusNotModified, outcome.ETag, outcome.LastModified, "", ""); err != nil {
			e.logger.Warn().Err(err).Str("url", u.URL).Msg("failed to record not_modified")
		}

		_ = e.db.TouchSourceLastScraped(ctx, u.SourceID)
	case fetch.OutcomeHTTPError:
		e.handleHTTPError(ctx, u, outcome)
	case fetch.OutcomeTransportError:
		errMsg := "transport error"
		if outcome.Err != nil {
			errMsg = outcome.Err.Error()
		}

		if err := e.db.MarkFailed(ctx, u.ID, errMsg, e.maxRetries); err != nil {
			e.logger.Warn().Err(err).Str("url", u.URL).Msg("failed to record transport error")
		}
	}
}

// handleHTTPError implements spec.md §4.4's split: 4xx is permanent (no
// retry scheduled — maxRetries passed as already-exhausted), 5xx follows
// the normal retry/backoff schedule.
func (e *Engine) handleHTTPError(ctx context.Context, u storage.CrawlURL, outcome fetch.Outcome) {
	errMsg := fmt.Sprintf("http %d", outcome.StatusCode)

	if outcome.StatusCode >= 400 && outcome.StatusCode < 500 {
		if err := e.db.MarkFailed(ctx, u.ID, errMsg, -1); err != nil {
			e.logger.Warn().Err(err).Str("url", u.URL).Msg("failed to record permanent http error")
		}

		return
	}

	if err := e.db.MarkFailed(ctx, u.ID, errMsg, e.maxRetries); err != nil {
		e.logger.Warn().Err(err).Str("url", u.URL).Msg("failed to record http error")
	}
}

func (e *Engine) handleFresh(ctx context.Context, u storage.CrawlURL, outcome fetch.Outcome) {
	sum := sha256.Sum256(outcome.Body)
	contentHash := hex.EncodeToString(sum[:])

	doc, err := e.db.GetOrCreateDocument(ctx, u.SourceID, u.URL, u.DiscoveryMethod)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", u.URL).Msg("failed to resolve document")
		_ = e.db.MarkFailed(ctx, u.ID, "document resolution failed: "+err.Error(), e.maxRetries)

		return
	}

	latestHash, err := e.db.LatestVersionContentHash(ctx, doc.ID)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", u.URL).Msg("failed to load latest version hash")
	}

	if latestHash != "" && latestHash == contentHash {
		if err := e.db.MarkFetched(ctx, u.ID, storage.CrawlStatusNotModified, outcome.ETag, outcome.LastModified, contentHash, doc.ID); err != nil {
			e.logger.Warn().Err(err).Str("url", u.URL).Msg("failed to record content-hash not_modified")
		}

		_ = e.db.TouchSourceLastScraped(ctx, u.SourceID)

		return
	}

	placement, err := e.store.Put(ctx, outcome.Body)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", u.URL).Msg("failed to write content store blob")
		_ = e.db.MarkFailed(ctx, u.ID, "content store write failed: "+err.Error(), e.maxRetries)

		return
	}

	originalFilename := filenameFromURL(u.URL)

	versionID, err := e.db.InsertDocumentVersion(ctx, storage.DocumentVersion{
		DocumentID:        doc.ID,
		ContentHash:       placement.SHA256,
		ContentHashBlake3: placement.BLAKE3,
		FilePath:          placement.RelativePath,
		FileSize:          placement.Size,
		MimeType:          placement.MimeType,
		SourceURL:         u.URL,
		OriginalFilename:  originalFilename,
		ServerDate:        outcome.ServerDate,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("url", u.URL).Msg("failed to insert document version")
		_ = e.db.MarkFailed(ctx, u.ID, "document version insert failed: "+err.Error(), e.maxRetries)

		return
	}

	observability.DocumentVersionsCreated.WithLabelValues(paginatedLabel(placement.MimeType)).Inc()

	// Page extraction for paginated MIME types (PDF, TIFF) is the Analysis
	// Pipeline's job (spec.md §4.6), triggered here via the optional hook
	// rather than performed inline, keeping this package free of an
	// analysis-package import.
	if e.versionHook != nil {
		e.versionHook.HandleNewVersion(ctx, storage.DocumentVersion{
			ID:                versionID,
			DocumentID:        doc.ID,
			ContentHash:       placement.SHA256,
			ContentHashBlake3: placement.BLAKE3,
			FilePath:          placement.RelativePath,
			FileSize:          placement.Size,
			MimeType:          placement.MimeType,
			SourceURL:         u.URL,
			OriginalFilename:  originalFilename,
			ServerDate:        outcome.ServerDate,
		})
	}

	if err := e.db.TouchDocument(ctx, doc.ID, nil); err != nil {
		e.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("failed to touch document")
	}

	if err := e.db.MarkFetched(ctx, u.ID, storage.CrawlStatusFetched, outcome.ETag, outcome.LastModified, placement.SHA256, doc.ID); err != nil {
		e.logger.Warn().Err(err).Str("url", u.URL).Msg("failed to mark fetched")
	}

	_ = e.db.TouchSourceLastScraped(ctx, u.SourceID)
}

func paginatedLabel(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "pdf"):
		return "pdf"
	case strings.Contains(mimeType, "tiff"):
		return "tiff"
	default:
		return "other"
	}
}

func filenameFromURL(rawURL string) *string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}

	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return nil
	}

	return &name
}

// CanonicalizeURL normalizes a URL for queue/document identity purposes:
// lowercases scheme and host, strips a trailing slash and URL fragment.
// Returns ok=false for unsupported schemes.
func CanonicalizeURL(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), true
}
