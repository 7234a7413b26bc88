package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Document lifecycle statuses.
const (
	DocumentStatusNew       = "new"
	DocumentStatusAnalyzed  = "analyzed"
	DocumentStatusAnnotated = "annotated"
)

// Date confidence levels a date-detection pass may assign.
const (
	DateConfidenceExact  = "exact"
	DateConfidenceHigh   = "high"
	DateConfidenceMedium = "medium"
	DateConfidenceLow    = "low"
)

// Document is the canonical record for one distinct (source, URL) subject,
// identified independently of its content so that new content replaces the
// old as a new DocumentVersion rather than a new Document.
type Document struct {
	ID              string
	SourceID        string
	Title           *string
	SourceURL       string
	ExtractedText   *string
	Status          string
	Metadata        json.RawMessage
	EstimatedDate   *time.Time
	DateConfidence  *string
	DateSource      *string
	ManualDate      *time.Time
	DiscoveryMethod string
	CategoryID      *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DocumentID computes the deterministic id for a (sourceID, canonicalURL)
// pair (spec.md §4.4's Document identity rule): the same URL under the
// same source always maps to the same Document across runs, even as its
// content changes across versions.
func DocumentID(sourceID, canonicalURL string) string {
	sum := sha256.Sum256([]byte(sourceID + "|" + canonicalURL))
	return hex.EncodeToString(sum[:])[:32]
}

// GetOrCreateDocument returns the Document for (sourceID, canonicalURL),
// creating it in status "new" if it doesn't exist yet.
func (db *DB) GetOrCreateDocument(ctx context.Context, sourceID, canonicalURL, discoveryMethod string) (*Document, error) {
	id := DocumentID(sourceID, canonicalURL)

	const insertQ = `
		INSERT INTO documents (id, source_id, source_url, status, discovery_method)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := db.Pool.Exec(ctx, insertQ, id, sourceID, canonicalURL, DocumentStatusNew, discoveryMethod); err != nil {
		return nil, fmt.Errorf("get or create document: %w", err)
	}

	return db.GetDocument(ctx, id)
}

// GetDocument looks up a Document by id.
func (db *DB) GetDocument(ctx context.Context, id string) (*Document, error) {
	const q = `
		SELECT id, source_id, title, source_url, extracted_text, status, metadata,
		       estimated_date, date_confidence, date_source, manual_date,
		       discovery_method, category_id, created_at, updated_at
		FROM documents WHERE id = $1
	`

	var d Document

	row := db.Pool.QueryRow(ctx, q, id)
	if err := row.Scan(
		&d.ID, &d.SourceID, &d.Title, &d.SourceURL, &d.ExtractedText, &d.Status, &d.Metadata,
		&d.EstimatedDate, &d.DateConfidence, &d.DateSource, &d.ManualDate,
		&d.DiscoveryMethod, &d.CategoryID, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get document %s: %w", id, ErrClaimConflict)
		}

		return nil, fmt.Errorf("get document: %w", err)
	}

	return &d, nil
}

// TouchDocument bumps updated_at and sets extracted_text, called whenever
// a new DocumentVersion supersedes the previous one.
func (db *DB) TouchDocument(ctx context.Context, id string, extractedText *string) error {
	const q = `UPDATE documents SET updated_at = now(), extracted_text = COALESCE($2, extracted_text) WHERE id = $1`

	if _, err := db.Pool.Exec(ctx, q, id, extractedText); err != nil {
		return fmt.Errorf("touch document: %w", err)
	}

	return nil
}

// SetDocumentDate records a date-detection result.
func (db *DB) SetDocumentDate(ctx context.Context, id string, estimated time.Time, confidence, source string) error {
	const q = `
		UPDATE documents
		SET estimated_date = $2, date_confidence = $3, date_source = $4, updated_at = now()
		WHERE id = $1
	`

	if _, err := db.Pool.Exec(ctx, q, id, estimated, confidence, source); err != nil {
		return fmt.Errorf("set document date: %w", err)
	}

	return nil
}

// DocumentsDueForRefresh returns Document ids whose updated_at is older
// than ttl, the set a `refresh` operation re-queues (spec.md §4.4).
func (db *DB) DocumentsDueForRefresh(ctx context.Context, sourceID string, ttl time.Duration, limit int) ([]string, error) {
	const q = `
		SELECT id FROM documents
		WHERE source_id = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	cutoff := time.Now().UTC().Add(-ttl)

	rows, err := db.Pool.Query(ctx, q, sourceID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("documents due for refresh: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("documents due for refresh: scan: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// DocumentVersion is one distinct content observation for a Document.
type DocumentVersion struct {
	ID                string
	DocumentID        string
	ContentHash       string
	ContentHashBlake3 string
	FilePath          string
	FileSize          int64
	MimeType          string
	AcquiredAt        time.Time
	SourceURL         string
	OriginalFilename  *string
	ServerDate        *time.Time
	PageCount         *int
}

// LatestVersionContentHash returns the content_hash of a Document's most
// recently acquired DocumentVersion, or "" if it has none yet — the
// Crawl Engine compares a freshly fetched hash against this to decide
// between inserting a new version and recording not_modified.
func (db *DB) LatestVersionContentHash(ctx context.Context, documentID string) (string, error) {
	const q = `
		SELECT content_hash FROM document_versions
		WHERE document_id = $1
		ORDER BY acquired_at DESC
		LIMIT 1
	`

	var hash string

	err := db.Pool.QueryRow(ctx, q, documentID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("latest version content hash: %w", err)
	}

	return hash, nil
}

// LatestVersion returns a Document's most recently acquired DocumentVersion,
// used by the Annotator to find the version whose pages hold the text to
// summarize and tag.
func (db *DB) LatestVersion(ctx context.Context, documentID string) (*DocumentVersion, error) {
	const q = `
		SELECT id, document_id, content_hash, content_hash_blake3, file_path, file_size,
		       mime_type, acquired_at, source_url, original_filename, server_date, page_count
		FROM document_versions
		WHERE document_id = $1
		ORDER BY acquired_at DESC
		LIMIT 1
	`

	var v DocumentVersion

	err := db.Pool.QueryRow(ctx, q, documentID).Scan(
		&v.ID, &v.DocumentID, &v.ContentHash, &v.ContentHashBlake3, &v.FilePath, &v.FileSize,
		&v.MimeType, &v.AcquiredAt, &v.SourceURL, &v.OriginalFilename, &v.ServerDate, &v.PageCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}

	return &v, nil
}

// InsertDocumentVersion records a newly observed content version.
func (db *DB) InsertDocumentVersion(ctx context.Context, v DocumentVersion) (string, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	const q = `
		INSERT INTO document_versions (
			id, document_id, content_hash, content_hash_blake3, file_path, file_size,
			mime_type, source_url, original_filename, server_date, page_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := db.Pool.Exec(ctx, q,
		v.ID, v.DocumentID, v.ContentHash, v.ContentHashBlake3, v.FilePath, v.FileSize,
		v.MimeType, v.SourceURL, v.OriginalFilename, v.ServerDate, v.PageCount,
	)
	if err != nil {
		return "", fmt.Errorf("insert document version: %w", err)
	}

	return v.ID, nil
}

// DocumentPage is one exploded page of a paginated DocumentVersion (PDF,
// TIFF), carrying independently OCR'd text.
type DocumentPage struct {
	ID         string
	DocumentID string
	VersionID  string
	PageNumber int
	PDFText    *string
	OCRText    *string
	FinalText  *string
	OCRStatus  string
}

// OCR statuses for DocumentPage (spec.md §3's pending/in_progress/
// complete/failed/skipped taxonomy).
const (
	OCRStatusPending    = "pending"
	OCRStatusInProgress = "in_progress"
	OCRStatusComplete   = "complete"
	OCRStatusFailed     = "failed"
	OCRStatusSkipped    = "skipped"
)

// InsertDocumentPages explodes a version into pageCount DocumentPage rows,
// each starting in ocr_status=pending (spec.md §4.6's page extraction).
func (db *DB) InsertDocumentPages(ctx context.Context, documentID, versionID string, pageCount int) ([]string, error) {
	ids := make([]string, 0, pageCount)

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("insert document pages: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
		INSERT INTO document_pages (id, document_id, version_id, page_number, ocr_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id, version_id, page_number) DO NOTHING
	`

	for page := 1; page <= pageCount; page++ {
		id := uuid.NewString()

		if _, err := tx.Exec(ctx, q, id, documentID, versionID, page, OCRStatusPending); err != nil {
			return nil, fmt.Errorf("insert document pages: page %d: %w", page, err)
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("insert document pages: commit: %w", err)
	}

	return ids, nil
}

// DocumentPages returns every page for a version, ordered by page_number.
func (db *DB) DocumentPages(ctx context.Context, versionID string) ([]DocumentPage, error) {
	const q = `
		SELECT id, document_id, version_id, page_number, pdf_text, ocr_text, final_text, ocr_status
		FROM document_pages
		WHERE version_id = $1
		ORDER BY page_number ASC
	`

	rows, err := db.Pool.Query(ctx, q, versionID)
	if err != nil {
		return nil, fmt.Errorf("document pages: %w", err)
	}
	defer rows.Close()

	var pages []DocumentPage

	for rows.Next() {
		var p DocumentPage
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.VersionID, &p.PageNumber, &p.PDFText, &p.OCRText, &p.FinalText, &p.OCRStatus); err != nil {
			return nil, fmt.Errorf("document pages: scan: %w", err)
		}

		pages = append(pages, p)
	}

	return pages, rows.Err()
}

// SetPageText updates one extracted-text field on a page (pdf_text,
// ocr_text, or final_text, selected by column) and its ocr_status.
func (db *DB) SetPageText(ctx context.Context, pageID, column, text, status string) error {
	var q string

	switch column {
	case "pdf_text":
		q = `UPDATE document_pages SET pdf_text = $2, ocr_status = $3 WHERE id = $1`
	case "ocr_text":
		q = `UPDATE document_pages SET ocr_text = $2, ocr_status = $3 WHERE id = $1`
	case "final_text":
		q = `UPDATE document_pages SET final_text = $2, ocr_status = $3 WHERE id = $1`
	default:
		return fmt.Errorf("set page text: unknown column %q", column)
	}

	if _, err := db.Pool.Exec(ctx, q, pageID, text, status); err != nil {
		return fmt.Errorf("set page text: %w", err)
	}

	return nil
}

// SetPageStatus updates a page's ocr_status alone, for transitions that
// don't carry new text (pending -> in_progress when a pass picks the page
// up, or pending -> skipped when no backend can handle its MIME type).
func (db *DB) SetPageStatus(ctx context.Context, pageID, status string) error {
	const q = `UPDATE document_pages SET ocr_status = $2 WHERE id = $1`

	if _, err := db.Pool.Exec(ctx, q, pageID, status); err != nil {
		return fmt.Errorf("set page status: %w", err)
	}

	return nil
}
