package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	appErrors "github.com/lueurxax/foia-acquired/internal/core/errors"
)

// AnalysisResult statuses.
const (
	AnalysisStatusInProgress = "in_progress"
	AnalysisStatusComplete   = "complete"
	AnalysisStatusFailed     = "failed"
)

// AnalysisResult is one backend's attempt at extracting text from a page
// or, for page-less documents, a whole document version.
type AnalysisResult struct {
	ID               string
	PageID           *string
	DocumentID       *string
	VersionID        *string
	AnalysisType     string
	Backend          string
	ResultText       *string
	Confidence       *float32
	ProcessingTimeMS *int64
	Error            *string
	Status           string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// ClaimPageAnalysis inserts an in_progress placeholder row for
// (pageID, analysisType, backend), claiming the work. The unique index
// on (page_id, analysis_type, backend) enforces at-most-once: a second
// claimant's insert is rejected and this returns appErrors.ErrAlreadyClaimed
// (spec.md §4.6's claim protocol, §3 invariant 5).
func (db *DB) ClaimPageAnalysis(ctx context.Context, pageID, analysisType, backend string) (string, error) {
	id := uuid.NewString()

	const q = `
		INSERT INTO analysis_results (id, page_id, analysis_type, backend, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (page_id, analysis_type, backend) WHERE page_id IS NOT NULL DO NOTHING
		RETURNING id
	`

	var returnedID string

	err := db.Pool.QueryRow(ctx, q, id, pageID, analysisType, backend, AnalysisStatusInProgress).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("claim page analysis %s/%s/%s: %w", pageID, analysisType, backend, appErrors.ErrAlreadyClaimed)
	}

	if err != nil {
		return "", fmt.Errorf("claim page analysis: %w", err)
	}

	return returnedID, nil
}

// ClaimDocumentAnalysis is ClaimPageAnalysis's page-less counterpart, used
// for whole-document backends (e.g. readability over born-digital HTML).
func (db *DB) ClaimDocumentAnalysis(ctx context.Context, documentID, versionID, analysisType, backend string) (string, error) {
	id := uuid.NewString()

	const q = `
		INSERT INTO analysis_results (id, document_id, version_id, analysis_type, backend, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id, version_id, analysis_type, backend) WHERE page_id IS NULL DO NOTHING
		RETURNING id
	`

	var returnedID string

	err := db.Pool.QueryRow(ctx, q, id, documentID, versionID, analysisType, backend, AnalysisStatusInProgress).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("claim document analysis %s/%s/%s: %w", documentID, analysisType, backend, appErrors.ErrAlreadyClaimed)
	}

	if err != nil {
		return "", fmt.Errorf("claim document analysis: %w", err)
	}

	return returnedID, nil
}

// CompleteAnalysisResult records a backend's outcome onto a previously
// claimed row.
func (db *DB) CompleteAnalysisResult(ctx context.Context, id string, resultText *string, confidence *float32, processingTimeMS int64, analysisErr error) error {
	status := AnalysisStatusComplete

	var errText *string

	if analysisErr != nil {
		status = AnalysisStatusFailed
		msg := analysisErr.Error()
		errText = &msg
	}

	const q = `
		UPDATE analysis_results
		SET result_text = $2, confidence = $3, processing_time_ms = $4, error = $5,
		    status = $6, completed_at = now()
		WHERE id = $1
	`

	if _, err := db.Pool.Exec(ctx, q, id, resultText, confidence, processingTimeMS, errText, status); err != nil {
		return fmt.Errorf("complete analysis result: %w", err)
	}

	return nil
}

// PendingOCRPages returns up to limit pages for versionID that have
// ocr_status in (pending, failed) — candidates for an OCR-family backend.
func (db *DB) PendingOCRPages(ctx context.Context, versionID string, limit int) ([]DocumentPage, error) {
	const q = `
		SELECT id, document_id, version_id, page_number, pdf_text, ocr_text, final_text, ocr_status
		FROM document_pages
		WHERE version_id = $1 AND ocr_status IN ($2, $3)
		ORDER BY page_number ASC
		LIMIT $4
	`

	rows, err := db.Pool.Query(ctx, q, versionID, OCRStatusPending, OCRStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("pending ocr pages: %w", err)
	}
	defer rows.Close()

	var pages []DocumentPage

	for rows.Next() {
		var p DocumentPage
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.VersionID, &p.PageNumber, &p.PDFText, &p.OCRText, &p.FinalText, &p.OCRStatus); err != nil {
			return nil, fmt.Errorf("pending ocr pages: scan: %w", err)
		}

		pages = append(pages, p)
	}

	return pages, rows.Err()
}

// PendingAnalysisVersions returns up to limit distinct version_id values
// that still have a page in pending or failed ocr_status: the backlog an
// analyze-mode sweep works through, since the Crawl Engine's VersionHook
// call only creates the page rows.
func (db *DB) PendingAnalysisVersions(ctx context.Context, limit int) ([]string, error) {
	const q = `
		SELECT DISTINCT version_id
		FROM document_pages
		WHERE ocr_status IN ($1, $2)
		ORDER BY version_id ASC
		LIMIT $3
	`

	rows, err := db.Pool.Query(ctx, q, OCRStatusPending, OCRStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("pending analysis versions: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pending analysis versions: scan: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// PageAnalysisResults returns every AnalysisResult row recorded for a
// page, across all analysis_type/backend combinations — the input to the
// per-page text finalization ranking (spec.md §4.6).
func (db *DB) PageAnalysisResults(ctx context.Context, pageID string) ([]AnalysisResult, error) {
	const q = `
		SELECT id, page_id, document_id, version_id, analysis_type, backend, result_text,
		       confidence, processing_time_ms, error, status, created_at, completed_at
		FROM analysis_results
		WHERE page_id = $1 AND status = $2
	`

	rows, err := db.Pool.Query(ctx, q, pageID, AnalysisStatusComplete)
	if err != nil {
		return nil, fmt.Errorf("page analysis results: %w", err)
	}
	defer rows.Close()

	var results []AnalysisResult

	for rows.Next() {
		var r AnalysisResult
		if err := rows.Scan(
			&r.ID, &r.PageID, &r.DocumentID, &r.VersionID, &r.AnalysisType, &r.Backend,
			&r.ResultText, &r.Confidence, &r.ProcessingTimeMS, &r.Error, &r.Status, &r.CreatedAt, &r.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("page analysis results: scan: %w", err)
		}

		results = append(results, r)
	}

	return results, rows.Err()
}

// DocumentVersionByID looks up a single DocumentVersion by id, used by the
// Analysis Pipeline to read mime_type/page_count/file_path when driving
// page extraction off a freshly inserted version.
func (db *DB) DocumentVersionByID(ctx context.Context, id string) (*DocumentVersion, error) {
	const q = `
		SELECT id, document_id, content_hash, content_hash_blake3, file_path, file_size,
		       mime_type, acquired_at, source_url, original_filename, server_date, page_count
		FROM document_versions WHERE id = $1
	`

	var v DocumentVersion

	err := db.Pool.QueryRow(ctx, q, id).Scan(
		&v.ID, &v.DocumentID, &v.ContentHash, &v.ContentHashBlake3, &v.FilePath, &v.FileSize,
		&v.MimeType, &v.AcquiredAt, &v.SourceURL, &v.OriginalFilename, &v.ServerDate, &v.PageCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document version %s: %w", id, appErrors.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("document version by id: %w", err)
	}

	return &v, nil
}
