package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	appErrors "github.com/lueurxax/foia-acquired/internal/core/errors"
)

// Annotation types the Annotator produces (spec.md §4.7).
const (
	AnnotationSynopsis   = "synopsis"
	AnnotationTags       = "tags"
	AnnotationNER        = "ner"
	AnnotationDateDetect = "date_detect"
)

// Annotation is one (document, annotation_type) attempt.
type Annotation struct {
	ID             string
	DocumentID     string
	AnnotationType string
	Version        int
	Result         json.RawMessage
	Error          *string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// ClaimAnnotation upserts a row claiming (documentID, annotationType):
// inserted fresh if none exists yet, or re-claimed (version bumped,
// error cleared) if the prior attempt already succeeded (completed_at set)
// or failed (error set). A row with completed_at and error both NULL is an
// in-flight claim by another worker, and this returns
// appErrors.ErrAlreadyClaimed — spec.md
// §4.7's "at most one in-flight attempt per key".
func (db *DB) ClaimAnnotation(ctx context.Context, documentID, annotationType string) (string, error) {
	id := uuid.NewString()

	const q = `
		INSERT INTO annotations (id, document_id, annotation_type, version, started_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (document_id, annotation_type) DO UPDATE
		SET version = annotations.version + 1, started_at = now(), error = NULL, id = annotations.id
		WHERE annotations.completed_at IS NOT NULL OR annotations.error IS NOT NULL
		RETURNING id
	`

	var returnedID string

	err := db.Pool.QueryRow(ctx, q, id, documentID, annotationType).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("claim annotation %s/%s: %w", documentID, annotationType, appErrors.ErrAlreadyClaimed)
	}

	if err != nil {
		return "", fmt.Errorf("claim annotation: %w", err)
	}

	return returnedID, nil
}

// CompleteAnnotation records an annotation attempt's outcome. On success,
// result is stored and completed_at set; on failure, error is stored and
// completed_at is left NULL, making the row eligible for the next
// ClaimAnnotation call (spec.md §4.7).
func (db *DB) CompleteAnnotation(ctx context.Context, id string, result json.RawMessage, annotationErr error) error {
	if annotationErr != nil {
		const q = `UPDATE annotations SET error = $2 WHERE id = $1`

		msg := annotationErr.Error()
		if _, err := db.Pool.Exec(ctx, q, id, msg); err != nil {
			return fmt.Errorf("complete annotation: %w", err)
		}

		return nil
	}

	const q = `UPDATE annotations SET result = $2, error = NULL, completed_at = now() WHERE id = $1`

	if _, err := db.Pool.Exec(ctx, q, id, result); err != nil {
		return fmt.Errorf("complete annotation: %w", err)
	}

	return nil
}

// DocumentsNeedingAnnotation returns up to limit document ids that have
// finished analysis but have no completed synopsis annotation yet — the
// backlog an annotate-mode sweep works through (spec.md §4.7). A document
// whose synopsis is complete is assumed to have its other three operations
// run alongside it by the same caller, so synopsis alone gates eligibility.
func (db *DB) DocumentsNeedingAnnotation(ctx context.Context, limit int) ([]string, error) {
	const q = `
		SELECT d.id
		FROM documents d
		LEFT JOIN annotations a
			ON a.document_id = d.id AND a.annotation_type = $1 AND a.completed_at IS NOT NULL
		WHERE d.status = $2 AND a.id IS NULL
		ORDER BY d.updated_at ASC
		LIMIT $3
	`

	rows, err := db.Pool.Query(ctx, q, AnnotationSynopsis, DocumentStatusAnalyzed, limit)
	if err != nil {
		return nil, fmt.Errorf("documents needing annotation: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("documents needing annotation: scan: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// DocumentEntity is one named entity extracted by the ner annotation.
type DocumentEntity struct {
	ID         string
	DocumentID string
	EntityType string
	Text       string
	Latitude   *float64
	Longitude  *float64
}

// InsertDocumentEntities bulk-inserts entities extracted by a ner pass.
func (db *DB) InsertDocumentEntities(ctx context.Context, documentID string, entities []DocumentEntity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert document entities: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
		INSERT INTO document_entities (id, document_id, entity_type, text, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, e := range entities {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}

		if _, err := tx.Exec(ctx, q, id, documentID, e.EntityType, e.Text, e.Latitude, e.Longitude); err != nil {
			return fmt.Errorf("insert document entities: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// DocumentEntities returns every entity recorded for a document.
func (db *DB) DocumentEntities(ctx context.Context, documentID string) ([]DocumentEntity, error) {
	const q = `
		SELECT id, document_id, entity_type, text, latitude, longitude
		FROM document_entities WHERE document_id = $1
	`

	rows, err := db.Pool.Query(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("document entities: %w", err)
	}
	defer rows.Close()

	var entities []DocumentEntity

	for rows.Next() {
		var e DocumentEntity
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.EntityType, &e.Text, &e.Latitude, &e.Longitude); err != nil {
			return nil, fmt.Errorf("document entities: scan: %w", err)
		}

		entities = append(entities, e)
	}

	return entities, rows.Err()
}
