package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rs/zerolog"

	appErrors "github.com/lueurxax/foia-acquired/internal/core/errors"
	"github.com/lueurxax/foia-acquired/internal/storage"
)

// Annotator drives the four annotation operations against a Document's
// latest version text, through the storage claim protocol so at most one
// worker runs a given (document, operation) pair at a time (spec.md
// §4.7's claim/idempotency rules).
type Annotator struct {
	db       *storage.DB
	registry *Registry
	logger   *zerolog.Logger
}

// New builds an Annotator.
func New(db *storage.DB, registry *Registry, logger *zerolog.Logger) *Annotator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Annotator{db: db, registry: registry, logger: logger}
}

// documentText assembles the Document view an annotation operation
// operates over: the document's title plus the concatenated final_text of
// its latest version's pages (falling back to the document's own
// extracted_text column for page-less documents, e.g. plain HTML).
func (a *Annotator) documentText(ctx context.Context, doc *storage.Document) (Document, error) {
	title := ""
	if doc.Title != nil {
		title = *doc.Title
	}

	version, err := a.db.LatestVersion(ctx, doc.ID)
	if err != nil {
		return Document{}, fmt.Errorf("annotator: load latest version: %w", err)
	}

	if version == nil {
		text := ""
		if doc.ExtractedText != nil {
			text = *doc.ExtractedText
		}

		return Document{Title: title, Text: text}, nil
	}

	pages, err := a.db.DocumentPages(ctx, version.ID)
	if err != nil {
		return Document{}, fmt.Errorf("annotator: load pages: %w", err)
	}

	if len(pages) == 0 {
		text := ""
		if doc.ExtractedText != nil {
			text = *doc.ExtractedText
		}

		return Document{Title: title, Text: text}, nil
	}

	var b strings.Builder

	for _, p := range pages {
		if p.FinalText != nil && *p.FinalText != "" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}

			b.WriteString(*p.FinalText)
		}
	}

	return Document{Title: title, Text: b.String()}, nil
}

// RunSynopsis claims, runs, and records the synopsis operation for a
// document. Returns appErrors.ErrAlreadyClaimed if another worker already
// holds an in-flight claim.
func (a *Annotator) RunSynopsis(ctx context.Context, documentID string) (string, error) {
	doc, err := a.db.GetDocument(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("annotator synopsis: %w", err)
	}

	claimID, err := a.db.ClaimAnnotation(ctx, documentID, OpSynopsis)
	if err != nil {
		return "", err
	}

	input, err := a.documentText(ctx, doc)
	if err != nil {
		_ = a.db.CompleteAnnotation(ctx, claimID, nil, err)
		return "", err
	}

	synopsis, runErr := a.registry.Synopsis(ctx, input)
	if runErr != nil {
		_ = a.db.CompleteAnnotation(ctx, claimID, nil, runErr)
		return "", fmt.Errorf("annotator synopsis: %w", runErr)
	}

	result, err := json.Marshal(map[string]string{"synopsis": synopsis})
	if err != nil {
		return "", fmt.Errorf("annotator synopsis: marshal result: %w", err)
	}

	if err := a.db.CompleteAnnotation(ctx, claimID, result, nil); err != nil {
		return "", fmt.Errorf("annotator synopsis: %w", err)
	}

	return synopsis, nil
}

// RunTags claims, runs, and records the tags operation for a document.
func (a *Annotator) RunTags(ctx context.Context, documentID string) ([]string, error) {
	doc, err := a.db.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("annotator tags: %w", err)
	}

	claimID, err := a.db.ClaimAnnotation(ctx, documentID, OpTags)
	if err != nil {
		return nil, err
	}

	input, err := a.documentText(ctx, doc)
	if err != nil {
		_ = a.db.CompleteAnnotation(ctx, claimID, nil, err)
		return nil, err
	}

	tags, runErr := a.registry.Tags(ctx, input)
	if runErr != nil {
		_ = a.db.CompleteAnnotation(ctx, claimID, nil, runErr)
		return nil, fmt.Errorf("annotator tags: %w", runErr)
	}

	result, err := json.Marshal(map[string][]string{"tags": tags})
	if err != nil {
		return nil, fmt.Errorf("annotator tags: marshal result: %w", err)
	}

	if err := a.db.CompleteAnnotation(ctx, claimID, result, nil); err != nil {
		return nil, fmt.Errorf("annotator tags: %w", err)
	}

	return tags, nil
}

// RunNER claims, runs, and records the ner operation for a document,
// persisting any extracted entities to document_entities on success.
func (a *Annotator) RunNER(ctx context.Context, documentID string) ([]Entity, error) {
	doc, err := a.db.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("annotator ner: %w", err)
	}

	claimID, err := a.db.ClaimAnnotation(ctx, documentID, OpNER)
	if err != nil {
		return nil, err
	}

	input, err := a.documentText(ctx, doc)
	if err != nil {
		_ = a.db.CompleteAnnotation(ctx, claimID, nil, err)
		return nil, err
	}

	entities, runErr := a.registry.NER(ctx, input)
	if runErr != nil {
		_ = a.db.CompleteAnnotation(ctx, claimID, nil, runErr)
		return nil, fmt.Errorf("annotator ner: %w", runErr)
	}

	result, err := json.Marshal(map[string][]Entity{"entities": entities})
	if err != nil {
		return nil, fmt.Errorf("annotator ner: marshal result: %w", err)
	}

	if err := a.db.CompleteAnnotation(ctx, claimID, result, nil); err != nil {
		return nil, fmt.Errorf("annotator ner: %w", err)
	}

	if len(entities) > 0 {
		rows := make([]storage.DocumentEntity, 0, len(entities))
		for _, e := range entities {
			rows = append(rows, storage.DocumentEntity{
				DocumentID: documentID,
				EntityType: e.Type,
				Text:       e.Text,
				Latitude:   e.Latitude,
				Longitude:  e.Longitude,
			})
		}

		if err := a.db.InsertDocumentEntities(ctx, documentID, rows); err != nil {
			a.logger.Warn().Err(err).Str("document_id", documentID).Msg("failed to persist ner entities")
		}
	}

	return entities, nil
}

// RunDateDetect claims, runs, and records the date_detect operation,
// normalizing the provider's estimated_date string through dateparse
// (providers are prompted for RFC3339 but LLMs drift) and writing the
// result onto the document's estimated_date/date_confidence/date_source
// columns on success.
func (a *Annotator) RunDateDetect(ctx context.Context, documentID string) (DateDetection, error) {
	doc, err := a.db.GetDocument(ctx, documentID)
	if err != nil {
		return DateDetection{}, fmt.Errorf("annotator date_detect: %w", err)
	}

	claimID, err := a.db.ClaimAnnotation(ctx, documentID, OpDateDetect)
	if err != nil {
		return DateDetection{}, err
	}

	input, err := a.documentText(ctx, doc)
	if err != nil {
		_ = a.db.CompleteAnnotation(ctx, claimID, nil, err)
		return DateDetection{}, err
	}

	dd, runErr := a.registry.DateDetect(ctx, input)
	if runErr != nil {
		_ = a.db.CompleteAnnotation(ctx, claimID, nil, runErr)
		return DateDetection{}, fmt.Errorf("annotator date_detect: %w", runErr)
	}

	parsed, parseErr := dateparse.ParseAny(dd.EstimatedDate)
	if parseErr != nil {
		_ = a.db.CompleteAnnotation(ctx, claimID, nil, parseErr)
		return DateDetection{}, fmt.Errorf("annotator date_detect: parse %q: %w", dd.EstimatedDate, parseErr)
	}

	dd.EstimatedDate = parsed.UTC().Format(time.RFC3339)

	result, err := json.Marshal(dd)
	if err != nil {
		return DateDetection{}, fmt.Errorf("annotator date_detect: marshal result: %w", err)
	}

	if err := a.db.CompleteAnnotation(ctx, claimID, result, nil); err != nil {
		return DateDetection{}, fmt.Errorf("annotator date_detect: %w", err)
	}

	if err := a.db.SetDocumentDate(ctx, documentID, parsed.UTC(), dd.Confidence, dd.Source); err != nil {
		a.logger.Warn().Err(err).Str("document_id", documentID).Msg("failed to persist detected date")
	}

	return dd, nil
}

// Skip reports whether err is the "another worker already has this claim"
// sentinel, which callers should treat as a no-op rather than a failure.
func Skip(err error) bool {
	return errors.Is(err, appErrors.ErrAlreadyClaimed)
}
