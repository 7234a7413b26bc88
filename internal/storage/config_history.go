package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	appErrors "github.com/lueurxax/foia-acquired/internal/core/errors"
)

// ConfigurationHistory is one immutable snapshot of the engine's effective
// configuration, keyed by the hash of its JSON encoding so the same config
// recorded on every startup produces one row rather than a duplicate per
// restart (spec.md §6's "config history written as immutable rows keyed by
// hash").
type ConfigurationHistory struct {
	ID          string
	ContentHash string
	Config      []byte
	RecordedAt  time.Time
}

// RecordConfig hashes configJSON and inserts a configuration_history row
// for it, doing nothing if that exact configuration was already recorded.
// It returns the row's content hash either way.
func (db *DB) RecordConfig(ctx context.Context, configJSON []byte) (string, error) {
	sum := sha256.Sum256(configJSON)
	hash := hex.EncodeToString(sum[:])

	const q = `
		INSERT INTO configuration_history (id, content_hash, config)
		VALUES ($1, $2, $3)
		ON CONFLICT (content_hash) DO NOTHING
	`

	if _, err := db.Pool.Exec(ctx, q, uuid.NewString(), hash, configJSON); err != nil {
		return "", fmt.Errorf("record config: %w", err)
	}

	return hash, nil
}

// LatestConfig returns the most recently recorded configuration snapshot,
// or ErrNotFound if none has been recorded yet.
func (db *DB) LatestConfig(ctx context.Context) (ConfigurationHistory, error) {
	const q = `
		SELECT id, content_hash, config, recorded_at
		FROM configuration_history
		ORDER BY recorded_at DESC
		LIMIT 1
	`

	var c ConfigurationHistory

	err := db.Pool.QueryRow(ctx, q).Scan(&c.ID, &c.ContentHash, &c.Config, &c.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConfigurationHistory{}, appErrors.ErrNotFound
	}

	if err != nil {
		return ConfigurationHistory{}, fmt.Errorf("latest config: %w", err)
	}

	return c, nil
}
