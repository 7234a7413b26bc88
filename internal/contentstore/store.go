// Package contentstore implements the acquisition engine's content-addressed
// blob pool: bytes are written once under a path derived from their SHA-256
// hash, and repeat writes of identical content are no-ops.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"lukechampine.com/blake3"

	"github.com/lueurxax/foia-acquired/internal/platform/observability"
)

// ErrSizeMismatch indicates a path collision: the same sha256 prefix landed
// on an existing file whose size disagrees with the new content, which
// should be impossible outside of a hash collision or on-disk corruption.
var ErrSizeMismatch = errors.New("content store: existing file size does not match new content")

// Placement is the result of a successful Put: the dual hashes, size, and
// the path (relative to the store's root) the content lives at.
type Placement struct {
	SHA256       string
	BLAKE3       string
	Size         int64
	RelativePath string
	MimeType     string
	PreExisting  bool
}

// Store is the content-addressed blob pool rooted at a data directory.
// Every method is safe for concurrent use: writers racing on the same
// content hash coalesce onto the same temp-file-then-rename sequence and
// the loser's rename is a harmless no-op onto an already-identical file.
type Store struct {
	root   string
	logger *zerolog.Logger
}

// New roots a Store at dataDir/documents, creating the directory if needed.
func New(dataDir string, logger *zerolog.Logger) (*Store, error) {
	root := filepath.Join(dataDir, "documents")

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("content store: create root: %w", err)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Store{root: root, logger: logger}, nil
}

// RelativePath computes the canonical path for a given SHA-256 hex digest
// and file extension: "documents/<sha256[0:2]>/<sha256[2:4]>/<sha256>.<ext>".
func RelativePath(sha256Hex, ext string) string {
	ext = canonicalExt(ext)

	return filepath.Join("documents", sha256Hex[0:2], sha256Hex[2:4], sha256Hex+"."+ext)
}

func canonicalExt(ext string) string {
	ext = filepath.Ext("x." + ext)
	ext = ext[1:]

	if ext == "" {
		return "bin"
	}

	return ext
}

// Put writes bytes into the store, returning the placement. Given
// identical input bytes, repeated calls return a bit-identical Placement
// and the file is written at most once (PreExisting=true on the no-op
// path), satisfying the universal dedup property (spec.md §8.2).
func (s *Store) Put(_ context.Context, data []byte) (Placement, error) {
	shaSum := sha256.Sum256(data)
	shaHex := hex.EncodeToString(shaSum[:])

	b3Sum := blake3.Sum256(data)
	b3Hex := hex.EncodeToString(b3Sum[:])

	mtype := mimetype.Detect(data)
	ext := canonicalExt(mtype.Extension())

	relPath := filepath.Join("documents", shaHex[0:2], shaHex[2:4], shaHex+"."+ext)
	absPath := filepath.Join(s.root, shaHex[0:2], shaHex[2:4], shaHex+"."+ext)

	existing, err := os.Stat(absPath)
	if err == nil {
		if existing.Size() != int64(len(data)) {
			return Placement{}, fmt.Errorf("%w: %s", ErrSizeMismatch, relPath)
		}

		observability.ContentStoreWrites.WithLabelValues("true").Inc()

		return Placement{
			SHA256: shaHex, BLAKE3: b3Hex, Size: existing.Size(),
			RelativePath: relPath, MimeType: mtype.String(), PreExisting: true,
		}, nil
	}

	if !os.IsNotExist(err) {
		return Placement{}, fmt.Errorf("content store: stat %s: %w", absPath, err)
	}

	if err := s.writeAtomic(absPath, data); err != nil {
		return Placement{}, err
	}

	observability.ContentStoreWrites.WithLabelValues("false").Inc()
	observability.ContentStoreBytesWritten.Add(float64(len(data)))

	return Placement{
		SHA256: shaHex, BLAKE3: b3Hex, Size: int64(len(data)),
		RelativePath: relPath, MimeType: mtype.String(), PreExisting: false,
	}, nil
}

// writeAtomic writes data to a temp file in the same directory as dest,
// fsyncs it, then renames it into place — the rename is atomic on the same
// filesystem so a concurrent open() never observes a partial write.
func (s *Store) writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("content store: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("content store: create temp file: %w", err)
	}

	tmpPath := tmp.Name()

	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("content store: write temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("content store: fsync temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("content store: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		// A concurrent writer may have already published an identical file
		// at dest; that's harmless, so only genuine rename failures error.
		if _, statErr := os.Stat(dest); statErr != nil {
			return fmt.Errorf("content store: rename into place: %w", err)
		}
	}

	return nil
}

// Open returns a reader for a previously placed blob, given its relative
// path (as recorded in DocumentVersion.file_path).
func (s *Store) Open(relativePath string) (io.ReadCloser, error) {
	// RelativePath is always "documents/<ab>/<cd>/<hash>.<ext>"; strip the
	// "documents" root segment since s.root already points at it.
	absPath := filepath.Join(s.root, stripDocumentsPrefix(relativePath))

	f, err := os.Open(absPath) //nolint:gosec // path is derived from a content hash recorded by this package, not user input
	if err != nil {
		return nil, fmt.Errorf("content store: open %s: %w", relativePath, err)
	}

	return f, nil
}

func stripDocumentsPrefix(relativePath string) string {
	const prefix = "documents" + string(filepath.Separator)
	if len(relativePath) > len(prefix) && relativePath[:len(prefix)] == prefix {
		return relativePath[len(prefix):]
	}

	return relativePath
}

// Verify recomputes the SHA-256 of the blob at relativePath and compares it
// to expectedSHA256, the integrity check backing invariant #2 (spec.md §3).
func (s *Store) Verify(relativePath, expectedSHA256 string) error {
	f, err := s.Open(relativePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("content store: hash %s: %w", relativePath, err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != expectedSHA256 {
		return fmt.Errorf("content store: %s hash mismatch: got %s want %s", relativePath, got, expectedSHA256)
	}

	return nil
}
