package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// mimeExtensions maps media types to blob file extensions. Unknown types
// fall back to .bin.
var mimeExtensions = map[string]string{
	"text/plain":       "txt",
	"application/json": "json",
	"image/png":        "png",
	"image/jpeg":       "jpg",
	"image/webp":       "webp",
	"audio/mpeg":       "mp3",
	"audio/wav":        "wav",
	"video/mp4":        "mp4",
	"video/webm":       "webm",
}

// BlobStore writes and reads content-addressed blobs under
// <root>/builds/<movieId>/blobs/<aa>/<hash>.<ext>, where aa is the first two
// hex characters of the hash. Blobs are write-once.
type BlobStore struct {
	root   string
	logger zerolog.Logger
}

// NewBlobStore creates a blob store rooted at root.
func NewBlobStore(root string, logger zerolog.Logger) *BlobStore {
	return &BlobStore{root: root, logger: logger}
}

// Persist stores data content-addressed and returns its blob descriptor. If
// the blob already exists the write is skipped; existing blobs are never
// overwritten.
func (s *BlobStore) Persist(ctx context.Context, movieID string, data []byte, mimeType string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}

	sum := sha256.Sum256(data)
	blob := Blob{
		Hash:     hex.EncodeToString(sum[:]),
		Size:     int64(len(data)),
		MimeType: mimeType,
	}

	final := s.Path(movieID, blob.Hash, mimeType)
	if _, err := os.Stat(final); err == nil {
		s.logger.Debug().Str("hash", blob.Hash).Msg("blob already stored")
		return blob, nil
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return Blob{}, fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(final), ".blob-*")
	if err != nil {
		return Blob{}, fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Blob{}, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Blob{}, fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return Blob{}, fmt.Errorf("failed to finalize blob: %w", err)
	}

	s.logger.Debug().
		Str("movie_id", movieID).
		Str("hash", blob.Hash).
		Int64("size", blob.Size).
		Str("mime_type", mimeType).
		Msg("blob persisted")
	return blob, nil
}

// Read returns the bytes of a stored blob.
func (s *BlobStore) Read(ctx context.Context, movieID string, blob Blob) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(movieID, blob.Hash, blob.MimeType))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", blob.Hash, err)
	}
	return data, nil
}

// Exists reports whether the blob is already stored.
func (s *BlobStore) Exists(movieID string, blob Blob) bool {
	_, err := os.Stat(s.Path(movieID, blob.Hash, blob.MimeType))
	return err == nil
}

// Path returns the on-disk location of a blob.
func (s *BlobStore) Path(movieID, hash, mimeType string) string {
	return filepath.Join(s.root, "builds", movieID, "blobs", hash[:2],
		hash+"."+extensionFor(mimeType))
}

func extensionFor(mimeType string) string {
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return "bin"
}
