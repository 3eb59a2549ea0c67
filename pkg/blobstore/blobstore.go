// Package blobstore implements the content-addressed filesystem directory
// that backs the store's files table. A file URL maps to
// either a 32-byte content hash of a local blob file, or a terminal error
// code; the files table and the filesystem are kept consistent by a
// two-phase commit that orders work as await downloads, open a store
// transaction, commit, then atomically move temp blobs into place.
package blobstore

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cuemby/chatvault/pkg/log"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BlobStore owns the blob directory and the HTTP client used to fetch
// remote files named by URL.
type BlobStore struct {
	dir    string
	client *http.Client
	logger zerolog.Logger
}

// Open creates dir if absent and returns a BlobStore rooted there.
func Open(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("blobstore: mkdir %s: %w", dir, err)
	}
	return &BlobStore{
		dir:    dir,
		client: &http.Client{},
		logger: log.WithComponent("blobstore"),
	}, nil
}

// pathForHash implements the hash-prefix bucketing layout: the first byte
// of the hash (two hex chars) names a subdirectory, keeping any one
// directory from accumulating an unbounded number of entries.
func (b *BlobStore) pathForHash(hash []byte) string {
	hexHash := fmt.Sprintf("%x", hash)
	return filepath.Join(b.dir, hexHash[:2], hexHash)
}

// HashExists reports whether a blob for hash is already present on disk.
func (b *BlobStore) HashExists(hash []byte) bool {
	_, err := os.Stat(b.pathForHash(hash))
	return err == nil
}

// OpenBlob returns a reader over the blob for hash.
func (b *BlobStore) OpenBlob(hash []byte) (*os.File, error) {
	f, err := os.Open(b.pathForHash(hash))
	if err != nil {
		return nil, fmt.Errorf("blobstore: open blob: %w", err)
	}
	return f, nil
}

// tempFile creates a staging file under dir/tmp, named with a uuid so two
// concurrent downloads of the same URL never collide.
func (b *BlobStore) tempFile() (*os.File, error) {
	tmpDir := filepath.Join(b.dir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o700); err != nil {
		return nil, fmt.Errorf("blobstore: mkdir tmp: %w", err)
	}
	name := filepath.Join(tmpDir, uuid.New().String())
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blobstore: create temp file: %w", err)
	}
	return f, nil
}

func sha256Stream(src io.Reader, dst io.Writer) ([]byte, error) {
	h := sha256.New()
	w := io.MultiWriter(dst, h)
	if _, err := io.Copy(w, src); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
