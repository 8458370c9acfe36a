// Package blob defines the blob-storage collaborator contract and a local
// filesystem implementation.
//
// Producers drop source documents into blob storage; the ingestion pipeline
// downloads them for parsing and writes filtered-text audit artifacts back.
// Keys are slash-separated relative paths ("docs/guide.pdf",
// "filtered/guide.pdf.txt").
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/nutrikb/nutrikb/internal/log"
)

// ErrInvalidKey is returned when a key is empty, absolute, or escapes the
// storage root.
var ErrInvalidKey = errors.New("invalid blob key")

// Storage is the blob-storage collaborator contract.
type Storage interface {
	// Download materializes the blob to a local file and returns its path.
	Download(ctx context.Context, key string) (string, error)

	// UploadString stores content under key, replacing any existing blob.
	UploadString(ctx context.Context, content, key string) error

	// Exists reports whether a blob is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys stored under prefix, sorted lexically.
	List(ctx context.Context, prefix string) ([]string, error)
}

// FSStore is a local filesystem Storage rooted at a directory.
type FSStore struct {
	rootDir  string
	cacheDir string
	logger   log.Logger
}

// NewFSStore creates a filesystem blob store. rootDir holds the blobs;
// cacheDir receives downloaded copies.
func NewFSStore(rootDir, cacheDir string, logger log.Logger) (*FSStore, error) {
	if rootDir == "" || cacheDir == "" {
		return nil, errors.New("blob root and cache directories are required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	for _, dir := range []string{rootDir, cacheDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &FSStore{rootDir: rootDir, cacheDir: cacheDir, logger: logger}, nil
}

// validateKey rejects keys that are empty, absolute, or traverse upward.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.HasPrefix(key, `\`) {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: %q escapes storage root", ErrInvalidKey, key)
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: contains null byte", ErrInvalidKey)
	}
	return nil
}

func (s *FSStore) blobPath(key string) string {
	return filepath.Join(s.rootDir, filepath.FromSlash(path.Clean(key)))
}

// Download copies the blob into the cache directory and returns the local path.
func (s *FSStore) Download(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(s.blobPath(key))
	if err != nil {
		return "", fmt.Errorf("failed to open blob %q: %w", key, err)
	}
	defer src.Close()

	localPath := filepath.Join(s.cacheDir, filepath.Base(filepath.FromSlash(key)))
	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to copy blob %q: %w", key, err)
	}

	s.logger.Debug("downloaded blob", "key", key, "local_path", localPath)
	return localPath, nil
}

// UploadString writes content atomically (temp file + rename) under key.
func (s *FSStore) UploadString(ctx context.Context, content, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.blobPath(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write blob %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to store blob %q: %w", key, err)
	}

	s.logger.Debug("uploaded blob", "key", key, "size", len(content))
	return nil
}

// Exists reports whether a blob is stored under key.
func (s *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := os.Stat(s.blobPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat blob %q: %w", key, err)
	}
	return !info.IsDir(), nil
}

// List returns all blob keys under prefix, in lexical walk order.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	if prefix != "" {
		if err := validateKey(prefix); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := []string{}
	err := filepath.WalkDir(s.rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.rootDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return keys, nil
}
