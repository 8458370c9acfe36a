// Package index maintains the durable per-file ingestion ledger.
//
// The ledger maps filename to storage key, upload time, and a vectorized
// flag. It is distinct from the vector store: the flag says "this document's
// passages are fully persisted", and it is flipped only by the ingestion
// pipeline after every upsert for the document has succeeded.
//
// The substrate is a single JSON document loaded and saved around each call.
// An in-process mutex serializes callers within one process; a file lock
// (gofrs/flock) guards against a second nutrikb process on the same ledger.
// Concurrent coordinators over overlapping file sets are out of scope.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/nutrikb/nutrikb/internal/log"
)

var (
	// ErrDuplicateRecord is returned when AddRecord sees an existing filename.
	// Replacing a record is an explicit producer decision, never implicit.
	ErrDuplicateRecord = errors.New("duplicate file record")

	// ErrStatusReset is returned when a caller tries to flip a vectorized
	// record back to unvectorized. The flag is monotonic; resets must not
	// happen silently.
	ErrStatusReset = errors.New("vectorized status cannot be reset")
)

// FileRecord is one ledger entry.
// UploadTime carries the producer's local zone; UploadTimeUTC is the same
// instant normalized, kept for zone-independent window queries.
// A record missing the vectorized field decodes as unvectorized.
type FileRecord struct {
	Filename      string    `json:"filename"`
	StorageKey    string    `json:"storage_key"`
	UploadTime    time.Time `json:"upload_time"`
	UploadTimeUTC time.Time `json:"upload_time_utc"`
	Vectorized    bool      `json:"vectorized,omitempty"`
}

// ledger is the on-disk JSON document.
type ledger struct {
	Files map[string]FileRecord `json:"files"`
}

// Store is the file index store.
type Store struct {
	path   string
	mu     sync.Mutex
	flk    *flock.Flock
	logger log.Logger
	now    func() time.Time // injectable clock for tests
}

// New creates a Store over the JSON ledger at path.
// The parent directory is created; the ledger file itself is created lazily
// on first mutation.
func New(path string, logger log.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("index path is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return &Store{
		path:   path,
		flk:    flock.New(path + ".lock"),
		logger: logger,
		now:    time.Now,
	}, nil
}

// AddRecord creates a ledger entry for filename with vectorized=false.
// Returns ErrDuplicateRecord if the filename is already present.
func (s *Store) AddRecord(filename, storageKey string) error {
	if filename == "" {
		return errors.New("filename is required")
	}

	return s.mutate(func(l *ledger) error {
		if _, exists := l.Files[filename]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateRecord, filename)
		}
		now := s.now()
		l.Files[filename] = FileRecord{
			Filename:      filename,
			StorageKey:    storageKey,
			UploadTime:    now,
			UploadTimeUTC: now.UTC(),
			Vectorized:    false,
		}
		return nil
	})
}

// GetRecord returns the record for filename, or nil when unknown.
func (s *Store) GetRecord(filename string) (*FileRecord, error) {
	l, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	rec, ok := l.Files[filename]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// UpdateVectorizationStatus sets the vectorized flag for filename.
// Unknown filenames return (false, nil) and mutate nothing. Flipping a
// vectorized record back to false returns ErrStatusReset.
func (s *Store) UpdateVectorizationStatus(filename string, vectorized bool) (bool, error) {
	found := false
	err := s.mutate(func(l *ledger) error {
		rec, ok := l.Files[filename]
		if !ok {
			return nil
		}
		if rec.Vectorized && !vectorized {
			return fmt.Errorf("%w: %q", ErrStatusReset, filename)
		}
		found = true
		rec.Vectorized = vectorized
		l.Files[filename] = rec
		return nil
	})
	if err != nil {
		return false, err
	}
	if !found {
		s.logger.Warn("status update for unknown filename", "filename", filename)
	}
	return found, nil
}

// GetAll returns every record, sorted by filename.
func (s *Store) GetAll() ([]FileRecord, error) {
	l, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return sortRecords(l.Files), nil
}

// GetUploadedWithin returns records uploaded within the last `days` days,
// sorted by filename. Comparison uses the UTC stamp; records predating the
// dual-stamp format fall back to UploadTime.
func (s *Store) GetUploadedWithin(days int) ([]FileRecord, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	l, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	cutoff := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	within := make(map[string]FileRecord)
	for name, rec := range l.Files {
		stamp := rec.UploadTimeUTC
		if stamp.IsZero() {
			stamp = rec.UploadTime.UTC()
		}
		if !stamp.Before(cutoff) {
			within[name] = rec
		}
	}
	return sortRecords(within), nil
}

// GetUnvectorized returns records whose flag is unset, sorted by filename.
// Records missing the flag entirely count as unvectorized; they surface here
// so incomplete producer writes are picked up rather than stranded.
func (s *Store) GetUnvectorized() ([]FileRecord, error) {
	l, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	pending := make(map[string]FileRecord)
	for name, rec := range l.Files {
		if !rec.Vectorized {
			pending[name] = rec
		}
	}
	return sortRecords(pending), nil
}

// mutate runs fn over the loaded ledger under both locks and saves the
// result atomically when fn succeeds.
func (s *Store) mutate(fn func(*ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("failed to lock index: %w", err)
	}
	defer func() {
		if err := s.flk.Unlock(); err != nil {
			s.logger.Warn("failed to unlock index", "error", err)
		}
	}()

	l, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(l); err != nil {
		return err
	}
	return s.save(l)
}

// snapshot loads the ledger read-only under the locks.
func (s *Store) snapshot() (*ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flk.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock index: %w", err)
	}
	defer func() {
		if err := s.flk.Unlock(); err != nil {
			s.logger.Warn("failed to unlock index", "error", err)
		}
	}()

	return s.load()
}

func (s *Store) load() (*ledger, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &ledger{Files: make(map[string]FileRecord)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	l := &ledger{}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	if l.Files == nil {
		l.Files = make(map[string]FileRecord)
	}
	return l, nil
}

func (s *Store) save(l *ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".index-*")
	if err != nil {
		return fmt.Errorf("failed to create temp index: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp index: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}

func sortRecords(m map[string]FileRecord) []FileRecord {
	out := make([]FileRecord, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}
