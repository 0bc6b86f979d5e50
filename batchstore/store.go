// Package batchstore persists in-flight batched sampling jobs to disk so
// polling can resume after a process restart.
package batchstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultMaxAge matches the backend's own batch processing window: jobs
// older than this can never complete and are evicted.
const DefaultMaxAge = 48 * time.Hour

// BatchJob is one persisted in-flight batch request.
type BatchJob struct {
	JobName       string    `json:"job_name"`
	BoardName     string    `json:"board_name"`
	NodeID        string    `json:"node_id"`
	Model         string    `json:"model"`
	IsImageModel  bool      `json:"is_image_model"`
	KeyIndex      int       `json:"key_index"`
	ExpectedCount int       `json:"expected_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// document is the versioned on-disk form.
type document struct {
	Version int        `json:"version"`
	Jobs    []BatchJob `json:"jobs"`
}

const documentVersion = 1

// Store is a file-backed registry of batch jobs. All operations are
// serialized behind one mutex; every write goes through a temporary file
// followed by an atomic rename, so a crash mid-write leaves either the old
// or the new content, never a partial mix.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a registry backed by the given file path. The file is
// created lazily on first write; a missing file reads as an empty registry.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob appends a job record stamped with the current UTC time.
func (s *Store) AddJob(job BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	job.CreatedAt = s.now().UTC()
	doc.Jobs = append(doc.Jobs, job)
	if err := s.save(doc); err != nil {
		return err
	}
	s.logger.Info("batch job added",
		"job", job.JobName, "board", job.BoardName, "node", job.NodeID)
	return nil
}

// RemoveJob deletes the job with the given name. Removing an unknown name
// is a no-op.
func (s *Store) RemoveJob(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	kept := doc.Jobs[:0]
	for _, j := range doc.Jobs {
		if j.JobName != jobName {
			kept = append(kept, j)
		}
	}
	if len(kept) == len(doc.Jobs) {
		return nil
	}
	doc.Jobs = kept
	if err := s.save(doc); err != nil {
		return err
	}
	s.logger.Info("batch job removed", "job", jobName)
	return nil
}

// JobsForBoard returns the pending jobs registered under the given board.
func (s *Store) JobsForBoard(boardName string) []BatchJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []BatchJob
	for _, j := range s.load().Jobs {
		if j.BoardName == boardName {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// CleanupStale drops every record older than maxAge and persists the
// removal. Records with a zero creation time never parse to a valid age and
// are dropped as well. Returns the number of records removed.
func (s *Store) CleanupStale(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	now := s.now().UTC()
	kept := make([]BatchJob, 0, len(doc.Jobs))
	for _, j := range doc.Jobs {
		if j.CreatedAt.IsZero() {
			s.logger.Info("unparsable batch job dropped", "job", j.JobName)
			continue
		}
		age := now.Sub(j.CreatedAt.UTC())
		if age > maxAge {
			s.logger.Info("stale batch job removed",
				"job", j.JobName, "age", age.Round(time.Minute))
			continue
		}
		kept = append(kept, j)
	}

	removed := len(doc.Jobs) - len(kept)
	if removed > 0 {
		doc.Jobs = kept
		if err := s.save(doc); err != nil {
			s.logger.Error("failed to persist stale cleanup", "error", err)
		}
	}
	return removed
}

// load reads the backing file. A missing file is an empty registry; a
// corrupt file is logged and treated as empty rather than failing the host.
// Callers must hold s.mu.
func (s *Store) load() document {
	empty := document{Version: documentVersion, Jobs: nil}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read batch registry", "path", s.path, "error", err)
		}
		return empty
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("corrupt batch registry, starting empty", "path", s.path, "error", err)
		return empty
	}
	if doc.Version == 0 {
		doc.Version = documentVersion
	}
	return doc
}

// save writes the document via a temp file and atomic rename. Callers must
// hold s.mu.
func (s *Store) save(doc document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch registry: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write batch registry: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace batch registry: %w", err)
	}
	return nil
}
