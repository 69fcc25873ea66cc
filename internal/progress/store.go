// Package progress persists a durable record of which colleges have already
// been processed, so an interrupted run resumes instead of refetching.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultExpiry is how long a completion record stays live before the college
// becomes eligible for reprocessing.
const DefaultExpiry = 30 * 24 * time.Hour

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// completedRecord is one entry in the on-disk file. CompletedAt is empty for
// legacy records written before timestamps existed; those never expire.
type completedRecord struct {
	ID          int64  `json:"id"`
	CompletedAt string `json:"completedAt,omitempty"`
}

type fileState struct {
	LastCompletedID int64             `json:"lastCompletedId"`
	CompletedIDs    []completedRecord `json:"completedIds"`
	StartedAt       string            `json:"startedAt,omitempty"`
	LastUpdated     string            `json:"lastUpdated,omitempty"`
}

// Store is a file-backed progress tracker. All methods are safe for
// concurrent use; Save performs an atomic overwrite via a temp file rename.
type Store struct {
	mu     sync.Mutex
	path   string
	expiry time.Duration
	clock  Clock
	logger *zap.Logger

	lastID    int64
	startedAt time.Time
	completed map[int64]time.Time
	legacy    map[int64]struct{}
}

// NewStore builds a Store rooted at path. Non-positive expiry falls back to
// DefaultExpiry.
func NewStore(path string, expiry time.Duration, clock Clock, logger *zap.Logger) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:      path,
		expiry:    expiry,
		clock:     clock,
		logger:    logger,
		completed: make(map[int64]time.Time),
		legacy:    make(map[int64]struct{}),
	}
}

// Load reads the progress file. A missing or corrupt file yields an empty
// initial state; Load never fails for those cases.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = make(map[int64]time.Time)
	s.legacy = make(map[int64]struct{})
	s.lastID = 0
	s.startedAt = s.clock.Now()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Cannot read progress file, starting fresh",
				zap.String("path", s.path), zap.Error(err))
		}
		return
	}

	var state fileState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.logger.Warn("Corrupt progress file, starting fresh",
			zap.String("path", s.path), zap.Error(err))
		return
	}

	s.lastID = state.LastCompletedID
	if t, err := time.Parse(time.RFC3339, state.StartedAt); err == nil {
		s.startedAt = t
	}
	for _, rec := range state.CompletedIDs {
		if rec.CompletedAt == "" {
			s.legacy[rec.ID] = struct{}{}
			continue
		}
		t, err := time.Parse(time.RFC3339, rec.CompletedAt)
		if err != nil {
			s.legacy[rec.ID] = struct{}{}
			continue
		}
		s.completed[rec.ID] = t
	}
}

// Save atomically overwrites the progress file with the current state.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	state := fileState{
		LastCompletedID: s.lastID,
		CompletedIDs:    make([]completedRecord, 0, len(s.completed)+len(s.legacy)),
		StartedAt:       s.startedAt.Format(time.RFC3339),
		LastUpdated:     s.clock.Now().Format(time.RFC3339),
	}
	for id := range s.legacy {
		state.CompletedIDs = append(state.CompletedIDs, completedRecord{ID: id})
	}
	for id, t := range s.completed {
		state.CompletedIDs = append(state.CompletedIDs, completedRecord{
			ID:          id,
			CompletedAt: t.Format(time.RFC3339),
		})
	}

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create progress dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write progress temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}

// MarkCompleted records the college as processed at the current time.
// Re-marking an id overwrites its previous record.
func (s *Store) MarkCompleted(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.legacy, id)
	s.completed[id] = s.clock.Now()
	s.lastID = id
}

// IsCompleted reports whether a live completion record exists for id.
// Records older than the expiry window are treated as not completed; legacy
// records without a timestamp are permanently completed.
func (s *Store) IsCompleted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.legacy[id]; ok {
		return true
	}
	t, ok := s.completed[id]
	if !ok {
		return false
	}
	return s.clock.Now().Sub(t) < s.expiry
}

// Reset clears all records and removes the file on disk.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = make(map[int64]time.Time)
	s.legacy = make(map[int64]struct{})
	s.lastID = 0
	s.startedAt = s.clock.Now()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove progress file: %w", err)
	}
	return nil
}

// Snapshot summarizes the current state for the status endpoint.
type Snapshot struct {
	LastCompletedID int64     `json:"lastCompletedId"`
	CompletedCount  int       `json:"completedCount"`
	StartedAt       time.Time `json:"startedAt"`
}

// Stats returns a point-in-time snapshot of the store.
func (s *Store) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		LastCompletedID: s.lastID,
		CompletedCount:  len(s.completed) + len(s.legacy),
		StartedAt:       s.startedAt,
	}
}
