package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentworkforce/txnsync/internal/ledger"
)

// MemoryStore keeps records in a map. FileStore reuses it with a commit hook
// that persists the next state before it becomes visible.
type MemoryStore struct {
	backend string
	mu      sync.RWMutex
	records map[string]ledger.Transaction
	commit  func(next map[string]ledger.Transaction) error
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		backend: "memory",
		records: map[string]ledger.Transaction{},
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, records []ledger.Transaction) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr(s.backend, "upsert", err)
	}
	if err := validateBatch(records); err != nil {
		return 0, wrapErr(s.backend, "upsert", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, wrapErr(s.backend, "upsert", ErrClosed)
	}

	fresh := make([]ledger.Transaction, 0, len(records))
	for _, record := range uniqueByID(records) {
		if _, exists := s.records[record.ID]; exists {
			continue
		}
		fresh = append(fresh, record.Clone())
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	next := s.records
	if s.commit != nil {
		next = maps.Clone(s.records)
	}
	for _, record := range fresh {
		next[record.ID] = record
	}
	if s.commit != nil {
		if err := s.commit(next); err != nil {
			return 0, wrapErr(s.backend, "upsert", err)
		}
		s.records = next
	}
	return len(fresh), nil
}

func (s *MemoryStore) Watermark(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, wrapErr(s.backend, "watermark", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, false, wrapErr(s.backend, "watermark", ErrClosed)
	}
	var latest time.Time
	found := false
	for _, record := range s.records {
		if !found || record.Created.After(latest) {
			latest = record.Created
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) QueryByDateRange(ctx context.Context, start, end time.Time) ([]ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(s.backend, "query", err)
	}
	if err := validateRange(start, end); err != nil {
		return nil, wrapErr(s.backend, "query", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapErr(s.backend, "query", ErrClosed)
	}
	out := []ledger.Transaction{}
	for _, record := range s.records {
		if record.Created.Before(start) || !record.Created.Before(end) {
			continue
		}
		out = append(out, record.Clone())
	}
	ledger.SortByCreated(out)
	return out, nil
}

func (s *MemoryStore) HasAnyEntries(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrapErr(s.backend, "has entries", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, wrapErr(s.backend, "has entries", ErrClosed)
	}
	return len(s.records) > 0, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fileSnapshot struct {
	Transactions []ledger.Transaction `json:"transactions"`
}

// NewFileStore opens (or creates on first write) a JSON document holding every
// record. Each Upsert rewrites the document atomically.
func NewFileStore(path string) (*MemoryStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file path is required", ErrInvalidDSN)
	}
	s := NewMemoryStore()
	s.backend = "file"
	payload, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, wrapErr(s.backend, "open", err)
	case len(payload) > 0:
		var snapshot fileSnapshot
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			return nil, wrapErr(s.backend, "open", fmt.Errorf("decode %s: %w", path, err))
		}
		for _, record := range snapshot.Transactions {
			s.records[record.ID] = record
		}
	}
	s.commit = func(next map[string]ledger.Transaction) error {
		snapshot := fileSnapshot{Transactions: make([]ledger.Transaction, 0, len(next))}
		for _, record := range next {
			snapshot.Transactions = append(snapshot.Transactions, record)
		}
		ledger.SortByCreated(snapshot.Transactions)
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return writeFileAtomic(path, data, 0o600)
	}
	return s, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
