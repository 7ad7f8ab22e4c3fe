// Package store persists normalized transactions with insert-or-ignore
// semantics and answers the watermark and date-range reads.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentworkforce/txnsync/internal/ledger"
)

var (
	// ErrStorage matches every StorageError.
	ErrStorage    = errors.New("storage failure")
	ErrClosed     = errors.New("store is closed")
	ErrInvalidDSN = errors.New("invalid store dsn")
)

// Store is the persistence contract shared by every backend.
//
// Upsert inserts the records whose id is not stored yet and reports how many
// were new. Existing ids are left untouched. A failed Upsert stores nothing
// from the batch on backends that support transactions.
//
// Watermark returns the latest stored created timestamp; the boolean is
// false when the store is empty.
//
// QueryByDateRange returns records with start <= created < end, ordered by
// created then id.
type Store interface {
	Upsert(ctx context.Context, records []ledger.Transaction) (int, error)
	Watermark(ctx context.Context) (time.Time, bool, error)
	QueryByDateRange(ctx context.Context, start, end time.Time) ([]ledger.Transaction, error)
	HasAnyEntries(ctx context.Context) (bool, error)
	Close() error
}

type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrapErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &StorageError{Backend: backend, Op: op, Err: err}
}

// uniqueByID drops repeated ids inside one batch, keeping the first.
func uniqueByID(records []ledger.Transaction) []ledger.Transaction {
	seen := make(map[string]struct{}, len(records))
	out := make([]ledger.Transaction, 0, len(records))
	for _, record := range records {
		if _, ok := seen[record.ID]; ok {
			continue
		}
		seen[record.ID] = struct{}{}
		out = append(out, record)
	}
	return out
}

func validateBatch(records []ledger.Transaction) error {
	for _, record := range records {
		if record.ID == "" {
			return errors.New("record without id")
		}
		if record.Created.IsZero() {
			return fmt.Errorf("record %s without created timestamp", record.ID)
		}
	}
	return nil
}

func validateRange(start, end time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("range end %s is not after start %s", ledger.FormatTimestamp(end), ledger.FormatTimestamp(start))
	}
	return nil
}
