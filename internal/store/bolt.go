package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boltdb/bolt"

	"github.com/agentworkforce/txnsync/internal/ledger"
)

var (
	boltTransactionsBucket = []byte("transactions")
	// keys are "<created>|<id>" in the fixed-width timestamp layout, so byte
	// order is time order.
	boltCreatedIndexBucket = []byte("transactions_by_created")
)

type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: bolt path is required", ErrInvalidDSN)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrapErr("bolt", "open", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, wrapErr("bolt", "open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{boltTransactionsBucket, boltCreatedIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, wrapErr("bolt", "open", err)
	}
	return &BoltStore{db: db}, nil
}

func boltIndexKey(created time.Time, id string) []byte {
	return []byte(ledger.FormatTimestamp(created) + "|" + id)
}

func (s *BoltStore) Upsert(ctx context.Context, records []ledger.Transaction) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr("bolt", "upsert", err)
	}
	if err := validateBatch(records); err != nil {
		return 0, wrapErr("bolt", "upsert", err)
	}
	inserted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		primary := tx.Bucket(boltTransactionsBucket)
		index := tx.Bucket(boltCreatedIndexBucket)
		for _, record := range uniqueByID(records) {
			key := []byte(record.ID)
			if primary.Get(key) != nil {
				continue
			}
			record.Created = ledger.Truncate(record.Created)
			payload, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("encode %s: %w", record.ID, err)
			}
			if err := primary.Put(key, payload); err != nil {
				return err
			}
			if err := index.Put(boltIndexKey(record.Created, record.ID), key); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, wrapErr("bolt", "upsert", err)
	}
	return inserted, nil
}

func (s *BoltStore) Watermark(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, wrapErr("bolt", "watermark", err)
	}
	var (
		latest time.Time
		found  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(boltCreatedIndexBucket).Cursor().Last()
		if k == nil {
			return nil
		}
		created, _, ok := strings.Cut(string(k), "|")
		if !ok {
			return fmt.Errorf("malformed index key %q", k)
		}
		ts, err := ledger.ParseTimestamp(created)
		if err != nil {
			return err
		}
		latest, found = ts, true
		return nil
	})
	if err != nil {
		return time.Time{}, false, wrapErr("bolt", "watermark", err)
	}
	return latest, found, nil
}

func (s *BoltStore) QueryByDateRange(ctx context.Context, start, end time.Time) ([]ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("bolt", "query", err)
	}
	if err := validateRange(start, end); err != nil {
		return nil, wrapErr("bolt", "query", err)
	}
	lower := []byte(ledger.FormatTimestamp(start))
	upper := []byte(ledger.FormatTimestamp(end))
	out := []ledger.Transaction{}
	err := s.db.View(func(tx *bolt.Tx) error {
		primary := tx.Bucket(boltTransactionsBucket)
		c := tx.Bucket(boltCreatedIndexBucket).Cursor()
		for k, id := c.Seek(lower); k != nil && bytes.Compare(k, upper) < 0; k, id = c.Next() {
			payload := primary.Get(id)
			if payload == nil {
				return fmt.Errorf("index entry %q points at missing record", k)
			}
			var record ledger.Transaction
			if err := json.Unmarshal(payload, &record); err != nil {
				return fmt.Errorf("decode %s: %w", id, err)
			}
			out = append(out, record)
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("bolt", "query", err)
	}
	return out, nil
}

func (s *BoltStore) HasAnyEntries(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrapErr("bolt", "has entries", err)
	}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(boltTransactionsBucket).Cursor().First()
		found = k != nil
		return nil
	})
	if err != nil {
		return false, wrapErr("bolt", "has entries", err)
	}
	return found, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
