package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/agentworkforce/txnsync/internal/ledger"
)

const (
	postgresTableName        = "transactions"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type PostgresStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", ErrInvalidDSN)
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: postgresTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, records []ledger.Transaction) (int, error) {
	if err := validateBatch(records); err != nil {
		return 0, wrapErr("postgres", "upsert", err)
	}
	if err := s.ensureReady(ctx); err != nil {
		return 0, wrapErr("postgres", "upsert", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("postgres", "upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, created, amount, description, merchant_name, category, tags, address, website)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`, postgresQuoteIdentifier(s.tableName)))
	if err != nil {
		return 0, wrapErr("postgres", "upsert", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, record := range uniqueByID(records) {
		tags, err := ledger.EncodeTags(record.Tags)
		if err != nil {
			return 0, wrapErr("postgres", "upsert", err)
		}
		res, err := stmt.ExecContext(ctx,
			record.ID,
			ledger.Truncate(record.Created),
			record.Amount,
			record.Description,
			record.MerchantName,
			record.Category,
			tags,
			record.Address,
			record.Website,
		)
		if err != nil {
			return 0, wrapErr("postgres", "upsert", fmt.Errorf("insert %s: %w", record.ID, err))
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, wrapErr("postgres", "upsert", err)
		}
		inserted += int(affected)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapErr("postgres", "upsert", err)
	}
	return inserted, nil
}

func (s *PostgresStore) Watermark(ctx context.Context) (time.Time, bool, error) {
	if err := s.ensureReady(ctx); err != nil {
		return time.Time{}, false, wrapErr("postgres", "watermark", err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var latest sql.NullTime
	query := fmt.Sprintf("SELECT MAX(created) FROM %s", postgresQuoteIdentifier(s.tableName))
	if err := s.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return time.Time{}, false, wrapErr("postgres", "watermark", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

func (s *PostgresStore) QueryByDateRange(ctx context.Context, start, end time.Time) ([]ledger.Transaction, error) {
	if err := validateRange(start, end); err != nil {
		return nil, wrapErr("postgres", "query", err)
	}
	if err := s.ensureReady(ctx); err != nil {
		return nil, wrapErr("postgres", "query", err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, created, amount, description, merchant_name, category, tags, address, website
		FROM %s
		WHERE created >= $1 AND created < $2
		ORDER BY created, id`, postgresQuoteIdentifier(s.tableName))
	rows, err := s.db.QueryContext(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, wrapErr("postgres", "query", err)
	}
	defer rows.Close()

	out := []ledger.Transaction{}
	for rows.Next() {
		var (
			record                                  ledger.Transaction
			merchant, category, tags, address, site sql.NullString
		)
		if err := rows.Scan(&record.ID, &record.Created, &record.Amount, &record.Description,
			&merchant, &category, &tags, &address, &site); err != nil {
			return nil, wrapErr("postgres", "query", err)
		}
		record.Created = record.Created.UTC()
		record.MerchantName = nullString(merchant)
		record.Category = nullString(category)
		record.Address = nullString(address)
		record.Website = nullString(site)
		if record.Tags, err = ledger.DecodeTags(nullString(tags)); err != nil {
			return nil, wrapErr("postgres", "query", fmt.Errorf("record %s: %w", record.ID, err))
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("postgres", "query", err)
	}
	return out, nil
}

func (s *PostgresStore) HasAnyEntries(ctx context.Context) (bool, error) {
	if err := s.ensureReady(ctx); err != nil {
		return false, wrapErr("postgres", "has entries", err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var exists bool
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s)", postgresQuoteIdentifier(s.tableName))
	if err := s.db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		return false, wrapErr("postgres", "has entries", err)
	}
	return exists, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()

		table := postgresQuoteIdentifier(s.tableName)
		statements := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					id TEXT PRIMARY KEY,
					created TIMESTAMPTZ NOT NULL,
					amount BIGINT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					merchant_name TEXT,
					category TEXT,
					tags TEXT,
					address TEXT,
					website TEXT
				)`, table),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (created)",
				postgresQuoteIdentifier(s.tableName+"_created_idx"), table),
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func nullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
