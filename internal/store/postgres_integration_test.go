package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationStoreContract(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	runStoreContract(t, func(t *testing.T) Store {
		st, err := NewPostgresStore(dsn)
		require.NoError(t, err)
		st.tableName = postgresIntegrationTableName("txnsync_it")
		t.Cleanup(func() {
			_ = st.Close()
			postgresIntegrationDropTable(t, dsn, st.tableName)
		})
		return st
	})
}

func TestPostgresOpenFailureIsStorageError(t *testing.T) {
	st, err := NewPostgresStore("postgres://nobody@127.0.0.1:1/none?sslmode=disable")
	require.NoError(t, err)
	st.openDB = func(driverName, dsn string) (*sql.DB, error) {
		return nil, errors.New("driver unavailable")
	}

	_, err = st.Upsert(context.Background(), sampleRecords())
	require.ErrorIs(t, err, ErrStorage)
	_, _, err = st.Watermark(context.Background())
	require.ErrorIs(t, err, ErrStorage)
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TXNSYNC_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("set TXNSYNC_POSTGRES_TEST_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", postgresQuoteIdentifier(tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
