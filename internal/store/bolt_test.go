package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/txnsync/internal/ledger"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	st, err := NewBoltStore(filepath.Join(t.TempDir(), "txnsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestBoltStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return newTestBoltStore(t)
	})
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txnsync.db")
	ctx := context.Background()

	first, err := NewBoltStore(path)
	require.NoError(t, err)
	_, err = first.Upsert(ctx, sampleRecords())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewBoltStore(path)
	require.NoError(t, err)
	defer second.Close()

	inserted, err := second.Upsert(ctx, sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	latest, found, err := second.Watermark(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2023-02-27T07:45:12.500000Z", ledger.FormatTimestamp(latest))
}

func TestBoltStoreOrdersSameInstantByID(t *testing.T) {
	st := newTestBoltStore(t)
	ctx := context.Background()
	at := time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := st.Upsert(ctx, []ledger.Transaction{
		{ID: "tx_b", Created: at, Amount: 1},
		{ID: "tx_a", Created: at, Amount: 2},
	})
	require.NoError(t, err)

	records, err := st.QueryByDateRange(ctx, at, at.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "tx_a", records[0].ID)
	assert.Equal(t, "tx_b", records[1].ID)
}
