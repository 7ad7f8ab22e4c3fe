package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/txnsync/internal/ledger"
)

func strPtr(s string) *string {
	return &s
}

func sampleRecords() []ledger.Transaction {
	return []ledger.Transaction{
		{
			ID:           "tx_feb_1",
			Created:      time.Date(2023, 2, 3, 10, 0, 0, 123456000, time.UTC),
			Amount:       -450,
			Description:  "PRET A MANGER",
			MerchantName: strPtr("Pret A Manger"),
			Category:     strPtr("eating_out"),
			Tags:         []string{"#lunch", "#coffee"},
			Address:      strPtr("1 Strand, London"),
			Website:      strPtr("https://pret.co.uk"),
		},
		{
			ID:          "tx_feb_2",
			Created:     time.Date(2023, 2, 14, 18, 30, 0, 0, time.UTC),
			Amount:      150000,
			Description: "Salary",
		},
		{
			ID:           "tx_feb_3",
			Created:      time.Date(2023, 2, 27, 7, 45, 12, 500000000, time.UTC),
			Amount:       -1299,
			Description:  "NETFLIX",
			MerchantName: strPtr("Netflix"),
			Category:     strPtr("entertainment"),
		},
	}
}

// runStoreContract exercises the behavior every backend shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("empty store", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		_, found, err := st.Watermark(ctx)
		require.NoError(t, err)
		assert.False(t, found)

		hasAny, err := st.HasAnyEntries(ctx)
		require.NoError(t, err)
		assert.False(t, hasAny)

		records, err := st.QueryByDateRange(ctx, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Now())
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("insert or ignore", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		records := sampleRecords()

		inserted, err := st.Upsert(ctx, records[:2])
		require.NoError(t, err)
		assert.Equal(t, 2, inserted)

		changed := records[0]
		changed.Amount = -1
		changed.Description = "overwritten"
		inserted, err = st.Upsert(ctx, []ledger.Transaction{changed, records[1], records[2], records[2]})
		require.NoError(t, err)
		assert.Equal(t, 1, inserted)

		all, err := st.QueryByDateRange(ctx, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, int64(-450), all[0].Amount)
		assert.Equal(t, "PRET A MANGER", all[0].Description)
	})

	t.Run("round trips nullable fields", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		records := sampleRecords()
		_, err := st.Upsert(ctx, records)
		require.NoError(t, err)

		all, err := st.QueryByDateRange(ctx, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, all, 3)
		for i := range records {
			assert.Equal(t, records[i].ID, all[i].ID)
			assert.True(t, records[i].Created.Equal(all[i].Created), "created %s", records[i].ID)
			assert.Equal(t, records[i].MerchantName, all[i].MerchantName)
			assert.Equal(t, records[i].Category, all[i].Category)
			assert.Equal(t, records[i].Tags, all[i].Tags)
			assert.Equal(t, records[i].Address, all[i].Address)
			assert.Equal(t, records[i].Website, all[i].Website)
		}
	})

	t.Run("watermark and range", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		records := sampleRecords()
		_, err := st.Upsert(ctx, []ledger.Transaction{records[2], records[0]})
		require.NoError(t, err)

		latest, found, err := st.Watermark(ctx)
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, latest.Equal(records[2].Created), "watermark %s", latest)

		_, err = st.Upsert(ctx, []ledger.Transaction{records[1]})
		require.NoError(t, err)
		latest, _, err = st.Watermark(ctx)
		require.NoError(t, err)
		assert.True(t, latest.Equal(records[2].Created), "watermark must not move backward")

		window, err := st.QueryByDateRange(ctx, records[1].Created, records[2].Created)
		require.NoError(t, err)
		require.Len(t, window, 1)
		assert.Equal(t, "tx_feb_2", window[0].ID)

		hasAny, err := st.HasAnyEntries(ctx)
		require.NoError(t, err)
		assert.True(t, hasAny)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		_, err := st.Upsert(ctx, []ledger.Transaction{{Created: time.Now()}})
		require.ErrorIs(t, err, ErrStorage)

		day := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
		_, err = st.QueryByDateRange(ctx, day, day)
		require.ErrorIs(t, err, ErrStorage)
	})
}
