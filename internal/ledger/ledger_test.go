package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimestampUsesMicroseconds(t *testing.T) {
	ts := time.Date(2023, 6, 1, 12, 0, 1, 0, time.UTC)
	assert.Equal(t, "2023-06-01T12:00:01.000000Z", FormatTimestamp(ts))

	local := time.Date(2023, 6, 1, 13, 0, 1, 123456789, time.FixedZone("BST", 3600))
	assert.Equal(t, "2023-06-01T12:00:01.123456Z", FormatTimestamp(local))
}

func TestParseTimestampAcceptsUpstreamForms(t *testing.T) {
	for _, value := range []string{
		"2023-02-10T08:15:30.123456Z",
		"2023-02-10T08:15:30.123456+00:00",
		"2023-02-10T09:15:30.123456+01:00",
	} {
		ts, err := ParseTimestamp(value)
		require.NoError(t, err, value)
		assert.Equal(t, time.Date(2023, 2, 10, 8, 15, 30, 123456000, time.UTC), ts, value)
	}

	ts, err := ParseTimestamp("2023-02-10T08:15:30Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 2, 10, 8, 15, 30, 0, time.UTC), ts)

	_, err = ParseTimestamp("10/02/2023")
	assert.Error(t, err)
}

func TestTagsRoundTripKeepsNull(t *testing.T) {
	encoded, err := EncodeTags(nil)
	require.NoError(t, err)
	assert.Nil(t, encoded)

	decoded, err := DecodeTags(nil)
	require.NoError(t, err)
	assert.Nil(t, decoded)

	encoded, err = EncodeTags([]string{"#coffee", "#food"})
	require.NoError(t, err)
	require.NotNil(t, encoded)
	assert.Equal(t, `["#coffee","#food"]`, *encoded)

	decoded, err = DecodeTags(encoded)
	require.NoError(t, err)
	assert.Equal(t, []string{"#coffee", "#food"}, decoded)
}

func TestSortByCreatedBreaksTiesByID(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []Transaction{
		{ID: "tx_c", Created: base.Add(time.Hour)},
		{ID: "tx_b", Created: base},
		{ID: "tx_a", Created: base},
	}
	SortByCreated(records)
	assert.Equal(t, "tx_a", records[0].ID)
	assert.Equal(t, "tx_b", records[1].ID)
	assert.Equal(t, "tx_c", records[2].ID)
}

func TestCloneIsDeep(t *testing.T) {
	name := "Pret"
	original := Transaction{ID: "tx_1", MerchantName: &name, Tags: []string{"#lunch"}}
	copied := original.Clone()
	*copied.MerchantName = "Leon"
	copied.Tags[0] = "#dinner"

	assert.Equal(t, "Pret", *original.MerchantName)
	assert.Equal(t, "#lunch", original.Tags[0])
}

func TestFormatAmountAndSummary(t *testing.T) {
	assert.Equal(t, "-12.34", FormatAmount(-1234))
	assert.Equal(t, "0.05", FormatAmount(5))

	summary := Summarize([]Transaction{
		{Amount: 250000},
		{Amount: -1234},
		{Amount: -66},
	})
	assert.Equal(t, 3, summary.Count)
	assert.Equal(t, "2500.00", summary.In.StringFixed(2))
	assert.Equal(t, "13.00", summary.Out.StringFixed(2))
	assert.Equal(t, "2487.00", summary.Net.StringFixed(2))
}
