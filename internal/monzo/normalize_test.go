package monzo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRaw(t *testing.T, payload string) RawTransaction {
	t.Helper()
	var raw RawTransaction
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	return raw
}

func TestNormalizeDropsZeroAmount(t *testing.T) {
	raw := decodeRaw(t, `{"id":"tx_check","created":"2023-02-01T09:00:00Z","amount":0,"description":"Card check",
		"merchant":{"name":"Amazon"}}`)
	_, ok := Normalize(raw)
	assert.False(t, ok)
}

func TestNormalizeWithoutMerchantLeavesFieldsNull(t *testing.T) {
	for name, payload := range map[string]string{
		"absent":     `{"id":"tx_1","created":"2023-02-01T09:00:00Z","amount":2500,"description":"From Alex"}`,
		"null":       `{"id":"tx_1","created":"2023-02-01T09:00:00Z","amount":2500,"description":"From Alex","merchant":null}`,
		"unexpanded": `{"id":"tx_1","created":"2023-02-01T09:00:00Z","amount":2500,"description":"From Alex","merchant":"merch_123"}`,
	} {
		t.Run(name, func(t *testing.T) {
			record, ok := Normalize(decodeRaw(t, payload))
			require.True(t, ok)
			assert.Equal(t, "tx_1", record.ID)
			assert.Equal(t, int64(2500), record.Amount)
			assert.Equal(t, "From Alex", record.Description)
			assert.Nil(t, record.MerchantName)
			assert.Nil(t, record.Category)
			assert.Nil(t, record.Tags)
			assert.Nil(t, record.Address)
			assert.Nil(t, record.Website)
		})
	}
}

func TestNormalizeFlattensMerchant(t *testing.T) {
	raw := decodeRaw(t, `{"id":"tx_2","created":"2023-02-03T10:00:00.123456Z","amount":-450,"description":"PRET A MANGER",
		"merchant":{"name":"Pret A Manger","category":"eating_out","suggested_tags":["#lunch"],
		"address":{"formatted":"1 Strand\nLondon WC2N 5HR"},"metadata":{"website":"https://pret.co.uk"}}}`)

	record, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 2, 3, 10, 0, 0, 123456000, time.UTC), record.Created)
	require.NotNil(t, record.MerchantName)
	assert.Equal(t, "Pret A Manger", *record.MerchantName)
	require.NotNil(t, record.Category)
	assert.Equal(t, "eating_out", *record.Category)
	assert.Equal(t, []string{"#lunch"}, record.Tags)
	require.NotNil(t, record.Address)
	assert.Equal(t, "1 Strand\nLondon WC2N 5HR", *record.Address)
	require.NotNil(t, record.Website)
	assert.Equal(t, "https://pret.co.uk", *record.Website)
}

func TestNormalizeMerchantWithoutAddressOrMetadata(t *testing.T) {
	raw := decodeRaw(t, `{"id":"tx_3","created":"2023-02-03T10:00:00Z","amount":-999,"description":"NETFLIX",
		"merchant":{"name":"Netflix","category":"entertainment"}}`)

	record, ok := Normalize(raw)
	require.True(t, ok)
	require.NotNil(t, record.MerchantName)
	assert.Equal(t, "Netflix", *record.MerchantName)
	assert.Nil(t, record.Address)
	assert.Nil(t, record.Website)
	assert.Nil(t, record.Tags)
}

func TestNormalizeTagsFallBackToMetadata(t *testing.T) {
	raw := decodeRaw(t, `{"id":"tx_4","created":"2023-02-03T10:00:00Z","amount":-300,"description":"CAFE",
		"merchant":{"name":"Cafe","metadata":{"suggested_tags":"#coffee  #breakfast","website":""}}}`)

	record, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, []string{"#coffee", "#breakfast"}, record.Tags)
	assert.Nil(t, record.Website)
	assert.Nil(t, record.Category)
}

func TestNormalizePageKeepsOrderAndCountsDrops(t *testing.T) {
	base := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	page := []RawTransaction{
		{ID: "tx_a", Created: base, Amount: -100},
		{ID: "tx_b", Created: base.Add(time.Minute), Amount: 0},
		{ID: "tx_c", Created: base.Add(2 * time.Minute), Amount: 200},
	}
	kept, dropped := NormalizePage(page)
	assert.Equal(t, 1, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, "tx_a", kept[0].ID)
	assert.Equal(t, "tx_c", kept[1].ID)
}

func TestRawTransactionMarshalRoundTrip(t *testing.T) {
	original := RawTransaction{
		ID:          "tx_5",
		Created:     time.Date(2023, 2, 3, 10, 0, 0, 0, time.UTC),
		Amount:      -120,
		Description: "TFL",
		Merchant:    &Merchant{Name: "TfL", Address: &Address{Formatted: "London"}},
	}
	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded RawTransaction
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.NotNil(t, decoded.Merchant)
	assert.Equal(t, "TfL", decoded.Merchant.Name)
	assert.Equal(t, "London", decoded.Merchant.Address.FormattedText())
}
