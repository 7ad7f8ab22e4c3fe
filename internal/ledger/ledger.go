// Package ledger defines the normalized transaction record shared by the
// transport, the stores and the read API.
package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the layout used on the wire and in storage: UTC with
// microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Transaction is the flat, durable form of one upstream transaction. The
// pointer and slice fields are nil when the upstream payload carried no
// merchant (or no metadata) for the record.
type Transaction struct {
	ID           string    `json:"id"`
	Created      time.Time `json:"created"`
	Amount       int64     `json:"amount"`
	Description  string    `json:"description"`
	MerchantName *string   `json:"merchantName"`
	Category     *string   `json:"category"`
	Tags         []string  `json:"tags"`
	Address      *string   `json:"address"`
	Website      *string   `json:"website"`
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the storage layout as well as any RFC 3339 value
// with or without fractional seconds.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(TimestampLayout, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return ts.UTC(), nil
}

// Truncate drops precision beyond what the storage layout keeps.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// EncodeTags serializes tags for column storage. A nil slice stays NULL.
func EncodeTags(tags []string) (*string, error) {
	if tags == nil {
		return nil, nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	encoded := string(raw)
	return &encoded, nil
}

func DecodeTags(encoded *string) ([]string, error) {
	if encoded == nil {
		return nil, nil
	}
	tags := []string{}
	if err := json.Unmarshal([]byte(*encoded), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

// SortByCreated orders records by creation time, then id.
func SortByCreated(records []Transaction) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Created.Equal(records[j].Created) {
			return records[i].ID < records[j].ID
		}
		return records[i].Created.Before(records[j].Created)
	})
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (t Transaction) Clone() Transaction {
	out := t
	out.MerchantName = cloneString(t.MerchantName)
	out.Category = cloneString(t.Category)
	out.Address = cloneString(t.Address)
	out.Website = cloneString(t.Website)
	if t.Tags != nil {
		out.Tags = append([]string{}, t.Tags...)
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Pounds converts a minor-unit amount into a decimal major-unit value.
func Pounds(pence int64) decimal.Decimal {
	return decimal.New(pence, -2)
}

// FormatAmount renders pence as a fixed two-place major-unit string.
func FormatAmount(pence int64) string {
	return Pounds(pence).StringFixed(2)
}

type Summary struct {
	Count int             `json:"count"`
	In    decimal.Decimal `json:"in"`
	Out   decimal.Decimal `json:"out"`
	Net   decimal.Decimal `json:"net"`
}

// Summarize totals incoming and outgoing amounts. Out is reported as a
// positive value.
func Summarize(records []Transaction) Summary {
	summary := Summary{In: decimal.Zero, Out: decimal.Zero, Net: decimal.Zero}
	for _, record := range records {
		amount := Pounds(record.Amount)
		summary.Count++
		summary.Net = summary.Net.Add(amount)
		if record.Amount > 0 {
			summary.In = summary.In.Add(amount)
		} else {
			summary.Out = summary.Out.Sub(amount)
		}
	}
	return summary
}
