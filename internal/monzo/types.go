package monzo

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

type Account struct {
	ID          string    `json:"id"`
	Created     time.Time `json:"created"`
	Description string    `json:"description,omitempty"`
	Closed      bool      `json:"closed,omitempty"`
}

type AccountList struct {
	Accounts []Account `json:"accounts"`
}

// TransactionsQuery is one request window against the transactions
// endpoint.
type TransactionsQuery struct {
	AccountID string
	Since     time.Time
	Before    time.Time
	Limit     int
}

// TransactionsPage holds the raw records of one response, in the order the
// API returned them.
type TransactionsPage struct {
	Transactions []RawTransaction `json:"transactions"`
}

// RawTransaction is a transaction as the API sends it. Merchant is nil when
// the payload has no merchant object, including when the API returned only
// the merchant id instead of the expanded object.
type RawTransaction struct {
	ID          string    `json:"id"`
	Created     time.Time `json:"created"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Merchant    *Merchant `json:"-"`
}

func (r *RawTransaction) UnmarshalJSON(data []byte) error {
	type plain RawTransaction
	aux := struct {
		*plain
		Merchant json.RawMessage `json:"merchant"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Merchant = nil
	merchant := bytes.TrimSpace(aux.Merchant)
	if len(merchant) == 0 || merchant[0] != '{' {
		return nil
	}
	var m Merchant
	if err := json.Unmarshal(merchant, &m); err != nil {
		return err
	}
	r.Merchant = &m
	return nil
}

func (r RawTransaction) MarshalJSON() ([]byte, error) {
	type plain RawTransaction
	return json.Marshal(struct {
		plain
		Merchant *Merchant `json:"merchant"`
	}{plain: plain(r), Merchant: r.Merchant})
}

type Merchant struct {
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	SuggestedTags Tags      `json:"suggested_tags,omitempty"`
	Address       *Address  `json:"address,omitempty"`
	Metadata      *Metadata `json:"metadata,omitempty"`
}

type Address struct {
	Formatted string `json:"formatted"`
	City      string `json:"city,omitempty"`
	Postcode  string `json:"postcode,omitempty"`
}

type Metadata struct {
	Website       string `json:"website,omitempty"`
	SuggestedTags Tags   `json:"suggested_tags,omitempty"`
}

// Tags accepts either a JSON list of strings or a single whitespace
// separated string such as "#coffee #breakfast".
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Tags(strings.Fields(s))
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*t = Tags(list)
	return nil
}

// Tags returns the merchant's suggested tags, falling back to the ones
// carried in metadata. It is safe to call on a nil merchant.
func (m *Merchant) Tags() []string {
	if m == nil {
		return nil
	}
	tags := m.SuggestedTags
	if len(tags) == 0 && m.Metadata != nil {
		tags = m.Metadata.SuggestedTags
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (a *Address) FormattedText() string {
	if a == nil {
		return ""
	}
	return a.Formatted
}

func (m *Metadata) WebsiteURL() string {
	if m == nil {
		return ""
	}
	return m.Website
}
