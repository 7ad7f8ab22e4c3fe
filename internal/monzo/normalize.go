package monzo

import (
	"strings"

	"github.com/agentworkforce/txnsync/internal/ledger"
)

// Normalize flattens one raw transaction. The boolean is false when the
// record must be dropped: zero-amount entries are card checks, not spending.
func Normalize(raw RawTransaction) (ledger.Transaction, bool) {
	if raw.Amount == 0 {
		return ledger.Transaction{}, false
	}
	record := ledger.Transaction{
		ID:          raw.ID,
		Created:     ledger.Truncate(raw.Created),
		Amount:      raw.Amount,
		Description: raw.Description,
	}
	merchant := raw.Merchant
	if merchant == nil {
		return record, true
	}
	record.MerchantName = optional(merchant.Name)
	record.Category = optional(merchant.Category)
	record.Tags = merchant.Tags()
	record.Address = optional(merchant.Address.FormattedText())
	record.Website = optional(merchant.Metadata.WebsiteURL())
	return record, true
}

// NormalizePage applies Normalize to every record of a page, keeping order.
func NormalizePage(raw []RawTransaction) ([]ledger.Transaction, int) {
	kept := make([]ledger.Transaction, 0, len(raw))
	dropped := 0
	for _, item := range raw {
		record, ok := Normalize(item)
		if !ok {
			dropped++
			continue
		}
		kept = append(kept, record)
	}
	return kept, dropped
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
