package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HistoryEntry is one journaled ledger change.
type HistoryEntry struct {
	EventID    uuid.UUID       `json:"event_id"`
	InstanceID string          `json:"instance_id"`
	Sequence   int64           `json:"sequence"`
	Kind       string          `json:"kind"`
	Source     string          `json:"source,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Balance    decimal.Decimal `json:"balance"`
	DailyGains decimal.Decimal `json:"daily_gains"`
	DeltaID    string          `json:"delta_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// HistoryPage is a page of history, newest first. NextBefore is the cursor
// for the following page; nil on the last page.
type HistoryPage struct {
	UserID     string         `json:"user_id"`
	Entries    []HistoryEntry `json:"entries"`
	NextBefore *time.Time     `json:"next_before,omitempty"`
}

// DailyTotal sums the credited deltas of one reference day.
type DailyTotal struct {
	Date     string          `json:"date"`
	Credited decimal.Decimal `json:"credited"`
	Sessions int64           `json:"sessions"`
}
