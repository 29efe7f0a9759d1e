package query

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
)

// BalanceResponse is what display clients render.
type BalanceResponse struct {
	UserID          string          `json:"user_id"`
	Balance         decimal.Decimal `json:"balance"`
	HighestObserved decimal.Decimal `json:"highest_observed"`
	DailyGains      decimal.Decimal `json:"daily_gains"`
	DailyCap        decimal.Decimal `json:"daily_cap"`
	Remaining       decimal.Decimal `json:"remaining"`
	Tier            string          `json:"tier"`
	WindowDate      string          `json:"window_date"`
	LastSyncedAt    *time.Time      `json:"last_synced_at,omitempty"`
	OverridePending bool            `json:"override_pending"`
	Ready           bool            `json:"ready"`

	// Sequence of the last commit reflected here.
	Sequence int64 `json:"sequence"`
}

// BalanceFromState renders a ledger snapshot. Balance is the displayed
// value, never below the watermark.
func BalanceFromState(s ledger.State) BalanceResponse {
	resp := BalanceResponse{
		UserID:          s.UserID,
		Balance:         s.Displayed(),
		HighestObserved: s.HighestObserved,
		DailyGains:      s.DailyGains,
		DailyCap:        s.DailyCap,
		Remaining:       s.Remaining(),
		Tier:            string(s.Tier),
		WindowDate:      s.WindowDate.String(),
		OverridePending: s.OverridePending,
		Ready:           s.Ready,
		Sequence:        s.Sequence,
	}
	if !s.LastSyncedAt.IsZero() {
		t := s.LastSyncedAt
		resp.LastSyncedAt = &t
	}
	return resp
}
