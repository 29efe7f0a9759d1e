package event

import (
	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
)

// BalanceDelta credits Amount (> 0). ID is producer-assigned and makes the
// credit idempotent.
type BalanceDelta struct {
	ID     string
	UserID string
	Amount decimal.Decimal
}

func (e *BalanceDelta) IdempotencyKey() string { return e.ID }
func (e *BalanceDelta) EventType() EventType   { return EventTypeBalanceDelta }
func (e *BalanceDelta) TargetUser() string     { return e.UserID }
func (e *BalanceDelta) sealed()                {}

// BalanceAbsolute is an observed absolute balance to max-merge.
type BalanceAbsolute struct {
	UserID string
	Value  decimal.Decimal
	Source ledger.Source
}

func (e *BalanceAbsolute) IdempotencyKey() string { return "" }
func (e *BalanceAbsolute) EventType() EventType   { return EventTypeBalanceAbsolute }
func (e *BalanceAbsolute) TargetUser() string     { return e.UserID }
func (e *BalanceAbsolute) sealed()                {}

// DailyGainsUpdate replaces the gains of the current window.
type DailyGainsUpdate struct {
	UserID string
	Value  decimal.Decimal
}

func (e *DailyGainsUpdate) IdempotencyKey() string { return "" }
func (e *DailyGainsUpdate) EventType() EventType   { return EventTypeDailyGainsUpdate }
func (e *DailyGainsUpdate) TargetUser() string     { return e.UserID }
func (e *DailyGainsUpdate) sealed()                {}

// Reset zeroes the balance (withdrawal).
type Reset struct {
	UserID string
	Reason string
}

func (e *Reset) IdempotencyKey() string { return "" }
func (e *Reset) EventType() EventType   { return EventTypeReset }
func (e *Reset) TargetUser() string     { return e.UserID }
func (e *Reset) sealed()                {}
