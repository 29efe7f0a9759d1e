// Package remote is the boundary to the remote record of truth for user
// balances.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

var (
	// ErrNotFound is returned by ReadBalance when the user has no record yet.
	ErrNotFound = errors.New("remote balance record not found")

	// ErrVersionConflict is returned by WriteBalance when IfVersion does not
	// match the stored version.
	ErrVersionConflict = errors.New("remote balance record version conflict")
)

// AnyVersion makes WriteBalance unconditional.
const AnyVersion int64 = -1

// Record is the remote view of one user.
type Record struct {
	UserID     string
	Balance    decimal.Decimal
	DailyGains decimal.Decimal
	WindowDate window.Date
	Tier       string
	Version    int64
	UpdatedAt  time.Time
}

// Write is a balance update. IfVersion is the version the writer last read
// (0 when it read ErrNotFound), or AnyVersion.
type Write struct {
	Balance    decimal.Decimal
	DailyGains decimal.Decimal
	WindowDate window.Date
	IfVersion  int64
}

// Store reads and writes remote balance records.
type Store interface {
	ReadBalance(ctx context.Context, userID string) (Record, error)
	// WriteBalance returns the new version.
	WriteBalance(ctx context.Context, userID string, w Write) (int64, error)
}
