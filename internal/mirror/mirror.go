// Package mirror is the durable local cache of the last known balance and
// daily gains for each user. It survives restarts and is namespaced per user:
// every key is derived from the userID, so one user's writes are never read
// back under another userID.
package mirror

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

// Record is what the mirror remembers for one user.
type Record struct {
	Balance      decimal.Decimal
	DailyGains   decimal.Decimal
	WindowDate   window.Date
	LastSyncedAt time.Time
	Tier         string
	// OverridePending survives restarts so a reset or correction that the
	// remote store has not acknowledged yet is not undone by hydration.
	OverridePending bool
}

// Mirror is a best-effort key-value cache. Callers treat every error as
// non-fatal: the in-memory ledger stays authoritative for the session.
type Mirror interface {
	// Read returns the record for userID; found is false when nothing was
	// ever written for that user.
	Read(ctx context.Context, userID string) (rec Record, found bool, err error)
	Write(ctx context.Context, userID string, rec Record) error
	Clear(ctx context.Context, userID string) error
	Close() error
}

// KeyKind identifies one of the values stored per user.
type KeyKind uint8

const (
	KeyBalance KeyKind = iota
	KeyDailyGains
	KeyWindowDate
	KeyLastSyncedAt
	KeyTier
	KeyOverridePending
)

var allKinds = []KeyKind{KeyBalance, KeyDailyGains, KeyWindowDate, KeyLastSyncedAt, KeyTier, KeyOverridePending}

// Key returns the storage key for one value of userID.
func Key(userID string, kind KeyKind) string {
	return fmt.Sprintf("cashbot:%s:%s", userID, kind.name())
}

// Keys returns every storage key owned by userID.
func Keys(userID string) []string {
	keys := make([]string, 0, len(allKinds))
	for _, k := range allKinds {
		keys = append(keys, Key(userID, k))
	}
	return keys
}

func (k KeyKind) name() string {
	switch k {
	case KeyBalance:
		return "balance"
	case KeyDailyGains:
		return "daily_gains"
	case KeyWindowDate:
		return "window_date"
	case KeyLastSyncedAt:
		return "last_synced_at"
	case KeyTier:
		return "tier"
	case KeyOverridePending:
		return "override_pending"
	default:
		return "unknown"
	}
}

// encode flattens a record into key/value pairs.
func encode(userID string, rec Record) map[string]string {
	out := map[string]string{
		Key(userID, KeyBalance):         rec.Balance.String(),
		Key(userID, KeyDailyGains):      rec.DailyGains.String(),
		Key(userID, KeyWindowDate):      rec.WindowDate.String(),
		Key(userID, KeyOverridePending): strconv.FormatBool(rec.OverridePending),
	}
	if rec.Tier != "" {
		out[Key(userID, KeyTier)] = rec.Tier
	}
	if !rec.LastSyncedAt.IsZero() {
		out[Key(userID, KeyLastSyncedAt)] = rec.LastSyncedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// decode rebuilds a record from key/value pairs. found is false when the
// balance key is absent.
func decode(userID string, kv map[string]string) (Record, bool, error) {
	var rec Record

	raw, ok := kv[Key(userID, KeyBalance)]
	if !ok {
		return Record{}, false, nil
	}
	bal, err := decimal.NewFromString(raw)
	if err != nil {
		return Record{}, false, fmt.Errorf("decode balance %q: %w", raw, err)
	}
	rec.Balance = bal

	if raw, ok := kv[Key(userID, KeyDailyGains)]; ok && raw != "" {
		gains, err := decimal.NewFromString(raw)
		if err != nil {
			return Record{}, false, fmt.Errorf("decode daily gains %q: %w", raw, err)
		}
		rec.DailyGains = gains
	}

	if raw, ok := kv[Key(userID, KeyWindowDate)]; ok && raw != "" {
		d, err := window.ParseDate(raw)
		if err != nil {
			return Record{}, false, err
		}
		rec.WindowDate = d
	}

	if raw, ok := kv[Key(userID, KeyLastSyncedAt)]; ok && raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Record{}, false, fmt.Errorf("decode last synced at %q: %w", raw, err)
		}
		rec.LastSyncedAt = ts
	}

	rec.Tier = kv[Key(userID, KeyTier)]

	if raw, ok := kv[Key(userID, KeyOverridePending)]; ok && raw != "" {
		pending, err := strconv.ParseBool(raw)
		if err != nil {
			return Record{}, false, fmt.Errorf("decode override flag %q: %w", raw, err)
		}
		rec.OverridePending = pending
	}

	return rec, true, nil
}
