package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/tier"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

// Source identifies where an absolute balance candidate came from.
type Source uint8

const (
	SourceRemote Source = iota + 1
	SourceForcedSync
	SourceStorage
)

func (s Source) String() string {
	switch s {
	case SourceRemote:
		return "remote"
	case SourceForcedSync:
		return "forced_sync"
	case SourceStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// ParseSource is the inverse of Source.String.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(s) {
	case "remote":
		return SourceRemote, nil
	case "forced_sync":
		return SourceForcedSync, nil
	case "storage":
		return SourceStorage, nil
	default:
		return 0, fmt.Errorf("unknown source %q", s)
	}
}

// ChangeKind names the operation that produced a committed change.
type ChangeKind uint8

const (
	ChangeBind ChangeKind = iota + 1
	ChangeDelta
	ChangeAbsolute
	ChangeDailyGains
	ChangeRollover
	ChangeReset
	ChangeCorrect
	ChangeTier
	ChangeOverrideAck
	ChangeReady
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeBind:
		return "bind"
	case ChangeDelta:
		return "delta"
	case ChangeAbsolute:
		return "absolute"
	case ChangeDailyGains:
		return "daily_gains"
	case ChangeRollover:
		return "rollover"
	case ChangeReset:
		return "reset"
	case ChangeCorrect:
		return "correct"
	case ChangeTier:
		return "tier"
	case ChangeOverrideAck:
		return "override_ack"
	case ChangeReady:
		return "ready"
	default:
		return "unknown"
	}
}

// State is a copy of the ledger state at one commit.
type State struct {
	UserID          string
	Session         uint64
	Balance         decimal.Decimal
	HighestObserved decimal.Decimal
	DailyGains      decimal.Decimal
	DailyCap        decimal.Decimal
	WindowDate      window.Date
	Tier            tier.Tier
	LastSyncedAt    time.Time
	OverridePending bool
	OverrideEpoch   uint64
	Ready           bool
	Sequence        int64
}

// Bound reports whether a user is attached.
func (s State) Bound() bool { return s.UserID != "" }

// Displayed is the value shown to the user: max(current, highest).
func (s State) Displayed() decimal.Decimal {
	return decimal.Max(s.Balance, s.HighestObserved)
}

// Remaining is how much can still be credited in the current window.
func (s State) Remaining() decimal.Decimal {
	r := s.DailyCap.Sub(s.DailyGains)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Change is delivered to subscribers after every commit. Seq increases
// strictly; a subscriber that sees a lower Seq than one it already handled
// can discard it.
type Change struct {
	Seq     int64
	Kind    ChangeKind
	Source  Source
	Amount  decimal.Decimal
	DeltaID string
	Reason  string
	At      time.Time
	State   State
}

// AmountFromFloat converts f to a decimal, rejecting NaN and infinities.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, newError(KindInvalidAmount, "amount", fmt.Errorf("non-finite value %v", f))
	}
	return decimal.NewFromFloat(f), nil
}

// ParseAmount parses a decimal string.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, newError(KindInvalidAmount, "amount", err)
	}
	return d, nil
}
