package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

// capEpsilon absorbs rounding in caps loaded from configuration.
var capEpsilon = decimal.New(1, -9)

// InvariantValidator checks ledger state invariants.
type InvariantValidator struct {
	windows *window.Manager
}

func NewInvariantValidator(windows *window.Manager) *InvariantValidator {
	return &InvariantValidator{windows: windows}
}

// ValidateNonNegative checks balance, watermark and gains are >= 0.
func (v *InvariantValidator) ValidateNonNegative(s State) error {
	switch {
	case s.Balance.IsNegative():
		return fmt.Errorf("balance is negative: %s", s.Balance)
	case s.HighestObserved.IsNegative():
		return fmt.Errorf("highest observed balance is negative: %s", s.HighestObserved)
	case s.DailyGains.IsNegative():
		return fmt.Errorf("daily gains are negative: %s", s.DailyGains)
	}
	return nil
}

// ValidateWatermark checks highest <= current.
func (v *InvariantValidator) ValidateWatermark(s State) error {
	if s.HighestObserved.GreaterThan(s.Balance) {
		return fmt.Errorf("highest observed %s exceeds current balance %s", s.HighestObserved, s.Balance)
	}
	return nil
}

// ValidateDailyCap checks gains <= cap + epsilon.
func (v *InvariantValidator) ValidateDailyCap(s State) error {
	if s.DailyGains.GreaterThan(s.DailyCap.Add(capEpsilon)) {
		return fmt.Errorf("daily gains %s exceed cap %s for tier %s", s.DailyGains, s.DailyCap, s.Tier)
	}
	return nil
}

// ValidateWindow checks the state window is not in the future.
func (v *InvariantValidator) ValidateWindow(s State) error {
	if v.windows == nil || s.WindowDate.IsZero() {
		return nil
	}
	if today := v.windows.CurrentWindowDate(); today.Before(s.WindowDate) {
		return fmt.Errorf("window date %s is after today %s", s.WindowDate, today)
	}
	return nil
}

// ValidateAll runs every check and joins the failures.
func (v *InvariantValidator) ValidateAll(s State) error {
	return errors.Join(
		v.ValidateNonNegative(s),
		v.ValidateWatermark(s),
		v.ValidateDailyCap(s),
		v.ValidateWindow(s),
	)
}
