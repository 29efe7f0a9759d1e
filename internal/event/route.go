package event

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
)

// Target is the ledger surface the router drives.
type Target interface {
	UserID() string
	ApplyDeltaOnce(id string, amount decimal.Decimal) (decimal.Decimal, error)
	ApplyAbsolute(value decimal.Decimal, source ledger.Source) (decimal.Decimal, error)
	SetDailyGains(value decimal.Decimal) error
	Reset(reason string) error
}

// Route binds the four event types to the ledger. Events addressed to a
// different user than the bound one are dropped. Returns a function that
// removes the bindings.
func Route(bus *Bus, target Target, logger zerolog.Logger, metrics *observability.Metrics) (unroute func()) {
	handle := func(e Event) {
		bound := target.UserID()
		if bound == "" || e.TargetUser() != bound {
			metrics.BusDrop(e.EventType().String(), "other_user")
			logger.Debug().
				Str("event_type", e.EventType().String()).
				Str("target_user", e.TargetUser()).
				Str("bound_user", bound).
				Msg("event for another user dropped")
			return
		}

		var err error
		switch ev := e.(type) {
		case *BalanceDelta:
			_, err = target.ApplyDeltaOnce(ev.ID, ev.Amount)
		case *BalanceAbsolute:
			_, err = target.ApplyAbsolute(ev.Value, ev.Source)
		case *DailyGainsUpdate:
			err = target.SetDailyGains(ev.Value)
		case *Reset:
			err = target.Reset(ev.Reason)
		default:
			metrics.BusDrop(e.EventType().String(), "unhandled")
			return
		}
		if err != nil {
			logEvent := logger.Warn()
			if IsRejection(err) {
				logEvent = logger.Debug()
			}
			logEvent.Err(err).Str("event_type", e.EventType().String()).Msg("event not applied")
		}
	}

	unsubs := make([]func(), 0, len(AllEventTypes))
	for _, t := range AllEventTypes {
		unsubs = append(unsubs, bus.Subscribe(t, handle))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// IsRejection reports whether err is an expected ledger refusal (limit,
// duplicate, stale) rather than a fault.
func IsRejection(err error) bool {
	return errors.Is(err, ledger.ErrLimitReached) ||
		errors.Is(err, ledger.ErrDuplicate) ||
		errors.Is(err, ledger.ErrStale)
}
