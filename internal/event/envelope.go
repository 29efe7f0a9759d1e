// Package event is the in-process bus that carries balance events from
// producers (sessions, sync, broadcast, user actions) into the ledger.
//
// The event set is closed: BalanceDelta, BalanceAbsolute, DailyGainsUpdate
// and Reset. The bus only routes; all merge logic lives in the ledger.
package event

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeBalanceDelta
	EventTypeBalanceAbsolute
	EventTypeDailyGainsUpdate
	EventTypeReset
)

// AllEventTypes lists every member of the closed set.
var AllEventTypes = []EventType{
	EventTypeBalanceDelta,
	EventTypeBalanceAbsolute,
	EventTypeDailyGainsUpdate,
	EventTypeReset,
}

// Event is implemented by the four payload types only.
type Event interface {
	// IdempotencyKey returns the stable dedup key, or "" if the event has none.
	IdempotencyKey() string

	// EventType returns the discriminator.
	EventType() EventType

	// TargetUser returns the userID the event is addressed to.
	TargetUser() string

	sealed()
}

func (et EventType) String() string {
	switch et {
	case EventTypeBalanceDelta:
		return "BalanceDelta"
	case EventTypeBalanceAbsolute:
		return "BalanceAbsolute"
	case EventTypeDailyGainsUpdate:
		return "DailyGainsUpdate"
	case EventTypeReset:
		return "Reset"
	default:
		return "Unknown"
	}
}
