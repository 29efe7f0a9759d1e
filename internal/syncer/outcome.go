package syncer

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
)

// OutcomeKind is the result class of one sync attempt.
type OutcomeKind string

const (
	OutcomeApplied   OutcomeKind = "applied"
	OutcomePushed    OutcomeKind = "pushed"
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeThrottled OutcomeKind = "throttled"
	OutcomeCoalesced OutcomeKind = "coalesced"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeConflict  OutcomeKind = "conflict"
)

// Outcome describes one sync attempt.
type Outcome struct {
	Kind   OutcomeKind
	Reason ledger.FailureReason
	Err    error
	Local  decimal.Decimal
	Remote decimal.Decimal
}

// OK reports whether the attempt reached the remote store successfully.
func (o Outcome) OK() bool {
	switch o.Kind {
	case OutcomeApplied, OutcomePushed, OutcomeUnchanged:
		return true
	}
	return false
}

func failed(op string, err error) Outcome {
	reason := classify(err)
	return Outcome{Kind: OutcomeFailed, Reason: reason, Err: ledger.NewSyncError(op, reason, err)}
}

// classify maps a remote error onto the sync failure reasons.
func classify(err error) ledger.FailureReason {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ledger.ReasonTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ledger.ReasonTimeout
	case errors.As(err, &netErr), errors.Is(err, driver.ErrBadConn):
		return ledger.ReasonNetwork
	default:
		return ledger.ReasonStore
	}
}

// EventType tags observer notifications.
type EventType string

const (
	EventSyncStarted EventType = "sync_started"
	EventSyncOK      EventType = "sync_ok"
	EventSyncFailed  EventType = "sync_failed"
	EventSyncSkipped EventType = "sync_skipped"
)

// Event is delivered to the OnEvent observer.
type Event struct {
	Type    EventType
	UserID  string
	Forced  bool
	Outcome Outcome
	At      time.Time
	RetryIn time.Duration
}

// scheduleRetry arms the next retry from the backoff slice; the index
// saturates at the last entry.
func scheduleRetry(current *time.Timer, backoff []time.Duration, index int) (*time.Timer, <-chan time.Time, int, time.Duration) {
	if current != nil {
		current.Stop()
	}
	if index >= len(backoff) {
		index = len(backoff) - 1
	}
	wait := backoff[index]
	t := time.NewTimer(wait)
	nextIdx := index + 1
	if nextIdx >= len(backoff) {
		nextIdx = len(backoff) - 1
	}
	return t, t.C, nextIdx, wait
}
