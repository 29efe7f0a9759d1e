// Package broadcast propagates committed balance changes between processes
// that serve the same user, over NATS JetStream. It is the daemon's
// counterpart of a storage-change notification: peers feed what they hear
// back into the event bus as Storage-sourced candidates, so the ledger's
// max-merge decides what sticks.
package broadcast

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
)

const (
	StreamName    = "CASHBOT_BALANCE"
	subjectPrefix = "cashbot.balance."

	// ForwardedReason tags resets that arrived from a peer. They are not
	// broadcast again.
	ForwardedReason = "broadcast"
)

// Subject returns the subject carrying changes for userID. Characters that
// are token separators or wildcards in NATS are replaced.
func Subject(userID string) string {
	return subjectPrefix + subjectToken.Replace(userID)
}

var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// Message is the wire form of one committed change.
type Message struct {
	InstanceID string          `json:"instance_id"`
	UserID     string          `json:"user_id"`
	Sequence   int64           `json:"sequence"`
	Kind       string          `json:"kind"`
	Balance    decimal.Decimal `json:"balance"`
	DailyGains decimal.Decimal `json:"daily_gains"`
	WindowDate string          `json:"window_date"`
	Reason     string          `json:"reason,omitempty"`
	At         time.Time       `json:"at"`
}

// messageFromChange builds the outbound message. ok is false for changes
// peers have no use for.
func messageFromChange(instanceID string, c ledger.Change) (Message, bool) {
	if !c.State.Bound() {
		return Message{}, false
	}
	switch c.Kind {
	case ledger.ChangeDelta, ledger.ChangeDailyGains, ledger.ChangeOverrideAck:
	case ledger.ChangeAbsolute:
		// Heard from a peer already; echoing it back only adds traffic.
		if c.Source == ledger.SourceStorage {
			return Message{}, false
		}
	case ledger.ChangeReset:
		if strings.HasPrefix(c.Reason, ForwardedReason) {
			return Message{}, false
		}
	default:
		return Message{}, false
	}

	return Message{
		InstanceID: instanceID,
		UserID:     c.State.UserID,
		Sequence:   c.Seq,
		Kind:       c.Kind.String(),
		Balance:    c.State.Displayed(),
		DailyGains: c.State.DailyGains,
		WindowDate: c.State.WindowDate.String(),
		Reason:     c.Reason,
		At:         c.At,
	}, true
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode broadcast message: %w", err)
	}
	if m.UserID == "" || m.InstanceID == "" {
		return Message{}, fmt.Errorf("decode broadcast message: missing user or instance id")
	}
	if m.Balance.IsNegative() || m.DailyGains.IsNegative() {
		return Message{}, fmt.Errorf("decode broadcast message: negative amount")
	}
	return m, nil
}
