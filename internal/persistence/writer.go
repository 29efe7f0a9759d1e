package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
)

// eventNamespace derives stable event ids from (instance, sequence), so a
// retried batch hits ON CONFLICT instead of duplicating rows.
var eventNamespace = uuid.MustParse("6f1c8a53-2b8e-4c64-9a55-0d7d1f3e9b21")

// EventRow represents a row in balance_events.
type EventRow struct {
	EventID    uuid.UUID
	InstanceID string
	UserID     string
	Session    int64
	Sequence   int64
	Kind       string
	Source     *string
	Amount     decimal.Decimal
	Balance    decimal.Decimal
	DailyGains decimal.Decimal
	DeltaID    *string
	Reason     *string
	OccurredAt time.Time
}

// EventRowFromChange converts a committed ledger change.
func EventRowFromChange(instanceID string, c ledger.Change) EventRow {
	row := EventRow{
		EventID:    uuid.NewSHA1(eventNamespace, []byte(fmt.Sprintf("%s:%d", instanceID, c.Seq))),
		InstanceID: instanceID,
		UserID:     c.State.UserID,
		Session:    int64(c.State.Session),
		Sequence:   c.Seq,
		Kind:       c.Kind.String(),
		Amount:     c.Amount,
		Balance:    c.State.Displayed(),
		DailyGains: c.State.DailyGains,
		OccurredAt: c.At,
	}
	if c.Source != 0 {
		s := c.Source.String()
		row.Source = &s
	}
	if c.DeltaID != "" {
		id := c.DeltaID
		row.DeltaID = &id
	}
	if c.Reason != "" {
		r := c.Reason
		row.Reason = &r
	}
	return row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes balance events to Postgres using multi-row INSERT.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

const eventColumns = 13

// WriteEventBatch writes events through ex (the DB or an open transaction).
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO balance_events
		(event_id, instance_id, user_id, session, sequence, kind, source, amount, balance, daily_gains, delta_id, reason, occurred_at)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*eventColumns)

	for i, e := range events {
		base := i * eventColumns
		placeholders := make([]string, eventColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			e.EventID.String(), e.InstanceID, e.UserID, e.Session, e.Sequence, e.Kind, e.Source,
			e.Amount, e.Balance, e.DailyGains, e.DeltaID, e.Reason, e.OccurredAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (event_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
