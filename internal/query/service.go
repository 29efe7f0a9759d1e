package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// HistoryService provides read-only access to the balance_events journal.
type HistoryService struct {
	db *sql.DB
}

func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

// ClampLimit maps a requested page size onto [1, MaxHistoryLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// History returns journaled changes for userID, newest first, strictly
// before the cursor when one is given.
func (hs *HistoryService) History(
	ctx context.Context,
	userID string,
	limit int,
	before *time.Time,
) (*HistoryPage, error) {
	limit = ClampLimit(limit)

	query := `
		SELECT event_id, instance_id, sequence, kind, source, amount,
		       balance, daily_gains, delta_id, reason, occurred_at
		FROM balance_events
		WHERE user_id = $1
	`
	args := []interface{}{userID}
	argIdx := 2

	if before != nil {
		query += fmt.Sprintf(" AND occurred_at < $%d", argIdx)
		args = append(args, *before)
		argIdx++
	}

	// One extra row tells whether another page exists.
	query += " ORDER BY occurred_at DESC, sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := hs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	page := &HistoryPage{UserID: userID, Entries: make([]HistoryEntry, 0, limit)}
	for rows.Next() {
		var (
			e                       HistoryEntry
			source, deltaID, reason sql.NullString
		)
		if err := rows.Scan(
			&e.EventID, &e.InstanceID, &e.Sequence, &e.Kind, &source, &e.Amount,
			&e.Balance, &e.DailyGains, &deltaID, &reason, &e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Source = source.String
		e.DeltaID = deltaID.String
		e.Reason = reason.String
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Entries) > limit {
		page.Entries = page.Entries[:limit]
		next := page.Entries[limit-1].OccurredAt
		page.NextBefore = &next
	}
	return page, nil
}

// DailyTotals sums credited deltas per reference day over the last days
// days, oldest first.
func (hs *HistoryService) DailyTotals(
	ctx context.Context,
	userID string,
	days int,
	loc *time.Location,
	now time.Time,
) ([]DailyTotal, error) {
	if days <= 0 || days > 90 {
		days = 7
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	since := time.Date(y, m, d-days+1, 0, 0, 0, 0, loc)

	rows, err := hs.db.QueryContext(ctx, `
		SELECT to_char(occurred_at AT TIME ZONE $3, 'YYYY-MM-DD') AS day,
		       COALESCE(SUM(amount), 0), COUNT(*)
		FROM balance_events
		WHERE user_id = $1 AND kind = 'delta' AND occurred_at >= $2
		GROUP BY day
		ORDER BY day
	`, userID, since, loc.String())
	if err != nil {
		return nil, fmt.Errorf("query daily totals: %w", err)
	}
	defer rows.Close()

	var totals []DailyTotal
	for rows.Next() {
		var t DailyTotal
		var credited decimal.Decimal
		if err := rows.Scan(&t.Date, &credited, &t.Sessions); err != nil {
			return nil, fmt.Errorf("scan daily total: %w", err)
		}
		t.Credited = credited
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
