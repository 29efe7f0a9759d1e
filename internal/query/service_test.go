package query

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/persistence"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/testutil"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/tier"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, ClampLimit(0))
	assert.Equal(t, DefaultHistoryLimit, ClampLimit(-3))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, MaxHistoryLimit, ClampLimit(MaxHistoryLimit+1))
}

func TestBalanceFromState(t *testing.T) {
	s := ledger.State{
		UserID:          "u1",
		Balance:         d("9"),
		HighestObserved: d("10"),
		DailyGains:      d("0.2"),
		DailyCap:        d("0.5"),
		WindowDate:      window.Date{Year: 2026, Month: time.March, Day: 10},
		Tier:            tier.Freemium,
		Ready:           true,
		Sequence:        4,
	}

	resp := BalanceFromState(s)

	assert.True(t, resp.Balance.Equal(d("10")), "balance shows the watermark")
	assert.True(t, resp.Remaining.Equal(d("0.3")))
	assert.Equal(t, "2026-03-10", resp.WindowDate)
	assert.Equal(t, string(tier.Freemium), resp.Tier)
	assert.Nil(t, resp.LastSyncedAt)
	assert.EqualValues(t, 4, resp.Sequence)

	s.LastSyncedAt = time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	resp = BalanceFromState(s)
	require.NotNil(t, resp.LastSyncedAt)
	assert.True(t, resp.LastSyncedAt.Equal(s.LastSyncedAt))
}

func seedJournal(t *testing.T, db *sql.DB, userID string, n int, start time.Time) {
	t.Helper()
	w := persistence.NewEventLogWriter(db)
	rows := make([]persistence.EventRow, 0, n)
	balance := decimal.Zero
	for i := 1; i <= n; i++ {
		balance = balance.Add(d("0.1"))
		rows = append(rows, persistence.EventRowFromChange("inst-it", ledger.Change{
			Seq:     int64(i),
			Kind:    ledger.ChangeDelta,
			Amount:  d("0.1"),
			DeltaID: fmt.Sprintf("delta-%d", i),
			At:      start.Add(time.Duration(i) * time.Minute),
			State: ledger.State{
				UserID:          userID,
				Session:         1,
				Balance:         balance,
				HighestObserved: balance,
				DailyGains:      balance,
			},
		}))
	}
	require.NoError(t, w.WriteEventBatch(context.Background(), db, rows))
}

func TestHistoryService_Paging(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	seedJournal(t, db, "hist-user", 5, start)

	hs := NewHistoryService(db)
	ctx := context.Background()

	page, err := hs.History(ctx, "hist-user", 3, nil)
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.EqualValues(t, 5, page.Entries[0].Sequence, "newest first")
	assert.Equal(t, "delta", page.Entries[0].Kind)
	require.NotNil(t, page.NextBefore)

	page, err = hs.History(ctx, "hist-user", 3, page.NextBefore)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.EqualValues(t, 2, page.Entries[0].Sequence)
	assert.Nil(t, page.NextBefore)

	page, err = hs.History(ctx, "someone-else", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

func TestHistoryService_DailyTotals(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	seedJournal(t, db, "totals-user", 4, start)

	totals, err := NewHistoryService(db).DailyTotals(context.Background(), "totals-user", 7, time.UTC, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "2026-03-10", totals[0].Date)
	assert.True(t, totals[0].Credited.Equal(d("0.4")))
	assert.EqualValues(t, 4, totals[0].Sessions)
}
