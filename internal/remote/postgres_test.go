package remote_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/remote"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/testutil"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

func TestPostgresStore_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := remote.NewPostgresStore(db)
	today := window.Date{Year: 2026, Month: time.March, Day: 10}

	_, err := s.ReadBalance(ctx, "it-alice")
	require.ErrorIs(t, err, remote.ErrNotFound)

	v1, err := s.WriteBalance(ctx, "it-alice", remote.Write{
		Balance:    decimal.RequireFromString("12.34"),
		DailyGains: decimal.RequireFromString("0.25"),
		WindowDate: today,
		IfVersion:  0,
	})
	require.NoError(t, err)

	rec, err := s.ReadBalance(ctx, "it-alice")
	require.NoError(t, err)
	assert.True(t, rec.Balance.Equal(decimal.RequireFromString("12.34")))
	assert.Equal(t, today, rec.WindowDate)
	assert.Equal(t, v1, rec.Version)
	assert.Equal(t, "freemium", rec.Tier)

	_, err = s.WriteBalance(ctx, "it-alice", remote.Write{Balance: decimal.NewFromInt(1), IfVersion: v1 + 10})
	assert.ErrorIs(t, err, remote.ErrVersionConflict)

	require.NoError(t, s.SetTier(ctx, "it-alice", "gold"))
	rec, err = s.ReadBalance(ctx, "it-alice")
	require.NoError(t, err)
	assert.Equal(t, "gold", rec.Tier)
}
