package remote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/remote"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

func TestMemoryStore_VersionChecks(t *testing.T) {
	ctx := context.Background()
	s := remote.NewMemoryStore()

	_, err := s.ReadBalance(ctx, "alice")
	require.ErrorIs(t, err, remote.ErrNotFound)

	v1, err := s.WriteBalance(ctx, "alice", remote.Write{Balance: decimal.NewFromInt(3), IfVersion: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)

	_, err = s.WriteBalance(ctx, "alice", remote.Write{Balance: decimal.NewFromInt(4), IfVersion: 0})
	assert.ErrorIs(t, err, remote.ErrVersionConflict, "insert over an existing record")

	v2, err := s.WriteBalance(ctx, "alice", remote.Write{Balance: decimal.NewFromInt(4), IfVersion: v1})
	require.NoError(t, err)

	_, err = s.WriteBalance(ctx, "alice", remote.Write{Balance: decimal.NewFromInt(5), IfVersion: v1})
	assert.ErrorIs(t, err, remote.ErrVersionConflict, "stale version")

	v3, err := s.WriteBalance(ctx, "alice", remote.Write{Balance: decimal.Zero, IfVersion: remote.AnyVersion})
	require.NoError(t, err)
	assert.Greater(t, v3, v2)

	rec, err := s.ReadBalance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, rec.Balance.IsZero())
	assert.Equal(t, "freemium", rec.Tier)
}

func TestMemoryStore_InjectedFailures(t *testing.T) {
	s := remote.NewMemoryStore()
	s.SetError(errors.New("connection refused"))
	_, err := s.ReadBalance(context.Background(), "alice")
	assert.EqualError(t, err, "connection refused")

	s.SetError(nil)
	s.SetDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.ReadBalance(ctx, "alice")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	reads, writes := s.Calls()
	assert.Equal(t, 2, reads)
	assert.Equal(t, 0, writes)
}

func TestMemoryStore_PutBumpsVersion(t *testing.T) {
	s := remote.NewMemoryStore()
	today := window.Date{Year: 2026, Month: time.March, Day: 10}

	first := s.Put(remote.Record{UserID: "alice", Balance: decimal.NewFromInt(1), WindowDate: today})
	second := s.Put(remote.Record{UserID: "alice", Balance: decimal.NewFromInt(2), WindowDate: today})
	assert.Equal(t, first.Version+1, second.Version)

	got, ok := s.Get("alice")
	require.True(t, ok)
	assert.Equal(t, today, got.WindowDate)
}
