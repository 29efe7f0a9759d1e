package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/config"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/event"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/remote"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/testutil"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/tier"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Timezone = "UTC"
	cfg.LogLevel = "disabled"
	cfg.User = ""
	cfg.Mirror.Path = MemoryMirrorPath
	cfg.NATS.URL = ""
	cfg.Session.Enabled = false
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = "127.0.0.1:0"
	return cfg
}

func newTestApp(t *testing.T, store *remote.MemoryStore, headless bool) *App {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	a, err := New(context.Background(), testConfig(t), Options{
		Clock:    clock,
		Registry: prometheus.NewRegistry(),
		Store:    store,
		Headless: headless,
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Timezone = "Mars/Olympus_Mons"
	_, err := New(context.Background(), cfg, Options{Store: remote.NewMemoryStore(), Headless: true})
	require.Error(t, err)
}

func TestLogin_HydratesFromRemote(t *testing.T) {
	store := remote.NewMemoryStore()
	store.Put(remote.Record{UserID: "alice", Balance: d("8"), Tier: "gold"})
	a := newTestApp(t, store, true)

	a.Sessions.Login("alice")

	snap := a.Ledger.Snapshot()
	assert.Equal(t, "alice", snap.UserID)
	assert.True(t, snap.Displayed().Equal(d("8")))
	assert.Equal(t, tier.Gold, snap.Tier)
	assert.True(t, snap.Ready)
	assert.False(t, snap.LastSyncedAt.IsZero())
	assert.True(t, a.Health.IsReady())
}

func TestLogin_RemoteDownStillReady(t *testing.T) {
	store := remote.NewMemoryStore()
	store.SetError(assert.AnError)
	a := newTestApp(t, store, true)

	a.Sessions.Login("alice")

	assert.True(t, a.Ledger.Ready(), "mirror value is served while the agent retries")
	assert.True(t, a.Health.IsReady())
}

func TestLogout_Detaches(t *testing.T) {
	a := newTestApp(t, remote.NewMemoryStore(), true)
	a.Sessions.Login("alice")
	a.Sessions.Logout()

	assert.Empty(t, a.Ledger.UserID())
	assert.True(t, a.Ledger.Balance().IsZero())
	assert.True(t, a.Health.IsReady())
}

func TestBus_FeedsLedger(t *testing.T) {
	a := newTestApp(t, remote.NewMemoryStore(), true)
	a.Sessions.Login("alice")

	a.Bus.Publish(&event.BalanceDelta{ID: "d1", UserID: "alice", Amount: d("0.2")})
	a.Bus.Publish(&event.BalanceDelta{ID: "d1", UserID: "alice", Amount: d("0.2")})
	a.Bus.Publish(&event.BalanceDelta{ID: "d2", UserID: "bob", Amount: d("0.2")})

	assert.True(t, a.Ledger.Balance().Equal(d("0.2")))
	assert.True(t, a.Ledger.DailyGains().Equal(d("0.2")))
}

func TestRunOnce_WithdrawIsAcknowledged(t *testing.T) {
	store := remote.NewMemoryStore()
	store.Put(remote.Record{UserID: "alice", Balance: d("12")})
	a := newTestApp(t, store, true)

	err := a.RunOnce(context.Background(), "alice", func(a *App) error {
		if err := a.Ledger.Reset("withdrawal"); err != nil {
			return err
		}
		return a.Syncer.PushReset(context.Background())
	})
	require.NoError(t, err)

	rec, ok := store.Get("alice")
	require.True(t, ok)
	assert.True(t, rec.Balance.IsZero())
	assert.False(t, a.Ledger.OverridePending())
}

func TestRun_StopsOnCancel(t *testing.T) {
	a := newTestApp(t, remote.NewMemoryStore(), false)
	a.cfg.User = "alice"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Ledger.Ready() && a.Ledger.UserID() == "alice" }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
