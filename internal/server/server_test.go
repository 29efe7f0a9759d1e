package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/auth"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/mirror"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/query"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/remote"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/syncer"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/testutil"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeHistory struct {
	userID string
	limit  int
	before *time.Time
	err    error
}

func (f *fakeHistory) History(_ context.Context, userID string, limit int, before *time.Time) (*query.HistoryPage, error) {
	f.userID, f.limit, f.before = userID, limit, before
	if f.err != nil {
		return nil, f.err
	}
	return &query.HistoryPage{UserID: userID, Entries: []query.HistoryEntry{{Sequence: 3, Kind: "delta", Amount: d("0.1")}}}, nil
}

func (f *fakeHistory) DailyTotals(_ context.Context, userID string, days int, _ *time.Location, _ time.Time) ([]query.DailyTotal, error) {
	return []query.DailyTotal{{Date: "2026-03-10", Credited: d("0.4"), Sessions: int64(days)}}, nil
}

type testEnv struct {
	srv      *Server
	ledger   *ledger.Ledger
	store    *remote.MemoryStore
	sessions *auth.Provider
	history  *fakeHistory
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	wm := window.NewManager(time.UTC, clock)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	l := ledger.New(ledger.Options{Mirror: mirror.NewMemoryMirror(), Window: wm, Logger: zerolog.Nop(), Metrics: metrics})
	store := remote.NewMemoryStore()
	agent := syncer.New(syncer.Config{}, l, store, wm, zerolog.Nop(), metrics, nil)

	sessions := auth.NewProvider()
	sessions.OnChange(func(userID string) { l.SetUser(userID) })

	env := &testEnv{ledger: l, store: store, sessions: sessions, history: &fakeHistory{}, registry: reg}
	srv, err := New("127.0.0.1:0", "127.0.0.1:0", Deps{
		Ledger:        l,
		Syncer:        agent,
		Sessions:      sessions,
		History:       env.history,
		HealthChecker: observability.NewHealthChecker(),
		Metrics:       metrics,
		Gatherer:      reg,
		Logger:        zerolog.Nop(),
		AdminToken:    "s3cret",
		Now:           clock.Now,
	})
	require.NoError(t, err)
	env.srv = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestBalance_Unbound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/balance", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp query.BalanceResponse
	decode(t, w, &resp)
	assert.Empty(t, resp.UserID)
	assert.True(t, resp.Balance.IsZero())
}

func TestSession_LoginAndLogout(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/session", `{"user_id":"alice"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp query.BalanceResponse
	decode(t, w, &resp)
	assert.Equal(t, "alice", resp.UserID)
	assert.Equal(t, "freemium", resp.Tier)

	w = env.do(t, http.MethodPost, "/v1/session", `{"user_id":""}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.ledger.UserID())

	w = env.do(t, http.MethodPost, "/v1/session", `{"user":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDailyGains(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login("alice")
	_, err := env.ledger.ApplyDelta(d("0.2"))
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/v1/daily-gains", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dailyGainsResponse
	decode(t, w, &resp)
	assert.True(t, resp.DailyGains.Equal(d("0.2")))
	assert.True(t, resp.Remaining.Equal(d("0.3")))
	assert.Equal(t, "2026-03-10", resp.WindowDate)
}

func TestSync_AppliesRemote(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login("alice")
	env.store.Put(remote.Record{UserID: "alice", Balance: d("7")})

	w := env.do(t, http.MethodPost, "/v1/sync", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp syncResponse
	decode(t, w, &resp)
	assert.Equal(t, string(syncer.OutcomeApplied), resp.Outcome)
	assert.True(t, resp.Balance.Equal(d("7")))
}

func TestSync_Unbound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/v1/sync", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSync_Failure(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login("alice")
	env.store.SetError(errors.New("connection refused"))

	w := env.do(t, http.MethodPost, "/v1/sync", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp syncResponse
	decode(t, w, &resp)
	assert.Equal(t, string(syncer.OutcomeFailed), resp.Outcome)
	assert.Equal(t, string(ledger.ReasonStore), resp.Reason)
}

func TestWithdraw_Acknowledged(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login("alice")
	env.store.Put(remote.Record{UserID: "alice", Balance: d("12")})
	_, err := env.ledger.ApplyAbsolute(d("12"), ledger.SourceRemote)
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/v1/withdraw", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp withdrawResponse
	decode(t, w, &resp)
	assert.True(t, resp.Acknowledged)
	assert.True(t, resp.Balance.IsZero())
	assert.False(t, env.ledger.OverridePending())

	rec, ok := env.store.Get("alice")
	require.True(t, ok)
	assert.True(t, rec.Balance.IsZero())
}

func TestWithdraw_NotAcknowledgedIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login("alice")
	_, err := env.ledger.ApplyAbsolute(d("12"), ledger.SourceRemote)
	require.NoError(t, err)
	env.store.SetError(errors.New("connection refused"))

	w := env.do(t, http.MethodPost, "/v1/withdraw", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp withdrawResponse
	decode(t, w, &resp)
	assert.False(t, resp.Acknowledged)
	assert.True(t, resp.Retryable)
	assert.True(t, env.ledger.OverridePending(), "reset stays pending for the next sync")
	assert.True(t, env.ledger.Balance().IsZero())
}

func TestWithdraw_Unbound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/v1/withdraw", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "FailedPrecondition", body.Code)
}

func TestAdminCorrect(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login("alice")
	_, err := env.ledger.ApplyAbsolute(d("20"), ledger.SourceRemote)
	require.NoError(t, err)

	body := `{"balance":"15.5","reason":"chargeback"}`

	w := env.do(t, http.MethodPost, "/v1/admin/correct", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/v1/admin/correct", body, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/v1/admin/correct", `{"balance":"abc","reason":"x"}`, map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/v1/admin/correct", body, map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.ledger.Balance().Equal(d("15.5")))
	assert.True(t, env.ledger.OverridePending())
}

func TestAdminCorrect_DisabledWithoutToken(t *testing.T) {
	h := &handlers{deps: Deps{}}
	w := httptest.NewRecorder()
	h.postCorrect(w, httptest.NewRequest(http.MethodPost, "/v1/admin/correct", strings.NewReader(`{}`)), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/history", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "unbound")

	env.sessions.Login("alice")
	w = env.do(t, http.MethodGet, "/v1/history?limit=5&before=2026-03-10T11:00:00Z", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page query.HistoryPage
	decode(t, w, &page)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "alice", env.history.userID)
	assert.Equal(t, 5, env.history.limit)
	require.NotNil(t, env.history.before)

	w = env.do(t, http.MethodGet, "/v1/history?limit=many", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.history.err = errors.New("db down")
	w = env.do(t, http.MethodGet, "/v1/history", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHistoryDaily(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.Login("alice")

	w := env.do(t, http.MethodGet, "/v1/history/daily?days=3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"2026-03-10"`)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	env.do(t, http.MethodGet, "/v1/balance", "", nil)
	w = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "cashbot_query_requests_total"))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
