package session

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/event"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubLedger struct {
	mu    sync.Mutex
	state ledger.State
}

func (s *stubLedger) Snapshot() ledger.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type sinkFunc func(event.Event)

func (f sinkFunc) Publish(e event.Event) { f(e) }

func TestRunOnce_Results(t *testing.T) {
	st := &stubLedger{}
	var published []event.Event
	sim := NewSimulator(Config{MinGain: d("0.05"), MaxGain: d("0.15"), Seed: 1}, st,
		sinkFunc(func(e event.Event) { published = append(published, e) }), zerolog.Nop(), observability.NewMetrics(nil))

	assert.Equal(t, ResultUnbound, sim.RunOnce())

	st.state = ledger.State{UserID: "u1", DailyCap: d("0.5")}
	assert.Equal(t, ResultNotReady, sim.RunOnce())

	st.state.Ready = true
	st.state.DailyGains = d("0.5")
	assert.Equal(t, ResultLimit, sim.RunOnce())
	assert.Empty(t, published)

	st.state.DailyGains = d("0.2")
	assert.Equal(t, ResultPublished, sim.RunOnce())
	require.Len(t, published, 1)
	delta, ok := published[0].(*event.BalanceDelta)
	require.True(t, ok)
	assert.Equal(t, "u1", delta.UserID)
	assert.NotEmpty(t, delta.ID)
	assert.True(t, delta.Amount.GreaterThanOrEqual(d("0.05")))
	assert.True(t, delta.Amount.LessThanOrEqual(d("0.15")))
}

func TestNextGain_DeterministicWithSeed(t *testing.T) {
	a := NewSimulator(Config{MinGain: d("0.01"), MaxGain: d("1"), Seed: 42}, &stubLedger{}, nil, zerolog.Nop(), nil)
	b := NewSimulator(Config{MinGain: d("0.01"), MaxGain: d("1"), Seed: 42}, &stubLedger{}, nil, zerolog.Nop(), nil)
	for i := 0; i < 20; i++ {
		ga, gb := a.nextGain(), b.nextGain()
		assert.True(t, ga.Equal(gb))
		assert.LessOrEqual(t, ga.Exponent(), int32(0))
		assert.True(t, ga.GreaterThanOrEqual(d("0.01")))
	}
}

func TestSimulator_FeedsLedgerThroughBus(t *testing.T) {
	l := ledger.New(ledger.Options{Window: window.NewManager(time.UTC, nil), Logger: zerolog.Nop()})
	bus := event.NewBus(zerolog.Nop(), nil)
	defer event.Route(bus, l, zerolog.Nop(), nil)()

	session := l.SetUser("u1")
	require.NoError(t, l.MarkReady(session))

	sim := NewSimulator(Config{MinGain: d("0.2"), MaxGain: d("0.2"), Seed: 7}, l, bus, zerolog.Nop(), nil)
	results := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		results = append(results, sim.RunOnce())
	}

	assert.Equal(t, []string{ResultPublished, ResultPublished, ResultPublished, ResultLimit}, results)
	assert.True(t, l.Balance().Equal(d("0.5")), "balance = %s", l.Balance())
	assert.True(t, l.DailyGains().Equal(d("0.5")))
}
