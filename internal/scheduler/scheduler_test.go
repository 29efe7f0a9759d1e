package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
)

type countingLedger struct{ calls int }

func (c *countingLedger) RollOver() bool {
	c.calls++
	return c.calls == 1
}

type stubPruner struct {
	cutoff time.Time
	err    error
}

func (p *stubPruner) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return 3, p.err
}

func TestRegisterAll(t *testing.T) {
	s := New(Config{}, &countingLedger{}, &stubPruner{}, zerolog.Nop(), nil)
	require.NoError(t, s.RegisterAll())
	assert.Len(t, s.cron.Entries(), 2)

	withoutPruner := New(Config{}, &countingLedger{}, nil, zerolog.Nop(), nil)
	require.NoError(t, withoutPruner.RegisterAll())
	assert.Len(t, withoutPruner.cron.Entries(), 1)
}

func TestRegisterAll_BadSpec(t *testing.T) {
	s := New(Config{RolloverSpec: "not a spec"}, &countingLedger{}, nil, zerolog.Nop(), nil)
	assert.Error(t, s.RegisterAll())
}

func TestRolloverFiresAfterReferenceMidnight(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	s := New(Config{Location: loc}, &countingLedger{}, nil, zerolog.Nop(), nil)
	require.NoError(t, s.RegisterAll())

	entry := s.cron.Entries()[0]
	// cron evaluates schedules on times already converted to its location
	next := entry.Schedule.Next(time.Date(2026, 3, 10, 23, 59, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 1, 0, loc), next.In(loc))
}

func TestRunRolloverNow(t *testing.T) {
	l := &countingLedger{}
	s := New(Config{}, l, nil, zerolog.Nop(), observability.NewMetrics(nil))
	s.RunRolloverNow()
	s.RunRolloverNow()
	assert.Equal(t, 2, l.calls)
}

func TestRunPruneNow(t *testing.T) {
	p := &stubPruner{}
	s := New(Config{PruneRetention: 48 * time.Hour}, &countingLedger{}, p, zerolog.Nop(), nil)
	fixed := time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.RunPruneNow()
	assert.Equal(t, fixed.Add(-48*time.Hour), p.cutoff)

	p.err = errors.New("disk I/O error")
	s.RunPruneNow() // logged, not fatal
}

func TestStartStop(t *testing.T) {
	s := New(Config{}, &countingLedger{}, nil, zerolog.Nop(), nil)
	require.NoError(t, s.RegisterAll())
	s.Start()
	s.Stop()
}
