package window_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/testutil"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

func TestManager_CurrentWindowDate_UsesReferenceZone(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	// 23:30 UTC on Jan 1 is already Jan 2 in Paris.
	clock := testutil.NewFakeClock(time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC))

	utc := window.NewManager(time.UTC, clock)
	assert.Equal(t, window.Date{Year: 2026, Month: time.January, Day: 1}, utc.CurrentWindowDate())

	local := window.NewManager(paris, clock)
	assert.Equal(t, window.Date{Year: 2026, Month: time.January, Day: 2}, local.CurrentWindowDate())
}

func TestManager_CheckRollover(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	m := window.NewManager(time.UTC, clock)

	today := m.CurrentWindowDate()
	assert.False(t, m.CheckRollover(today), "same day must not roll over")
	assert.True(t, m.CheckRollover(today.AddDays(-1)), "yesterday must roll over")
	assert.True(t, m.CheckRollover(window.Date{}), "zero date must roll over")

	clock.Advance(16 * time.Hour)
	assert.True(t, m.CheckRollover(today), "crossing midnight must roll over")
}

func TestManager_NextBoundary(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2026, 12, 31, 15, 0, 0, 0, time.UTC))
	m := window.NewManager(time.UTC, clock)

	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), m.NextBoundary())
}

func TestDate_ParseAndString(t *testing.T) {
	d, err := window.ParseDate("2026-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", d.String())
	assert.Equal(t, "2026-03-01", d.AddDays(1).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.False(t, d.Before(d))

	_, err = window.ParseDate("28/02/2026")
	assert.Error(t, err)

	assert.Equal(t, "", window.Date{}.String())
}
