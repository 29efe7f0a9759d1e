package tier

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		want   Tier
		wantOK bool
	}{
		{"freemium", Freemium, true},
		{" Gold ", Gold, true},
		{"ELITE", Elite, true},
		{"alpha", Starter, true},
		{"", Freemium, false},
		{"platinum", Freemium, false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.in)
		assert.Equal(t, tt.want, got, "Parse(%q)", tt.in)
		assert.Equal(t, tt.wantOK, ok, "Parse(%q) ok", tt.in)
	}
}

func TestTable_DefaultsAndOverrides(t *testing.T) {
	tb, err := NewTable(map[Tier]decimal.Decimal{Gold: decimal.NewFromInt(3)})
	require.NoError(t, err)

	assert.True(t, tb.DailyCap(Freemium).Equal(decimal.RequireFromString("0.5")))
	assert.True(t, tb.DailyCap(Gold).Equal(decimal.NewFromInt(3)))
	assert.True(t, tb.DailyCap(Tier("bogus")).Equal(tb.DailyCap(Freemium)))

	// defaults are not mutated by overrides
	assert.True(t, DefaultCaps[Gold].Equal(decimal.RequireFromString("2.5")))
}

func TestNewTable_Rejects(t *testing.T) {
	_, err := NewTable(map[Tier]decimal.Decimal{Tier("platinum"): decimal.NewFromInt(1)})
	assert.Error(t, err)

	_, err = NewTable(map[Tier]decimal.Decimal{Elite: decimal.Zero})
	assert.Error(t, err)
}
