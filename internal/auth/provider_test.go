package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProvider_LoginLogout(t *testing.T) {
	p := NewProvider()
	var seen []string
	p.OnChange(func(u string) { seen = append(seen, u) })

	_, ok := p.Current()
	assert.False(t, ok)

	p.Login(" alice ")
	p.Login("alice") // no change
	p.Login("bob")
	p.Logout()

	assert.Equal(t, []string{"alice", "bob", ""}, seen)
	_, ok = p.Current()
	assert.False(t, ok)
}

func TestProvider_RemoveListener(t *testing.T) {
	p := NewProvider()
	calls := 0
	remove := p.OnChange(func(string) { calls++ })

	p.Login("alice")
	remove()
	p.Login("bob")

	assert.Equal(t, 1, calls)
	u, ok := p.Current()
	assert.True(t, ok)
	assert.Equal(t, "bob", u)
}

func TestProvider_ListenerMayReadCurrent(t *testing.T) {
	p := NewProvider()
	var got string
	p.OnChange(func(string) { got, _ = p.Current() })

	p.Login("carol")
	assert.Equal(t, "carol", got)
}

func TestNormalizeUserID(t *testing.T) {
	decomposed := "jose\u0301"
	composed := "jos\u00e9"
	assert.Equal(t, composed, NormalizeUserID("  "+decomposed+" "))

	p := NewProvider()
	calls := 0
	p.OnChange(func(string) { calls++ })
	p.Login(composed)
	p.Login(decomposed)
	assert.Equal(t, 1, calls)
}
