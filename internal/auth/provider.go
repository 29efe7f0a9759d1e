// Package auth holds the identity of the current user and the daemon's
// stored credentials. Authentication itself happens elsewhere; the provider
// only records who is logged in and tells listeners when that changes.
package auth

import (
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Provider is the current-user holder.
type Provider struct {
	mu        sync.Mutex
	userID    string
	listeners []listener
	nextID    uint64

	// serializes notifications so listeners see changes in order
	notifyMu sync.Mutex
}

type listener struct {
	id uint64
	fn func(userID string)
}

func NewProvider() *Provider {
	return &Provider{}
}

// Current returns the logged-in user, if any.
func (p *Provider) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID, p.userID != ""
}

// Login switches to userID. Logging in as the current user is a no-op.
func (p *Provider) Login(userID string) {
	p.set(NormalizeUserID(userID))
}

// NormalizeUserID trims and NFC-normalizes an id, so the same user always
// maps to the same mirror keys and broadcast subject.
func NormalizeUserID(userID string) string {
	return norm.NFC.String(strings.TrimSpace(userID))
}

func (p *Provider) Logout() {
	p.set("")
}

// OnChange registers fn for every user change. fn is called with the new
// userID ("" on logout), outside the provider lock. fn must not call Login
// or Logout.
func (p *Provider) OnChange(fn func(userID string)) (remove func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, listener{id: id, fn: fn})
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, l := range p.listeners {
			if l.id == id {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

func (p *Provider) set(userID string) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if userID == p.userID {
		p.mu.Unlock()
		return
	}
	p.userID = userID
	ls := make([]listener, len(p.listeners))
	copy(ls, p.listeners)
	p.mu.Unlock()

	for _, l := range ls {
		l.fn(userID)
	}
}
