package client

import (
	"sort"
	"sync"
)

// PresenceTracker maintains the set of currently-online peer IDs. A full
// snapshot replaces the set and is authoritative; user_online/user_offline
// deltas add and remove single members. Membership is a boolean, so deltas
// need no de-duplication.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]bool
	subs   map[uint64]func()
	nextID uint64
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		online: make(map[string]bool),
		subs:   make(map[uint64]func()),
	}
}

// ApplySnapshot replaces the entire online set.
func (p *PresenceTracker) ApplySnapshot(userIDs []string) {
	p.mu.Lock()
	p.online = make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		p.online[id] = true
	}
	p.mu.Unlock()
	p.notify()
}

// SetOnline marks one user online.
func (p *PresenceTracker) SetOnline(userID string) {
	p.mu.Lock()
	changed := !p.online[userID]
	p.online[userID] = true
	p.mu.Unlock()
	if changed {
		p.notify()
	}
}

// SetOffline removes one user from the online set.
func (p *PresenceTracker) SetOffline(userID string) {
	p.mu.Lock()
	changed := p.online[userID]
	delete(p.online, userID)
	p.mu.Unlock()
	if changed {
		p.notify()
	}
}

// IsOnline reports whether the user is currently online.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online[userID]
}

// OnlineIDs returns the online set, sorted for stable iteration.
func (p *PresenceTracker) OnlineIDs() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Subscribe registers a callback invoked whenever the online set changes.
func (p *PresenceTracker) Subscribe(fn func()) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *PresenceTracker) notify() {
	p.mu.RLock()
	fns := make([]func(), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
