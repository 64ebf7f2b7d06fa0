package client

import (
	"sync"
	"time"
)

// TypingEmitter sends the local user's typing state for one peer to the
// server. Wired to the transport by the session.
type TypingEmitter func(peerID string, typing bool)

// TypingCoordinator runs the per-peer typing state machines.
//
// Outbound (local user → peer): first keystroke emits one start, later
// keystrokes only re-arm the debounce timer, and expiry or an explicit clear
// emits one stop. A burst of N keystrokes therefore costs two events, not N.
//
// Inbound (peer → local user): driven by user_typing events, with a
// self-clearing timeout so a lost stop event cannot leave the indicator
// stuck.
type TypingCoordinator struct {
	emit     TypingEmitter
	debounce time.Duration
	expiry   time.Duration

	mu       sync.Mutex
	outbound map[string]*time.Timer // signaling peers; timer withdraws the indicator
	inbound  map[string]*time.Timer // typing peers; timer self-clears
	subs     map[uint64]func(peerID string, typing bool)
	nextID   uint64
}

// NewTypingCoordinator creates a coordinator that reports outbound
// transitions through emit.
func NewTypingCoordinator(emit TypingEmitter, debounce, expiry time.Duration) *TypingCoordinator {
	if emit == nil {
		emit = func(string, bool) {}
	}
	return &TypingCoordinator{
		emit:     emit,
		debounce: debounce,
		expiry:   expiry,
		outbound: make(map[string]*time.Timer),
		inbound:  make(map[string]*time.Timer),
		subs:     make(map[uint64]func(string, bool)),
	}
}

// SetLocalInput records a keystroke in the composer for peerID. hasContent
// is false when the input is empty, which withdraws the indicator
// immediately.
func (t *TypingCoordinator) SetLocalInput(peerID string, hasContent bool) {
	if !hasContent {
		t.ClearLocal(peerID)
		return
	}

	t.mu.Lock()
	if timer, ok := t.outbound[peerID]; ok {
		timer.Reset(t.debounce)
		t.mu.Unlock()
		return
	}
	t.outbound[peerID] = time.AfterFunc(t.debounce, func() {
		t.ClearLocal(peerID)
	})
	t.mu.Unlock()

	t.emit(peerID, true)
}

// ClearLocal withdraws the outbound indicator for peerID immediately,
// regardless of any in-flight debounce. Called on send, on emptying the
// input, and on leaving the conversation.
func (t *TypingCoordinator) ClearLocal(peerID string) {
	t.mu.Lock()
	timer, ok := t.outbound[peerID]
	if ok {
		timer.Stop()
		delete(t.outbound, peerID)
	}
	t.mu.Unlock()

	if ok {
		t.emit(peerID, false)
	}
}

// ApplyRemote applies a user_typing event for peerID. A typing=true event
// arms the self-clear timeout; typing=false clears immediately.
func (t *TypingCoordinator) ApplyRemote(peerID string, typing bool) {
	t.mu.Lock()
	timer, was := t.inbound[peerID]
	if typing {
		if was {
			timer.Reset(t.expiry)
			t.mu.Unlock()
			return
		}
		t.inbound[peerID] = time.AfterFunc(t.expiry, func() {
			t.expireRemote(peerID)
		})
		t.mu.Unlock()
		t.notify(peerID, true)
		return
	}
	if was {
		timer.Stop()
		delete(t.inbound, peerID)
	}
	t.mu.Unlock()

	if was {
		t.notify(peerID, false)
	}
}

// IsPeerTyping reports whether peerID is currently typing to us.
func (t *TypingCoordinator) IsPeerTyping(peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inbound[peerID]
	return ok
}

// Subscribe registers a callback for inbound typing transitions.
func (t *TypingCoordinator) Subscribe(fn func(peerID string, typing bool)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Stop cancels every timer. The coordinator must not be used afterwards.
func (t *TypingCoordinator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.outbound {
		timer.Stop()
		delete(t.outbound, id)
	}
	for id, timer := range t.inbound {
		timer.Stop()
		delete(t.inbound, id)
	}
}

func (t *TypingCoordinator) expireRemote(peerID string) {
	t.mu.Lock()
	_, ok := t.inbound[peerID]
	if ok {
		delete(t.inbound, peerID)
	}
	t.mu.Unlock()

	if ok {
		t.notify(peerID, false)
	}
}

func (t *TypingCoordinator) notify(peerID string, typing bool) {
	t.mu.Lock()
	fns := make([]func(string, bool), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(peerID, typing)
	}
}
