package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typingRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *typingRecorder) emit(peerID string, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, typing)
}

func (r *typingRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.events))
	copy(out, r.events)
	return out
}

func TestTypingBurstCollapsesToOneStartOneStop(t *testing.T) {
	rec := &typingRecorder{}
	tc := NewTypingCoordinator(rec.emit, 30*time.Millisecond, 90*time.Millisecond)
	defer tc.Stop()

	for i := 0; i < 10; i++ {
		tc.SetLocalInput("b1", true)
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, []bool{true}, rec.snapshot())

	require.Eventually(t, func() bool {
		events := rec.snapshot()
		return len(events) == 2 && !events[1]
	}, time.Second, 5*time.Millisecond)
}

func TestTypingClearEmitsStopImmediately(t *testing.T) {
	rec := &typingRecorder{}
	tc := NewTypingCoordinator(rec.emit, time.Minute, time.Minute)
	defer tc.Stop()

	tc.SetLocalInput("b1", true)
	tc.ClearLocal("b1")
	assert.Equal(t, []bool{true, false}, rec.snapshot())

	// A second clear is a no-op.
	tc.ClearLocal("b1")
	assert.Equal(t, []bool{true, false}, rec.snapshot())
}

func TestTypingEmptyInputClears(t *testing.T) {
	rec := &typingRecorder{}
	tc := NewTypingCoordinator(rec.emit, time.Minute, time.Minute)
	defer tc.Stop()

	tc.SetLocalInput("b1", true)
	tc.SetLocalInput("b1", false)
	assert.Equal(t, []bool{true, false}, rec.snapshot())
}

func TestTypingOutboundIsPerPeer(t *testing.T) {
	rec := &typingRecorder{}
	tc := NewTypingCoordinator(rec.emit, time.Minute, time.Minute)
	defer tc.Stop()

	tc.SetLocalInput("b1", true)
	tc.SetLocalInput("b2", true)
	assert.Len(t, rec.snapshot(), 2)

	tc.ClearLocal("b1")
	assert.True(t, len(rec.snapshot()) == 3)
}

func TestInboundTypingFollowsRemoteEvents(t *testing.T) {
	tc := NewTypingCoordinator(nil, time.Minute, time.Minute)
	defer tc.Stop()

	assert.False(t, tc.IsPeerTyping("b1"))
	tc.ApplyRemote("b1", true)
	assert.True(t, tc.IsPeerTyping("b1"))
	tc.ApplyRemote("b1", false)
	assert.False(t, tc.IsPeerTyping("b1"))
}

func TestInboundTypingSelfClearsOnLostStop(t *testing.T) {
	tc := NewTypingCoordinator(nil, 10*time.Millisecond, 40*time.Millisecond)
	defer tc.Stop()

	var mu sync.Mutex
	var transitions []bool
	unsub := tc.Subscribe(func(peerID string, typing bool) {
		mu.Lock()
		transitions = append(transitions, typing)
		mu.Unlock()
	})
	defer unsub()

	tc.ApplyRemote("b1", true)
	assert.True(t, tc.IsPeerTyping("b1"))

	// No typing_stop ever arrives; the indicator must clear on its own.
	require.Eventually(t, func() bool {
		return !tc.IsPeerTyping("b1")
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, transitions)
}
