package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceSnapshotAndDeltas(t *testing.T) {
	p := NewPresenceTracker()

	p.ApplySnapshot([]string{"u1", "u2"})
	assert.True(t, p.IsOnline("u1"))
	assert.True(t, p.IsOnline("u2"))

	p.SetOffline("u1")
	assert.Equal(t, []string{"u2"}, p.OnlineIDs())

	p.SetOnline("u3")
	assert.Equal(t, []string{"u2", "u3"}, p.OnlineIDs())
}

func TestPresenceSnapshotReplacesSet(t *testing.T) {
	p := NewPresenceTracker()
	p.SetOnline("stale")

	p.ApplySnapshot([]string{"u1"})
	assert.False(t, p.IsOnline("stale"))
	assert.True(t, p.IsOnline("u1"))
}

func TestPresenceDeltasAreIdempotent(t *testing.T) {
	p := NewPresenceTracker()

	p.SetOnline("u1")
	p.SetOnline("u1")
	assert.Equal(t, []string{"u1"}, p.OnlineIDs())

	p.SetOffline("u1")
	p.SetOffline("u1")
	assert.Empty(t, p.OnlineIDs())
}

func TestPresenceNotifiesOnChangeOnly(t *testing.T) {
	p := NewPresenceTracker()

	calls := 0
	unsub := p.Subscribe(func() { calls++ })
	defer unsub()

	p.SetOnline("u1")
	p.SetOnline("u1") // no change, no notification
	p.SetOffline("u2")
	assert.Equal(t, 1, calls)

	unsub()
	p.SetOffline("u1")
	assert.Equal(t, 1, calls)
}
