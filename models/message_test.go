package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationIDCommutative(t *testing.T) {
	assert.Equal(t, "a1_b1", ConversationID("a1", "b1"))
	assert.Equal(t, "a1_b1", ConversationID("b1", "a1"))
	assert.Equal(t, ConversationID("x", "x"), ConversationID("x", "x"))

	pairs := [][2]string{{"a1", "b1"}, {"zz", "aa"}, {"u-10", "u-2"}, {"alice", "bob"}}
	for _, pair := range pairs {
		assert.Equal(t, ConversationID(pair[0], pair[1]), ConversationID(pair[1], pair[0]))
	}
}

func TestConversationPeer(t *testing.T) {
	id := ConversationID("a1", "b1")
	assert.Equal(t, "b1", ConversationPeer(id, "a1"))
	assert.Equal(t, "a1", ConversationPeer(id, "b1"))
	assert.Equal(t, "", ConversationPeer(id, "c1"))
	assert.Equal(t, "", ConversationPeer("garbage", "a1"))
}
