package models

import (
	"strings"
	"time"
)

// MessageType identifies the kind of message content. Only text exists
// today; the type is open so new kinds can be added without a schema change.
type MessageType string

const (
	MessageTypeText MessageType = "text"
)

// Message represents a chat message between two users. Once created a
// message is immutable except for the read flag.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"messageType"`
	Read           bool        `json:"isRead"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Pagination describes the position of a history page within a conversation.
type Pagination struct {
	Page    int  `json:"page"`
	HasMore bool `json:"hasMore"`
}

// ConversationPage is one page of conversation history, oldest message first.
type ConversationPage struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// ConversationID derives the canonical identifier for the conversation
// between two users: the two IDs sorted lexicographically and joined.
// Either party can reconstruct it without a round trip, and
// ConversationID(a, b) == ConversationID(b, a).
func ConversationID(userID1, userID2 string) string {
	if userID2 < userID1 {
		userID1, userID2 = userID2, userID1
	}
	return userID1 + "_" + userID2
}

// ConversationPeer returns the other participant of a conversation, given
// its canonical ID and one participant. Returns "" if selfID is not a
// participant.
func ConversationPeer(conversationID, selfID string) string {
	parts := strings.SplitN(conversationID, "_", 2)
	if len(parts) != 2 {
		return ""
	}
	switch selfID {
	case parts[0]:
		return parts[1]
	case parts[1]:
		return parts[0]
	}
	return ""
}
