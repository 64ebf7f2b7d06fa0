package models

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EventKind names one event on the real-time wire. The set is closed: a
// frame carrying any other kind is rejected at the transport boundary.
type EventKind string

// Client → server events.
const (
	EventJoinConversation EventKind = "join_conversation"
	EventSendMessage      EventKind = "send_message"
	EventTypingStart      EventKind = "typing_start"
	EventTypingStop       EventKind = "typing_stop"
	EventMarkMessagesRead EventKind = "mark_messages_read"
	EventGetOnlineUsers   EventKind = "get_online_users"
)

// Server → client events.
const (
	EventNewMessage   EventKind = "new_message"
	EventMessageSent  EventKind = "message_sent"
	EventMessagesRead EventKind = "messages_read"
	EventUserTyping   EventKind = "user_typing"
	EventUserOnline   EventKind = "user_online"
	EventUserOffline  EventKind = "user_offline"
	EventOnlineUsers  EventKind = "online_users"
)

// Frame is the envelope for every websocket message in both directions.
type Frame struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinConversationPayload announces interest in the conversation between the
// two users. The server resolves the canonical conversation ID itself.
type JoinConversationPayload struct {
	UserID1 string `json:"userId1"`
	UserID2 string `json:"userId2"`
}

// SendMessagePayload carries a message send over the real-time path.
type SendMessagePayload struct {
	ReceiverID string      `json:"receiverId"`
	Content    string      `json:"content"`
	Type       MessageType `json:"messageType"`
}

// TypingPayload is the body of typing_start and typing_stop.
type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
}

// MarkReadPayload asks the server to flag the caller's received messages in
// the conversation as read and notify the peer.
type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
}

// NewMessagePayload delivers a live message.
type NewMessagePayload struct {
	Message Message `json:"message"`
}

// MessageSentPayload confirms a send_message back to its sender. Message is
// the server-assigned record for the send.
type MessageSentPayload struct {
	Success bool     `json:"success"`
	Message *Message `json:"message,omitempty"`
}

// MessagesReadPayload tells a sender that the peer has read the conversation.
type MessagesReadPayload struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
}

// UserTypingPayload reports a peer's typing state.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// PresencePayload is the body of user_online and user_offline.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// OnlineUsersPayload is the authoritative snapshot of the online set.
type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

// NewFrame wraps a payload in a Frame for the given event kind.
func NewFrame(kind EventKind, payload interface{}) (Frame, error) {
	if payload == nil {
		return Frame{Event: kind}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "marshal %s payload", kind)
	}
	return Frame{Event: kind, Data: data}, nil
}

// DecodeEventData parses a frame's data into the fixed payload type for its
// kind. The result is always a value of the concrete payload struct for that
// kind, or an error for unknown kinds and malformed bodies.
func DecodeEventData(frame Frame) (interface{}, error) {
	switch frame.Event {
	case EventJoinConversation:
		return decodeAs[JoinConversationPayload](frame)
	case EventSendMessage:
		return decodeAs[SendMessagePayload](frame)
	case EventTypingStart, EventTypingStop:
		return decodeAs[TypingPayload](frame)
	case EventMarkMessagesRead:
		return decodeAs[MarkReadPayload](frame)
	case EventGetOnlineUsers:
		return struct{}{}, nil
	case EventNewMessage:
		return decodeAs[NewMessagePayload](frame)
	case EventMessageSent:
		return decodeAs[MessageSentPayload](frame)
	case EventMessagesRead:
		return decodeAs[MessagesReadPayload](frame)
	case EventUserTyping:
		return decodeAs[UserTypingPayload](frame)
	case EventUserOnline, EventUserOffline:
		return decodeAs[PresencePayload](frame)
	case EventOnlineUsers:
		return decodeAs[OnlineUsersPayload](frame)
	}
	return nil, errors.Errorf("unknown event kind %q", frame.Event)
}

func decodeAs[T any](frame Frame) (interface{}, error) {
	var payload T
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil, errors.Wrapf(err, "decode %s payload", frame.Event)
		}
	}
	return payload, nil
}
