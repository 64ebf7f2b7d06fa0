package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatlink/models"
)

const conversationPageSize = 50

type sendMessageRequest struct {
	ReceiverID string             `json:"receiverId"`
	Content    string             `json:"content"`
	Type       models.MessageType `json:"messageType"`
}

// GetConversation returns one page of messages between the current user and
// another user
func (s *Server) GetConversation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	user := UserFromContext(r)
	if user == nil {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	otherUserID := vars["userId"]
	if otherUserID == "" {
		http.Error(w, `{"error": "Invalid user ID"}`, http.StatusBadRequest)
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}

	messages, hasMore, err := s.store.ConversationPage(user.ID, otherUserID, page, conversationPageSize)
	if err != nil {
		http.Error(w, `{"error": "Failed to get messages"}`, http.StatusInternalServerError)
		return
	}

	if messages == nil {
		messages = []models.Message{}
	}

	json.NewEncoder(w).Encode(models.ConversationPage{
		Messages:   messages,
		Pagination: models.Pagination{Page: page, HasMore: hasMore},
	})
}

// SendMessage creates a new message over the REST path and delivers it live
// to the receiver when connected
func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	user := UserFromContext(r)
	if user == nil {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Content == "" {
		http.Error(w, `{"error": "Message content is required"}`, http.StatusBadRequest)
		return
	}

	// Check if receiver exists
	receiver, err := s.store.GetUserByID(req.ReceiverID)
	if err != nil {
		http.Error(w, `{"error": "Recipient not found"}`, http.StatusNotFound)
		return
	}

	message, err := s.store.CreateMessage(user.ID, receiver.ID, req.Content, req.Type)
	if err != nil {
		http.Error(w, `{"error": "Failed to send message"}`, http.StatusInternalServerError)
		return
	}

	// Deliver via WebSocket
	s.hub.Send(receiver.ID, models.EventNewMessage, models.NewMessagePayload{Message: *message})

	json.NewEncoder(w).Encode(map[string]interface{}{"message": message})
}

// MarkAsRead marks the caller's received messages in a conversation as read
func (s *Server) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	user := UserFromContext(r)
	if user == nil {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	conversationID := vars["conversationId"]
	if models.ConversationPeer(conversationID, user.ID) == "" {
		http.Error(w, `{"error": "Invalid conversation ID"}`, http.StatusBadRequest)
		return
	}

	if err := s.store.MarkConversationRead(conversationID, user.ID); err != nil {
		http.Error(w, `{"error": "Failed to mark as read"}`, http.StatusInternalServerError)
		return
	}

	// Notify the sender that their messages were read
	peer := models.ConversationPeer(conversationID, user.ID)
	s.hub.Send(peer, models.EventMessagesRead, models.MessagesReadPayload{
		ConversationID: conversationID,
		ReaderID:       user.ID,
	})

	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
