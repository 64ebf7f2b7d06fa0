package server

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"chatlink/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// wsClient represents one connected websocket client
type wsClient struct {
	userID string
	conn   *websocket.Conn
	send   chan models.Frame
}

type directedFrame struct {
	userID string
	frame  models.Frame
}

// Hub maintains the set of active clients, their conversation membership,
// and presence fan-out.
type Hub struct {
	store      *Store
	clients    map[string]*wsClient // userID -> client
	rooms      map[string]map[string]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan directedFrame
	mutex      sync.RWMutex
}

// NewHub creates a hub backed by the given store.
func NewHub(store *Store) *Hub {
	return &Hub{
		store:      store,
		clients:    make(map[string]*wsClient),
		rooms:      make(map[string]map[string]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan directedFrame, 256),
	}
}

// Run processes hub registration and fan-out. Call once, in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.userID] = client
			h.mutex.Unlock()
			log.Printf("Client connected: user %s", client.userID)

			h.broadcastPresence(client.userID, true)

		case client := <-h.unregister:
			h.mutex.Lock()
			if current, ok := h.clients[client.userID]; ok && current == client {
				delete(h.clients, client.userID)
				close(client.send)
			}
			for _, members := range h.rooms {
				delete(members, client.userID)
			}
			h.mutex.Unlock()
			log.Printf("Client disconnected: user %s", client.userID)

			if err := h.store.TouchLastSeen(client.userID); err != nil {
				log.Printf("Error updating last seen: %v", err)
			}
			h.broadcastPresence(client.userID, false)

		case payload := <-h.broadcast:
			h.mutex.Lock()
			if client, ok := h.clients[payload.userID]; ok {
				select {
				case client.send <- payload.frame:
				default:
					close(client.send)
					delete(h.clients, payload.userID)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// IsUserOnline checks if a user is currently connected
func (h *Hub) IsUserOnline(userID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// OnlineUserIDs returns the IDs of all connected users.
func (h *Hub) OnlineUserIDs() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// Send delivers one event to a specific user, if connected.
func (h *Hub) Send(userID string, kind models.EventKind, payload interface{}) {
	frame, err := models.NewFrame(kind, payload)
	if err != nil {
		log.Printf("Error building %s frame: %v", kind, err)
		return
	}
	h.broadcast <- directedFrame{userID: userID, frame: frame}
}

// broadcastPresence notifies all other connected clients of a status change.
func (h *Hub) broadcastPresence(userID string, online bool) {
	kind := models.EventUserOffline
	if online {
		kind = models.EventUserOnline
	}
	frame, err := models.NewFrame(kind, models.PresencePayload{UserID: userID})
	if err != nil {
		log.Printf("Error building presence frame: %v", err)
		return
	}

	h.mutex.RLock()
	for _, client := range h.clients {
		if client.userID != userID {
			select {
			case client.send <- frame:
			default:
			}
		}
	}
	h.mutex.RUnlock()
}

// HandleWebSocket upgrades an authenticated request to a websocket session.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r)
	if user == nil {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &wsClient{
		userID: user.ID,
		conn:   conn,
		send:   make(chan models.Frame, 256),
	}

	h.register <- client

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		var frame models.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		data, err := models.DecodeEventData(frame)
		if err != nil {
			log.Printf("Dropping frame from %s: %v", c.userID, err)
			continue
		}
		h.handleEvent(c, frame.Event, data)
	}
}

func (h *Hub) writePump(c *wsClient) {
	defer c.conn.Close()

	for frame := range c.send {
		if err := c.conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

// handleEvent reacts to one inbound client event.
func (h *Hub) handleEvent(c *wsClient, kind models.EventKind, data interface{}) {
	switch kind {
	case models.EventJoinConversation:
		payload := data.(models.JoinConversationPayload)
		conversationID := models.ConversationID(payload.UserID1, payload.UserID2)
		h.mutex.Lock()
		if h.rooms[conversationID] == nil {
			h.rooms[conversationID] = make(map[string]bool)
		}
		h.rooms[conversationID][c.userID] = true
		h.mutex.Unlock()

	case models.EventSendMessage:
		payload := data.(models.SendMessagePayload)
		if payload.Content == "" || payload.ReceiverID == "" {
			h.Send(c.userID, models.EventMessageSent, models.MessageSentPayload{Success: false})
			return
		}
		msg, err := h.store.CreateMessage(c.userID, payload.ReceiverID, payload.Content, payload.Type)
		if err != nil {
			log.Printf("Error storing message from %s: %v", c.userID, err)
			h.Send(c.userID, models.EventMessageSent, models.MessageSentPayload{Success: false})
			return
		}
		h.Send(c.userID, models.EventMessageSent, models.MessageSentPayload{Success: true, Message: msg})
		h.Send(msg.ReceiverID, models.EventNewMessage, models.NewMessagePayload{Message: *msg})

	case models.EventTypingStart, models.EventTypingStop:
		payload := data.(models.TypingPayload)
		h.Send(payload.ReceiverID, models.EventUserTyping, models.UserTypingPayload{
			UserID:   c.userID,
			IsTyping: kind == models.EventTypingStart,
		})

	case models.EventMarkMessagesRead:
		payload := data.(models.MarkReadPayload)
		if err := h.store.MarkConversationRead(payload.ConversationID, c.userID); err != nil {
			log.Printf("Error marking read: %v", err)
			return
		}
		peer := models.ConversationPeer(payload.ConversationID, c.userID)
		if peer == "" {
			return
		}
		h.Send(peer, models.EventMessagesRead, models.MessagesReadPayload{
			ConversationID: payload.ConversationID,
			ReaderID:       c.userID,
		})

	case models.EventGetOnlineUsers:
		h.Send(c.userID, models.EventOnlineUsers, models.OnlineUsersPayload{
			UserIDs: h.OnlineUserIDs(),
		})
	}
}
