package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Server bundles the store, the websocket hub, and the HTTP handlers.
type Server struct {
	store *Store
	hub   *Hub
}

// NewServer creates a server around the store and starts the hub.
func NewServer(store *Store) *Server {
	s := &Server{
		store: store,
		hub:   NewHub(store),
	}
	go s.hub.Run()
	return s
}

// Hub exposes the websocket hub, mainly for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/signup", s.Signup).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.Login).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.Logout).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.Auth)
	authed.HandleFunc("/auth/me", s.Me).Methods(http.MethodGet)
	authed.HandleFunc("/users", s.GetUsers).Methods(http.MethodGet)
	authed.HandleFunc("/chat/conversation/{userId}", s.GetConversation).Methods(http.MethodGet)
	authed.HandleFunc("/chat/send", s.SendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/chat/mark-read/{conversationId}", s.MarkAsRead).Methods(http.MethodPut)

	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(s.Auth)
	ws.HandleFunc("", s.hub.HandleWebSocket)

	return r
}
