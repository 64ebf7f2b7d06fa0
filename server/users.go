package server

import (
	"encoding/json"
	"net/http"

	"chatlink/models"
)

// GetUsers returns users matching the search query, with live online status
func (s *Server) GetUsers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	user := UserFromContext(r)
	if user == nil {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	search := r.URL.Query().Get("search")
	users, err := s.store.SearchUsers(search, user.ID)
	if err != nil {
		http.Error(w, `{"error": "Failed to get users"}`, http.StatusInternalServerError)
		return
	}

	// Add online status
	for i := range users {
		users[i].Online = s.hub.IsUserOnline(users[i].ID)
	}

	if users == nil {
		users = []models.UserResponse{}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"users": users})
}
