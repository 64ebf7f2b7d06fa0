package server

import (
	"context"
	"net/http"
	"strings"

	"chatlink/models"
)

type contextKey string

const userContextKey contextKey = "user"

// Auth middleware checks for a valid bearer token and adds the user to the
// request context.
func (s *Server) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
			return
		}

		session, err := s.store.GetSession(token)
		if err != nil {
			http.Error(w, `{"error": "Invalid session"}`, http.StatusUnauthorized)
			return
		}

		user, err := s.store.GetUserByID(session.UserID)
		if err != nil {
			http.Error(w, `{"error": "User not found"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext retrieves the authenticated user from the request context
func UserFromContext(r *http.Request) *models.User {
	user, ok := r.Context().Value(userContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// Browser websocket clients cannot set headers; allow a query token.
	return r.URL.Query().Get("token")
}
