package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"chatlink/models"
)

// APIError is a typed request failure from the REST collaborator. The caller
// decides whether it warrants a user-visible notification.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// AuthResponse is the body of successful login, signup, and me calls.
type AuthResponse struct {
	Token string              `json:"token,omitempty"`
	User  models.UserResponse `json:"user"`
}

// RestClient talks to the chat backend's request/response API: auth, user
// search, conversation history, and the send/mark-read fallbacks for when
// the real-time path is unavailable.
type RestClient struct {
	baseURL string
	tokens  TokenStore
	http    *http.Client
}

// NewRestClient creates a client rooted at baseURL (e.g.
// "http://localhost:3000/api"). Outgoing requests carry the bearer token
// from tokens when one is stored.
func NewRestClient(baseURL string, tokens TokenStore) *RestClient {
	return &RestClient{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

// Login authenticates with email and password. The returned token is NOT
// stored; the session owns that decision.
func (r *RestClient) Login(email, password string) (*AuthResponse, error) {
	var out AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := r.do(http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Signup registers a new account and returns its first session token.
func (r *RestClient) Signup(email, password, name string) (*AuthResponse, error) {
	var out AuthResponse
	body := map[string]string{"email": email, "password": password, "name": name}
	if err := r.do(http.MethodPost, "/auth/signup", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me returns the user the stored token belongs to.
func (r *RestClient) Me() (*models.UserResponse, error) {
	var out AuthResponse
	if err := r.do(http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Logout invalidates the stored token server-side.
func (r *RestClient) Logout() error {
	return r.do(http.MethodPost, "/auth/logout", nil, nil)
}

// Users lists users other than the caller, filtered by the search string.
func (r *RestClient) Users(search string) ([]models.UserResponse, error) {
	var out struct {
		Users []models.UserResponse `json:"users"`
	}
	path := "/users?search=" + url.QueryEscape(search)
	if err := r.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// ConversationPage fetches one page of history with peerID, oldest message
// first within the page. Page 1 is the newest window.
func (r *RestClient) ConversationPage(peerID string, page int) (*models.ConversationPage, error) {
	var out models.ConversationPage
	path := "/chat/conversation/" + url.PathEscape(peerID) + "?page=" + strconv.Itoa(page)
	if err := r.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send posts a message over REST, the fallback when the socket is down.
func (r *RestClient) Send(receiverID, content string, kind models.MessageType) (*models.Message, error) {
	var out struct {
		Message models.Message `json:"message"`
	}
	body := models.SendMessagePayload{ReceiverID: receiverID, Content: content, Type: kind}
	if err := r.do(http.MethodPost, "/chat/send", body, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

// MarkRead flags the caller's received messages in the conversation as read.
func (r *RestClient) MarkRead(conversationID string) error {
	path := "/chat/mark-read/" + url.PathEscape(conversationID)
	return r.do(http.MethodPut, path, nil, nil)
}

func (r *RestClient) do(method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errors.Wrap(err, "encode request body")
		}
	}

	req, err := http.NewRequest(method, r.baseURL+path, &buf)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Content-Type", "application/json")
	if token, err := r.tokens.Load(); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrapf(err, "decode %s %s response", method, path)
		}
	}
	return nil
}
