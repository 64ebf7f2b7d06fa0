package client

import (
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatlink/models"
	"chatlink/server"
)

// startBackend runs the real server on a loopback listener and returns the
// REST base URL and the websocket URL.
func startBackend(t *testing.T) (restBase, socketURL string) {
	t.Helper()
	store, err := server.OpenStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ts := httptest.NewServer(server.NewServer(store).Router())
	t.Cleanup(ts.Close)

	return ts.URL + "/api", "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func newTestSession(t *testing.T, restBase, socketURL string) (*Session, *MemoryTokenStore) {
	t.Helper()
	tokens := &MemoryTokenStore{}
	rest := NewRestClient(restBase, tokens)
	s := NewSession(socketURL, rest, tokens, testParams())
	t.Cleanup(s.Close)
	return s, tokens
}

func waitConnected(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.ConnState() == StateConnected
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionEndToEnd(t *testing.T) {
	restBase, socketURL := startBackend(t)

	alice, _ := newTestSession(t, restBase, socketURL)
	require.NoError(t, alice.SignUp("alice@example.com", "secret1", "Alice"))
	waitConnected(t, alice)

	bob, _ := newTestSession(t, restBase, socketURL)
	require.NoError(t, bob.SignUp("bob@example.com", "secret2", "Bob"))
	waitConnected(t, bob)

	aliceID := alice.CurrentUser().ID
	bobID := bob.CurrentUser().ID
	require.NotEmpty(t, aliceID)
	require.NotEqual(t, aliceID, bobID)

	// Alice sees Bob come online.
	require.Eventually(t, func() bool {
		return alice.Presence().IsOnline(bobID)
	}, 5*time.Second, 10*time.Millisecond)

	// User search carries the online overlay.
	users, err := alice.Users("Bob")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Bob", users[0].Name)
	assert.True(t, users[0].Online)

	// Alice opens the conversation and sends a message.
	conversationID, err := alice.EnterConversation(bobID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationID(aliceID, bobID), conversationID)

	sent, err := alice.SendMessage("hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", sent.Content)

	// Bob receives it live; Alice's echo reconciles to exactly one entry.
	require.Eventually(t, func() bool {
		msgs := bob.Store().Messages(conversationID)
		return len(msgs) == 1 && msgs[0].Content == "hi"
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		msgs := alice.Store().Messages(conversationID)
		return len(msgs) == 1 && !strings.HasPrefix(msgs[0].ID, "local-")
	}, 5*time.Second, 10*time.Millisecond)

	// Bob opens the conversation, which marks it read; Alice gets the
	// receipt and her sent message flips to read.
	_, err = bob.EnterConversation(aliceID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := alice.Store().Messages(conversationID)
		return len(msgs) == 1 && msgs[0].Read
	}, 5*time.Second, 10*time.Millisecond)

	// Typing indicator travels from Bob to Alice while he composes.
	bob.SetComposing(true)
	require.Eventually(t, func() bool {
		return alice.Typing().IsPeerTyping(bobID)
	}, 5*time.Second, 10*time.Millisecond)

	// Bob logs out; Alice sees him go offline.
	bob.Logout()
	require.Eventually(t, func() bool {
		return !alice.Presence().IsOnline(bobID)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionResume(t *testing.T) {
	restBase, socketURL := startBackend(t)

	tokens := &MemoryTokenStore{}
	rest := NewRestClient(restBase, tokens)

	first := NewSession(socketURL, rest, tokens, testParams())
	require.NoError(t, first.SignUp("carol@example.com", "secret3", "Carol"))
	waitConnected(t, first)
	first.Close()

	// The token survives Close; a fresh session resumes the account.
	second := NewSession(socketURL, rest, tokens, testParams())
	defer second.Close()
	require.NoError(t, second.Resume())
	waitConnected(t, second)
	assert.Equal(t, "Carol", second.CurrentUser().Name)
}

func TestSessionResumeClearsBadToken(t *testing.T) {
	restBase, socketURL := startBackend(t)

	tokens := &MemoryTokenStore{}
	require.NoError(t, tokens.Save("not-a-real-token"))
	rest := NewRestClient(restBase, tokens)

	s := NewSession(socketURL, rest, tokens, testParams())
	defer s.Close()
	require.Error(t, s.Resume())

	token, err := tokens.Load()
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestSessionOpenRejectsBadPassword(t *testing.T) {
	restBase, socketURL := startBackend(t)

	setup, _ := newTestSession(t, restBase, socketURL)
	require.NoError(t, setup.SignUp("dave@example.com", "secret4", "Dave"))
	setup.Close()

	s, _ := newTestSession(t, restBase, socketURL)
	err := s.Open("dave@example.com", "wrong")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
}
