package server

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatlink/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)

	user, err := store.CreateUser("Alice", "alice@example.com", "hashed")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "Alice", user.Name)

	byEmail, err := store.GetUserByEmail("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	// Duplicate email is rejected by the unique constraint.
	_, err = store.CreateUser("Alice2", "alice@example.com", "hashed")
	assert.Error(t, err)
}

func TestSearchUsersExcludesSelf(t *testing.T) {
	store := newTestStore(t)

	alice, err := store.CreateUser("Alice", "alice@example.com", "x")
	require.NoError(t, err)
	bob, err := store.CreateUser("Bob", "bob@example.com", "x")
	require.NoError(t, err)

	users, err := store.SearchUsers("", alice.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, bob.ID, users[0].ID)

	users, err = store.SearchUsers("bob@", alice.ID)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	users, err = store.SearchUsers("nobody", alice.ID)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestSessionTokens(t *testing.T) {
	store := newTestStore(t)

	user, err := store.CreateUser("Alice", "alice@example.com", "x")
	require.NoError(t, err)

	require.NoError(t, store.CreateSession("tok1", user.ID, time.Now().Add(time.Hour)))
	session, err := store.GetSession("tok1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.UserID)

	// Expired sessions are not returned.
	require.NoError(t, store.CreateSession("tok2", user.ID, time.Now().Add(-time.Hour)))
	_, err = store.GetSession("tok2")
	assert.Error(t, err)

	require.NoError(t, store.DeleteSession("tok1"))
	_, err = store.GetSession("tok1")
	assert.Error(t, err)
}

func TestConversationPaging(t *testing.T) {
	store := newTestStore(t)

	alice, err := store.CreateUser("Alice", "alice@example.com", "x")
	require.NoError(t, err)
	bob, err := store.CreateUser("Bob", "bob@example.com", "x")
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		sender, receiver := alice.ID, bob.ID
		if i%2 == 1 {
			sender, receiver = bob.ID, alice.ID
		}
		_, err := store.CreateMessage(sender, receiver, "msg", models.MessageTypeText)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct created_at for ordering
	}

	page1, hasMore, err := store.ConversationPage(alice.ID, bob.ID, 1, 3)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, page1, 3)

	page2, hasMore, err := store.ConversationPage(bob.ID, alice.ID, 2, 3)
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, page2, 3)

	page3, hasMore, err := store.ConversationPage(alice.ID, bob.ID, 3, 3)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, page3, 1)

	// Pages are chronological within themselves and across each other,
	// oldest in the last page.
	assert.True(t, page3[0].CreatedAt.Before(page2[0].CreatedAt))
	assert.True(t, page2[2].CreatedAt.Before(page1[0].CreatedAt))
	for _, page := range [][]models.Message{page1, page2, page3} {
		for i := 1; i < len(page); i++ {
			assert.False(t, page[i].CreatedAt.Before(page[i-1].CreatedAt))
		}
	}
}

func TestMarkConversationRead(t *testing.T) {
	store := newTestStore(t)

	alice, err := store.CreateUser("Alice", "alice@example.com", "x")
	require.NoError(t, err)
	bob, err := store.CreateUser("Bob", "bob@example.com", "x")
	require.NoError(t, err)

	sent, err := store.CreateMessage(alice.ID, bob.ID, "hi", models.MessageTypeText)
	require.NoError(t, err)
	received, err := store.CreateMessage(bob.ID, alice.ID, "hey", models.MessageTypeText)
	require.NoError(t, err)

	conversationID := models.ConversationID(alice.ID, bob.ID)
	assert.Equal(t, conversationID, sent.ConversationID)

	// Alice marks the conversation read: only the message she received
	// flips.
	require.NoError(t, store.MarkConversationRead(conversationID, alice.ID))

	got, err := store.GetMessageByID(received.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)

	got, err = store.GetMessageByID(sent.ID)
	require.NoError(t, err)
	assert.False(t, got.Read)
}
