package server

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chatlink/models"
)

// Store is the server's sqlite-backed storage for users, sessions, and
// messages.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the database at path and ensures the schema.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	tables := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT DEFAULT 'text',
		is_read INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (sender_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (receiver_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	`

	_, err := s.db.Exec(tables)
	return err
}

// newID returns a random opaque identifier.
func newID() string {
	bytes := make([]byte, 12)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// User queries

// CreateUser inserts a new user with an already-hashed password.
func (s *Store) CreateUser(name, email, hashedPassword string) (*models.User, error) {
	id := newID()
	_, err := s.db.Exec(
		"INSERT INTO users (id, name, email, password) VALUES (?, ?, ?, ?)",
		id, name, email, hashedPassword,
	)
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(id)
}

// GetUserByID retrieves a user by their ID
func (s *Store) GetUserByID(id string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRow(
		"SELECT id, name, email, password, last_seen, created_at FROM users WHERE id = ?",
		id,
	).Scan(&user.ID, &user.Name, &user.Email, &user.Password, &user.LastSeen, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user by their email
func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRow(
		"SELECT id, name, email, password, last_seen, created_at FROM users WHERE email = ?",
		email,
	).Scan(&user.ID, &user.Name, &user.Email, &user.Password, &user.LastSeen, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SearchUsers lists users other than currentUserID whose name or email
// matches the query.
func (s *Store) SearchUsers(query, currentUserID string) ([]models.UserResponse, error) {
	rows, err := s.db.Query(
		`SELECT id, name, email, last_seen FROM users
		WHERE (name LIKE ? OR email LIKE ?) AND id != ?
		ORDER BY name LIMIT 50`,
		"%"+query+"%", "%"+query+"%", currentUserID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.UserResponse
	for rows.Next() {
		var user models.UserResponse
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.LastSeen); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// TouchLastSeen records that the user was just seen online.
func (s *Store) TouchLastSeen(userID string) error {
	_, err := s.db.Exec(
		"UPDATE users SET last_seen = ? WHERE id = ?", time.Now().UTC(), userID,
	)
	return err
}

// Session queries

// CreateSession creates a new session token for a user
func (s *Store) CreateSession(token, userID string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expiresAt.UTC(),
	)
	return err
}

// GetSession retrieves a non-expired session by its token
func (s *Store) GetSession(token string) (*models.Session, error) {
	session := &models.Session{}
	err := s.db.QueryRow(
		"SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ? AND expires_at > datetime('now')",
		token,
	).Scan(&session.Token, &session.UserID, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session
func (s *Store) DeleteSession(token string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE token = ?", token)
	return err
}

// Message queries

// CreateMessage persists a new message and returns the stored record.
func (s *Store) CreateMessage(senderID, receiverID, content string, kind models.MessageType) (*models.Message, error) {
	if kind == "" {
		kind = models.MessageTypeText
	}
	id := newID()
	conversationID := models.ConversationID(senderID, receiverID)
	createdAt := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, conversationID, senderID, receiverID, content, string(kind), createdAt,
	)
	if err != nil {
		return nil, err
	}
	return s.GetMessageByID(id)
}

// GetMessageByID retrieves a message by its ID
func (s *Store) GetMessageByID(id string) (*models.Message, error) {
	msg := &models.Message{}
	var kind string
	var isRead int
	err := s.db.QueryRow(
		`SELECT id, conversation_id, sender_id, receiver_id, content, type, is_read, created_at
		FROM messages WHERE id = ?`,
		id,
	).Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID,
		&msg.Content, &kind, &isRead, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.Type = models.MessageType(kind)
	msg.Read = isRead != 0
	return msg, nil
}

// ConversationPage returns one page of the conversation between two users,
// oldest first within the page. Page 1 holds the newest messages; hasMore
// reports whether older pages remain.
func (s *Store) ConversationPage(userID1, userID2 string, page, pageSize int) ([]models.Message, bool, error) {
	if page < 1 {
		page = 1
	}
	conversationID := models.ConversationID(userID1, userID2)
	offset := (page - 1) * pageSize

	rows, err := s.db.Query(
		`SELECT id, conversation_id, sender_id, receiver_id, content, type, is_read, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		conversationID, pageSize+1, offset,
	)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var kind string
		var isRead int
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID,
			&msg.Content, &kind, &isRead, &msg.CreatedAt); err != nil {
			return nil, false, err
		}
		msg.Type = models.MessageType(kind)
		msg.Read = isRead != 0
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > pageSize
	if hasMore {
		messages = messages[:pageSize]
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, hasMore, nil
}

// MarkConversationRead flags every message the reader received in the
// conversation as read.
func (s *Store) MarkConversationRead(conversationID, readerID string) error {
	_, err := s.db.Exec(
		"UPDATE messages SET is_read = 1 WHERE conversation_id = ? AND receiver_id = ? AND is_read = 0",
		conversationID, readerID,
	)
	return err
}
