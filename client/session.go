package client

import (
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"chatlink/models"
)

// Session composes the transport, presence tracker, typing coordinator, and
// conversation store into the single object the presentation layer talks
// to. A Session is explicitly constructed and owned by its caller; it holds
// no global state and its lifecycle is Open/Resume then Close.
type Session struct {
	params    Params
	socketURL string
	rest      *RestClient
	tokens    TokenStore

	conn     *Conn
	presence *PresenceTracker
	typing   *TypingCoordinator

	mu         sync.Mutex
	self       models.UserResponse
	store      *Store
	activePeer string
	unsubs     []func()
	opened     bool
}

// NewSession wires a session against the given collaborators. No network
// activity happens until Open, SignUp, or Resume.
func NewSession(socketURL string, rest *RestClient, tokens TokenStore, params Params) *Session {
	s := &Session{
		params:    params,
		socketURL: socketURL,
		rest:      rest,
		tokens:    tokens,
		conn:      NewConn(params),
		presence:  NewPresenceTracker(),
	}
	s.typing = NewTypingCoordinator(s.emitTyping, params.TypingDebounce, params.TypingExpiry)
	return s
}

// Open authenticates with email and password and connects the real-time
// transport. Transport-level failures after this call surface through the
// connection state, not as an error here.
func (s *Session) Open(email, password string) error {
	resp, err := s.rest.Login(email, password)
	if err != nil {
		return errors.Wrap(err, "login")
	}
	return s.start(resp.User, resp.Token)
}

// SignUp registers a new account and opens the session with it.
func (s *Session) SignUp(email, password, name string) error {
	resp, err := s.rest.Signup(email, password, name)
	if err != nil {
		return errors.Wrap(err, "signup")
	}
	return s.start(resp.User, resp.Token)
}

// Resume opens the session with a previously stored token. An invalid or
// expired token is cleared so the next attempt starts from login.
func (s *Session) Resume() error {
	token, err := s.tokens.Load()
	if err != nil {
		return errors.Wrap(err, "load token")
	}
	if token == "" {
		return errors.New("no stored token")
	}
	user, err := s.rest.Me()
	if err != nil {
		if clearErr := s.tokens.Clear(); clearErr != nil {
			jww.WARN.Printf("session: clearing stale token: %v", clearErr)
		}
		return errors.Wrap(err, "resume")
	}
	return s.start(*user, token)
}

func (s *Session) start(user models.UserResponse, token string) error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return errors.New("session already open")
	}
	if token != "" {
		if err := s.tokens.Save(token); err != nil {
			s.mu.Unlock()
			return errors.Wrap(err, "save token")
		}
	}
	s.self = user
	s.store = NewStore(user.ID, s.rest, s.sendReceipt, s.params.DividerGap)
	s.opened = true
	s.unsubs = []func(){
		s.conn.Subscribe(models.EventNewMessage, s.onNewMessage),
		s.conn.Subscribe(models.EventMessageSent, s.onMessageSent),
		s.conn.Subscribe(models.EventMessagesRead, s.onMessagesRead),
		s.conn.Subscribe(models.EventUserTyping, s.onUserTyping),
		s.conn.Subscribe(models.EventUserOnline, s.onUserOnline),
		s.conn.Subscribe(models.EventUserOffline, s.onUserOffline),
		s.conn.Subscribe(models.EventOnlineUsers, s.onOnlineUsers),
		s.conn.SubscribeState(s.onConnState),
	}
	s.mu.Unlock()

	return s.conn.Dial(s.socketURL, token)
}

// Close disconnects and releases the session's resources. The stored token
// survives so a later Resume can pick the account back up.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return
	}
	peer := s.activePeer
	unsubs := s.unsubs
	s.unsubs = nil
	s.activePeer = ""
	s.opened = false
	s.mu.Unlock()

	if peer != "" {
		s.typing.ClearLocal(peer)
	}
	for _, unsub := range unsubs {
		unsub()
	}
	s.typing.Stop()
	s.conn.Close()
}

// Logout invalidates the session server-side, clears the stored token, and
// closes. The server call is best-effort: local teardown happens even when
// it fails.
func (s *Session) Logout() {
	if err := s.rest.Logout(); err != nil {
		jww.WARN.Printf("session: logout request failed: %v", err)
	}
	if err := s.tokens.Clear(); err != nil {
		jww.WARN.Printf("session: clearing token: %v", err)
	}
	s.Close()
}

// CurrentUser returns the authenticated user's record.
func (s *Session) CurrentUser() models.UserResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// ConnState returns the transport state for display.
func (s *Session) ConnState() ConnState {
	return s.conn.State()
}

// SubscribeConnState follows transport state transitions.
func (s *Session) SubscribeConnState(fn StateHandler) (unsubscribe func()) {
	return s.conn.SubscribeState(fn)
}

// Presence exposes the presence tracker for read access and subscription.
func (s *Session) Presence() *PresenceTracker {
	return s.presence
}

// Typing exposes the typing coordinator for read access and subscription.
func (s *Session) Typing() *TypingCoordinator {
	return s.typing
}

// Store exposes the conversation store for read access and subscription.
// Nil until the session is opened.
func (s *Session) Store() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Users lists users matching search, with the live online overlay applied.
func (s *Session) Users(search string) ([]models.UserResponse, error) {
	users, err := s.rest.Users(search)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Online = s.presence.IsOnline(users[i].ID)
	}
	return users, nil
}

// EnterConversation makes peerID's conversation active: announces interest
// to the server, loads the newest history page, and marks it read. Returns
// the canonical conversation ID. A failed history load is returned to the
// caller; it blocks nothing else.
func (s *Session) EnterConversation(peerID string) (string, error) {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return "", errors.New("session not open")
	}
	self := s.self.ID
	s.activePeer = peerID
	store := s.store
	s.mu.Unlock()

	conversationID := models.ConversationID(self, peerID)
	if err := s.conn.Emit(models.EventJoinConversation, models.JoinConversationPayload{
		UserID1: self,
		UserID2: peerID,
	}); err != nil {
		jww.DEBUG.Printf("session: join_conversation: %v", err)
	}

	err := store.LoadPage(conversationID, peerID, 1)
	store.MarkRead(conversationID)
	return conversationID, err
}

// LeaveConversation deactivates the current conversation. The outbound
// typing indicator is withdrawn immediately, without waiting out the
// debounce, and the history window is dropped so late page responses are
// discarded.
func (s *Session) LeaveConversation() {
	s.mu.Lock()
	peer := s.activePeer
	s.activePeer = ""
	self := s.self.ID
	store := s.store
	s.mu.Unlock()

	if peer == "" {
		return
	}
	s.typing.ClearLocal(peer)
	if store != nil {
		store.Reset(models.ConversationID(self, peer))
	}
}

// ActiveConversationID returns the active conversation's canonical ID, or
// "" when none is active.
func (s *Session) ActiveConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activePeer == "" {
		return ""
	}
	return models.ConversationID(s.self.ID, s.activePeer)
}

// SendMessage sends content to the active peer. Over a live connection the
// message appears immediately as an optimistic echo; when the socket is
// down it falls back to the REST path. Either way the outbound typing
// indicator is withdrawn first.
func (s *Session) SendMessage(content string) (models.Message, error) {
	s.mu.Lock()
	peer := s.activePeer
	store := s.store
	s.mu.Unlock()

	if peer == "" {
		return models.Message{}, errors.New("no active conversation")
	}
	s.typing.ClearLocal(peer)
	conversationID := s.ActiveConversationID()

	if s.conn.State() == StateConnected {
		echo := store.RecordSent(conversationID, models.Message{
			ReceiverID: peer,
			Content:    content,
			Type:       models.MessageTypeText,
		})
		err := s.conn.Emit(models.EventSendMessage, models.SendMessagePayload{
			ReceiverID: peer,
			Content:    content,
			Type:       models.MessageTypeText,
		})
		if err == nil {
			return echo, nil
		}
		jww.WARN.Printf("session: socket send failed, using REST: %v", err)
	}

	msg, err := s.rest.Send(peer, content, models.MessageTypeText)
	if err != nil {
		return models.Message{}, errors.Wrap(err, "send message")
	}
	store.AppendIncoming(*msg)
	return *msg, nil
}

// SetComposing reports whether the local composer for the active peer has
// content, driving the outbound typing indicator.
func (s *Session) SetComposing(hasContent bool) {
	s.mu.Lock()
	peer := s.activePeer
	s.mu.Unlock()
	if peer != "" {
		s.typing.SetLocalInput(peer, hasContent)
	}
}

// LoadOlder fetches the next older history page for the active
// conversation, if the server reports more.
func (s *Session) LoadOlder() error {
	s.mu.Lock()
	peer := s.activePeer
	store := s.store
	s.mu.Unlock()

	if peer == "" {
		return errors.New("no active conversation")
	}
	conversationID := s.ActiveConversationID()
	if !store.HasMore(conversationID) {
		return nil
	}
	return store.LoadPage(conversationID, peer, store.Page(conversationID)+1)
}

// emitTyping is the TypingCoordinator's outbound hook. Indicator delivery is
// best-effort.
func (s *Session) emitTyping(peerID string, typing bool) {
	kind := models.EventTypingStop
	if typing {
		kind = models.EventTypingStart
	}
	if err := s.conn.Emit(kind, models.TypingPayload{ReceiverID: peerID}); err != nil {
		jww.DEBUG.Printf("session: %s: %v", kind, err)
	}
}

// sendReceipt is the Store's read-receipt hook. The socket path is tried
// first, then REST; failures are swallowed because receipts are advisory
// and the local read state has already transitioned.
func (s *Session) sendReceipt(conversationID string) {
	err := s.conn.Emit(models.EventMarkMessagesRead, models.MarkReadPayload{
		ConversationID: conversationID,
	})
	if err == nil {
		return
	}
	if err := s.rest.MarkRead(conversationID); err != nil {
		jww.DEBUG.Printf("session: mark-read receipt dropped: %v", err)
	}
}

func (s *Session) onNewMessage(data interface{}) {
	payload, ok := data.(models.NewMessagePayload)
	if !ok {
		return
	}
	s.mu.Lock()
	store := s.store
	activePeer := s.activePeer
	self := s.self.ID
	s.mu.Unlock()
	if store == nil {
		return
	}

	store.AppendIncoming(payload.Message)

	// A live message from the peer we are looking at is read on arrival.
	if payload.Message.SenderID == activePeer && payload.Message.SenderID != self {
		store.MarkRead(models.ConversationID(self, activePeer))
	}
}

func (s *Session) onMessageSent(data interface{}) {
	payload, ok := data.(models.MessageSentPayload)
	if !ok {
		return
	}
	if !payload.Success {
		jww.WARN.Printf("session: server rejected send")
		return
	}
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	if store != nil && payload.Message != nil {
		store.ApplyConfirmation(payload.Message.ConversationID, payload.Message)
	}
}

func (s *Session) onMessagesRead(data interface{}) {
	payload, ok := data.(models.MessagesReadPayload)
	if !ok {
		return
	}
	s.mu.Lock()
	store := s.store
	self := s.self.ID
	s.mu.Unlock()
	if store == nil || payload.ReaderID == self {
		return
	}
	store.ApplyReadReceipt(payload.ConversationID)
}

func (s *Session) onUserTyping(data interface{}) {
	if payload, ok := data.(models.UserTypingPayload); ok {
		s.typing.ApplyRemote(payload.UserID, payload.IsTyping)
	}
}

func (s *Session) onUserOnline(data interface{}) {
	if payload, ok := data.(models.PresencePayload); ok {
		s.presence.SetOnline(payload.UserID)
	}
}

func (s *Session) onUserOffline(data interface{}) {
	if payload, ok := data.(models.PresencePayload); ok {
		s.presence.SetOffline(payload.UserID)
	}
}

func (s *Session) onOnlineUsers(data interface{}) {
	if payload, ok := data.(models.OnlineUsersPayload); ok {
		s.presence.ApplySnapshot(payload.UserIDs)
	}
}

// onConnState requests the authoritative presence snapshot on every
// transition to connected, resolving drift accumulated while offline, and
// re-announces the active conversation.
func (s *Session) onConnState(state ConnState) {
	if state != StateConnected {
		return
	}
	if err := s.conn.Emit(models.EventGetOnlineUsers, nil); err != nil {
		jww.DEBUG.Printf("session: get_online_users: %v", err)
	}

	s.mu.Lock()
	peer := s.activePeer
	self := s.self.ID
	s.mu.Unlock()
	if peer == "" {
		return
	}
	err := s.conn.Emit(models.EventJoinConversation, models.JoinConversationPayload{
		UserID1: self,
		UserID2: peer,
	})
	if err != nil {
		jww.DEBUG.Printf("session: rejoin conversation: %v", err)
	}
}
