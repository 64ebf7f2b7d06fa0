package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"chatlink/models"
)

// HistoryService is the collaborator the store pages conversation history
// from. *RestClient satisfies it.
type HistoryService interface {
	ConversationPage(peerID string, page int) (*models.ConversationPage, error)
}

// ReceiptSender broadcasts a mark-read receipt for a conversation to the
// peer. Receipts are advisory: implementations swallow delivery failures.
type ReceiptSender func(conversationID string)

// Entry is one displayable message plus the presentation hint for the time
// divider rendered above it.
type Entry struct {
	models.Message

	// ShowDivider is set on the first message and whenever the gap since
	// the previous message exceeds the configured divider gap.
	ShowDivider bool
}

// conversation is the in-memory log for one conversation.
type conversation struct {
	messages []models.Message // sorted ascending by CreatedAt
	ids      map[string]bool
	pending  map[string]bool // local echo IDs awaiting server confirmation
	page     int
	hasMore  bool
	loading  bool
	gen      int // bumped by Reset; stale page loads are discarded
}

// Store keeps the per-conversation message logs consistent under
// pagination, live delivery, optimistic sends, and read receipts. Messages
// are held only for the session; nothing is persisted.
type Store struct {
	selfID     string
	history    HistoryService
	receipt    ReceiptSender
	dividerGap time.Duration

	mu      sync.Mutex
	convs   map[string]*conversation
	subs    map[uint64]func(conversationID string)
	nextID  uint64
	echoSeq uint64
}

// NewStore creates a store for the given authenticated user.
func NewStore(selfID string, history HistoryService, receipt ReceiptSender, dividerGap time.Duration) *Store {
	if receipt == nil {
		receipt = func(string) {}
	}
	return &Store{
		selfID:     selfID,
		history:    history,
		receipt:    receipt,
		dividerGap: dividerGap,
		convs:      make(map[string]*conversation),
		subs:       make(map[uint64]func(string)),
	}
}

// LoadPage fetches one page of history for the conversation with peerID.
// Page 1 replaces the visible window; later pages prepend older messages.
// While a load for the conversation is in flight further calls are no-ops,
// and a response that arrives after Reset is discarded as stale.
func (s *Store) LoadPage(conversationID, peerID string, page int) error {
	if page < 1 {
		return errors.Errorf("store: invalid page %d", page)
	}

	s.mu.Lock()
	conv := s.conv(conversationID)
	if conv.loading {
		s.mu.Unlock()
		return nil
	}
	conv.loading = true
	gen := conv.gen
	s.mu.Unlock()

	result, err := s.history.ConversationPage(peerID, page)

	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok || conv.gen != gen {
		s.mu.Unlock()
		jww.DEBUG.Printf("store: discarding stale page %d for %s", page, conversationID)
		return nil
	}
	conv.loading = false
	if err != nil {
		s.mu.Unlock()
		return errors.Wrapf(err, "store: load page %d of %s", page, conversationID)
	}

	if page == 1 {
		conv.messages = nil
		conv.ids = make(map[string]bool)
		conv.pending = make(map[string]bool)
	}
	for _, msg := range result.Messages {
		if conv.ids[msg.ID] {
			continue
		}
		insertMessage(conv, msg)
	}
	conv.page = page
	conv.hasMore = result.Pagination.HasMore
	s.mu.Unlock()

	s.notify(conversationID)
	return nil
}

// AppendIncoming inserts a live message into its conversation. Duplicates of
// messages already present, whether from an earlier delivery or a page load,
// are dropped silently. A message from the current user reconciles any
// matching optimistic echo instead of producing a second entry.
func (s *Store) AppendIncoming(msg models.Message) {
	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = models.ConversationID(msg.SenderID, msg.ReceiverID)
		msg.ConversationID = conversationID
	}

	s.mu.Lock()
	conv := s.conv(conversationID)
	if conv.ids[msg.ID] {
		s.mu.Unlock()
		return
	}
	if msg.SenderID == s.selfID {
		s.reconcileEcho(conv, msg)
	}
	insertMessage(conv, msg)
	s.mu.Unlock()

	s.notify(conversationID)
}

// RecordSent appends an optimistic local echo for a just-issued send and
// returns it. The echo carries a local ID until the server confirmation or
// broadcast referencing the same logical send replaces it.
func (s *Store) RecordSent(conversationID string, echo models.Message) models.Message {
	s.mu.Lock()
	if echo.ID == "" {
		s.echoSeq++
		echo.ID = fmt.Sprintf("local-%d", s.echoSeq)
	}
	if echo.CreatedAt.IsZero() {
		echo.CreatedAt = time.Now()
	}
	echo.ConversationID = conversationID
	echo.SenderID = s.selfID

	conv := s.conv(conversationID)
	insertMessage(conv, echo)
	conv.pending[echo.ID] = true
	s.mu.Unlock()

	s.notify(conversationID)
	return echo
}

// ApplyConfirmation reconciles a message_sent acknowledgement with the
// pending echo for the same send.
func (s *Store) ApplyConfirmation(conversationID string, msg *models.Message) {
	if msg == nil {
		return
	}
	confirmed := *msg
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = conversationID
	}
	s.AppendIncoming(confirmed)
}

// MarkRead flips the read flag on every received message in the
// conversation and fires the peer-visible receipt once. The receipt is
// best-effort; local read state does not depend on its delivery.
func (s *Store) MarkRead(conversationID string) {
	s.mu.Lock()
	conv := s.conv(conversationID)
	changed := false
	for i := range conv.messages {
		if conv.messages[i].ReceiverID == s.selfID && !conv.messages[i].Read {
			conv.messages[i].Read = true
			changed = true
		}
	}
	s.mu.Unlock()

	s.receipt(conversationID)
	if changed {
		s.notify(conversationID)
	}
}

// ApplyReadReceipt flips the read flag on every message the current user
// sent in the conversation, in response to a messages_read event.
func (s *Store) ApplyReadReceipt(conversationID string) {
	s.mu.Lock()
	conv := s.conv(conversationID)
	changed := false
	for i := range conv.messages {
		if conv.messages[i].SenderID == s.selfID && !conv.messages[i].Read {
			conv.messages[i].Read = true
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify(conversationID)
	}
}

// Messages returns the conversation's log, oldest first.
func (s *Store) Messages(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(conv.messages))
	copy(out, conv.messages)
	return out
}

// Entries returns the displayable log with time-divider hints applied.
func (s *Store) Entries(conversationID string) []Entry {
	msgs := s.Messages(conversationID)
	entries := make([]Entry, len(msgs))
	for i, msg := range msgs {
		entries[i] = Entry{Message: msg}
		if i == 0 || msg.CreatedAt.Sub(msgs[i-1].CreatedAt) > s.dividerGap {
			entries[i].ShowDivider = true
		}
	}
	return entries
}

// HasMore reports whether older pages remain for the conversation.
func (s *Store) HasMore(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	return ok && conv.hasMore
}

// Page returns the highest history page loaded so far, 0 if none.
func (s *Store) Page(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return 0
	}
	return conv.page
}

// Reset drops the conversation's window and invalidates in-flight page
// loads. Called when the user leaves the conversation.
func (s *Store) Reset(conversationID string) {
	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if ok {
		conv.gen++
		conv.messages = nil
		conv.ids = make(map[string]bool)
		conv.pending = make(map[string]bool)
		conv.page = 0
		conv.hasMore = false
		conv.loading = false
	}
	s.mu.Unlock()

	if ok {
		s.notify(conversationID)
	}
}

// Subscribe registers a callback invoked with the conversation ID whenever
// a conversation's log changes.
func (s *Store) Subscribe(fn func(conversationID string)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// conv returns the conversation record, creating it if needed. Caller holds
// the lock.
func (s *Store) conv(conversationID string) *conversation {
	conv, ok := s.convs[conversationID]
	if !ok {
		conv = &conversation{
			ids:     make(map[string]bool),
			pending: make(map[string]bool),
		}
		s.convs[conversationID] = conv
	}
	return conv
}

// reconcileEcho removes the oldest pending echo matching the confirmed
// message so the confirmation does not show up next to its own echo. Caller
// holds the lock.
func (s *Store) reconcileEcho(conv *conversation, confirmed models.Message) {
	for i := range conv.messages {
		m := conv.messages[i]
		if !conv.pending[m.ID] {
			continue
		}
		if m.Content != confirmed.Content || m.ReceiverID != confirmed.ReceiverID {
			continue
		}
		delete(conv.pending, m.ID)
		delete(conv.ids, m.ID)
		conv.messages = append(conv.messages[:i], conv.messages[i+1:]...)
		return
	}
}

// insertMessage places msg in timestamp order, after any equal timestamps so
// delivery order breaks ties. Caller holds the lock.
func insertMessage(conv *conversation, msg models.Message) {
	i := len(conv.messages)
	for i > 0 && conv.messages[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	conv.messages = append(conv.messages, models.Message{})
	copy(conv.messages[i+1:], conv.messages[i:])
	conv.messages[i] = msg
	conv.ids[msg.ID] = true
}

func (s *Store) notify(conversationID string) {
	s.mu.Lock()
	fns := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(conversationID)
	}
}
