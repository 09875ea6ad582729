package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"grok-chatbot/logger"
)

var (
	// ErrReplyPending is returned when a chat is still waiting for a reply.
	ErrReplyPending = errors.New("chatclient: a reply is still pending for this chat")
	// ErrUnknownMessage is returned by Retry and Discard for ids that are not
	// local optimistic messages.
	ErrUnknownMessage = errors.New("chatclient: no such local message")
)

// State is an immutable snapshot of the store. Callers own it and may keep it.
type State struct {
	Chats  []Chat
	Active *Chat
	// Busy is set while a list, load, create, rename or delete is in flight.
	Busy bool
	// Responding holds the chats waiting for an assistant reply.
	Responding map[string]bool
	// Err is the last failure, replaced by the next one and cleared when an
	// operation starts.
	Err string
}

// IsResponding reports whether chatID is waiting for an assistant reply.
func (s State) IsResponding(chatID string) bool {
	return s.Responding[chatID]
}

// outgoing is an optimistic message and the request that will confirm it.
type outgoing struct {
	msg Message
	req SendRequest
}

// Store holds client-side conversation state and mediates between a UI and
// the chat API. It is safe for concurrent use; state only changes through the
// named operations.
type Store struct {
	backend Backend
	now     func() time.Time
	log     *logger.Logger

	mu       sync.Mutex
	state    State
	outbox   map[string]*outgoing
	subs     map[int]func(State)
	nextSub  int
	lastTemp string
}

type Option func(*Store)

// WithClock replaces time.Now, which also drives temporary message ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Store) { s.log = log }
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		log:     logger.Nop(),
		state:   State{Chats: []Chat{}, Responding: map[string]bool{}},
		outbox:  map[string]*outgoing{},
		subs:    map[int]func(State){},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "chatclient.Store")
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe calls fn with a snapshot after every state change, until the
// returned function is called. fn runs outside the store's lock.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// update applies fn under the lock and notifies subscribers. fn may also touch
// the outbox.
func (s *Store) update(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	snapshot := s.state.clone()
	subs := make([]func(State), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snapshot)
	}
}

// begin marks a blocking operation as started.
func (s *Store) begin() {
	s.update(func(st *State) {
		st.Busy = true
		st.Err = ""
	})
}

// fail ends a blocking operation with an error.
func (s *Store) fail(msg string, err error) error {
	s.log.Error(msg, "error", err)
	s.update(func(st *State) {
		st.Busy = false
		st.Err = fmt.Sprintf("%s: %v", msg, err)
	})
	return err
}

// ListChats replaces the chat list with the server's.
func (s *Store) ListChats(ctx context.Context) error {
	s.begin()
	chats, err := s.backend.ListChats(ctx)
	if err != nil {
		return s.fail("failed to fetch chats", err)
	}
	for i := range chats {
		normalize(&chats[i])
	}
	if chats == nil {
		chats = []Chat{}
	}
	s.update(func(st *State) {
		st.Chats = chats
		st.Busy = false
	})
	return nil
}

// LoadChat makes the chat with id the active chat. Local messages still
// waiting for confirmation or retry stay visible after the reload.
func (s *Store) LoadChat(ctx context.Context, id string) error {
	s.begin()
	chat, err := s.backend.GetChat(ctx, id)
	if err != nil {
		return s.fail("failed to fetch chat", err)
	}
	normalize(&chat)
	s.update(func(st *State) {
		active := chat.clone()
		active.Messages = append(active.Messages, s.localMessagesLocked(chat.ID)...)
		st.Active = &active
		st.Busy = false
	})
	return nil
}

// CreateChat creates a chat, puts it first in the list and makes it active.
// An empty title gets the server's default.
func (s *Store) CreateChat(ctx context.Context, title string) (Chat, error) {
	s.begin()
	chat, err := s.backend.CreateChat(ctx, title)
	if err != nil {
		return Chat{}, s.fail("failed to create chat", err)
	}
	normalize(&chat)
	s.update(func(st *State) {
		st.Chats = append([]Chat{chat.clone()}, st.Chats...)
		active := chat.clone()
		st.Active = &active
		st.Busy = false
	})
	return chat, nil
}

// RenameChat renames a chat in the list and, if it is active, the active chat.
func (s *Store) RenameChat(ctx context.Context, id, title string) error {
	s.begin()
	chat, err := s.backend.RenameChat(ctx, id, title)
	if err != nil {
		return s.fail("failed to update chat", err)
	}
	s.update(func(st *State) {
		st.applyTitle(id, chat.Title, chat.UpdatedAt)
		st.Busy = false
	})
	return nil
}

// DeleteChat removes a chat and drops its local messages.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	s.begin()
	if err := s.backend.DeleteChat(ctx, id); err != nil {
		return s.fail("failed to delete chat", err)
	}
	s.update(func(st *State) {
		for tempID, out := range s.outbox {
			if out.req.ChatID == id {
				delete(s.outbox, tempID)
			}
		}
		chats := st.Chats[:0:0]
		for _, c := range st.Chats {
			if c.ID != id {
				chats = append(chats, c)
			}
		}
		st.Chats = chats
		if st.Active != nil && st.Active.ID == id {
			st.Active = nil
		}
		delete(st.Responding, id)
		st.Busy = false
	})
	return nil
}

// ClearActiveChat deselects the active chat.
func (s *Store) ClearActiveChat() {
	s.update(func(st *State) { st.Active = nil })
}

// SendMessage sends a text message to chatID. An empty chatID targets the
// active chat, or a new chat when none is active.
func (s *Store) SendMessage(ctx context.Context, chatID, content string) error {
	return s.send(ctx, chatID, SendRequest{Content: content, ContentType: "text"})
}

// SendImage sends an image with an optional caption.
func (s *Store) SendImage(ctx context.Context, chatID, content string, image Image) error {
	return s.send(ctx, chatID, SendRequest{
		Content:     content,
		ContentType: "image",
		ImageData:   image.Data,
		ImageType:   image.MimeType,
	})
}

func (s *Store) send(ctx context.Context, chatID string, req SendRequest) error {
	if chatID == "" {
		s.mu.Lock()
		if s.state.Active != nil {
			chatID = s.state.Active.ID
		}
		s.mu.Unlock()
	}
	if chatID == "" {
		chat, err := s.CreateChat(ctx, "")
		if err != nil {
			return err
		}
		chatID = chat.ID
	}
	req.ChatID = chatID

	// Claiming the chat and inserting the optimistic message is one update.
	var (
		temp    Message
		pending bool
	)
	s.update(func(st *State) {
		if st.Responding[chatID] {
			pending = true
			return
		}
		now := s.now()
		temp = Message{
			ID:          s.tempIDLocked(now),
			ChatID:      chatID,
			Role:        "user",
			Content:     req.Content,
			ContentType: req.ContentType,
			ImageData:   req.ImageData,
			ImageType:   req.ImageType,
			CreatedAt:   now,
			Status:      StatusPending,
		}
		s.outbox[temp.ID] = &outgoing{msg: temp, req: req}
		st.Responding[chatID] = true
		st.Err = ""
		if st.Active != nil && st.Active.ID == chatID {
			st.Active.Messages = append(st.Active.Messages, temp)
		}
	})
	if pending {
		return ErrReplyPending
	}

	return s.dispatch(ctx, temp.ID, req)
}

// RetryMessage resends a failed optimistic message.
func (s *Store) RetryMessage(ctx context.Context, tempID string) error {
	var (
		req SendRequest
		err error
	)
	s.update(func(st *State) {
		out, ok := s.outbox[tempID]
		switch {
		case !ok || out.msg.Status != StatusFailed:
			err = ErrUnknownMessage
		case st.Responding[out.req.ChatID]:
			err = ErrReplyPending
		default:
			out.msg.Status = StatusPending
			req = out.req
			st.Responding[req.ChatID] = true
			st.Err = ""
			st.setStatus(tempID, StatusPending)
		}
	})
	if err != nil {
		return err
	}
	return s.dispatch(ctx, tempID, req)
}

// DiscardMessage drops a failed optimistic message.
func (s *Store) DiscardMessage(tempID string) error {
	var err error
	s.update(func(st *State) {
		out, ok := s.outbox[tempID]
		if !ok || out.msg.Status != StatusFailed {
			err = ErrUnknownMessage
			return
		}
		delete(s.outbox, tempID)
		st.removeMessage(tempID)
	})
	return err
}

// dispatch issues the request for an optimistic message and reconciles the
// result into the state.
func (s *Store) dispatch(ctx context.Context, tempID string, req SendRequest) error {
	result, err := s.backend.SendMessage(ctx, req)
	if err != nil {
		s.log.Error("failed to send message", "chat_id", req.ChatID, "error", err)
		s.update(func(st *State) {
			if out, ok := s.outbox[tempID]; ok {
				out.msg.Status = StatusFailed
			}
			delete(st.Responding, req.ChatID)
			st.setStatus(tempID, StatusFailed)
			st.Err = fmt.Sprintf("failed to send message: %v", err)
		})
		return err
	}

	s.update(func(st *State) {
		delete(s.outbox, tempID)
		delete(st.Responding, req.ChatID)
		if st.Active != nil && st.Active.ID == req.ChatID {
			st.removeMessage(tempID)
			st.appendConfirmed(result.UserMessage, result.AssistantMessage)
		}
		if result.ChatTitle != nil {
			st.applyTitle(req.ChatID, *result.ChatTitle, result.AssistantMessage.CreatedAt)
		}
	})
	return nil
}

// tempIDLocked derives a temporary id from the clock, made unique against
// the outbox.
func (s *Store) tempIDLocked(now time.Time) string {
	base := fmt.Sprintf("temp-%d", now.UnixMilli())
	id := base
	for n := 1; s.outbox[id] != nil || id == s.lastTemp; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	s.lastTemp = id
	return id
}

// localMessagesLocked returns copies of the outbox messages for chatID, oldest
// first.
func (s *Store) localMessagesLocked(chatID string) []Message {
	var msgs []Message
	for _, out := range s.outbox {
		if out.req.ChatID == chatID {
			msgs = append(msgs, out.msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs
}

func (st *State) applyTitle(chatID, title string, updatedAt time.Time) {
	for i := range st.Chats {
		if st.Chats[i].ID == chatID {
			st.Chats[i].Title = title
			if !updatedAt.IsZero() {
				st.Chats[i].UpdatedAt = updatedAt
			}
		}
	}
	if st.Active != nil && st.Active.ID == chatID {
		st.Active.Title = title
		if !updatedAt.IsZero() {
			st.Active.UpdatedAt = updatedAt
		}
	}
}

func (st *State) setStatus(msgID string, status MessageStatus) {
	if st.Active == nil {
		return
	}
	for i := range st.Active.Messages {
		if st.Active.Messages[i].ID == msgID {
			st.Active.Messages[i].Status = status
		}
	}
}

// appendConfirmed appends server messages to the active chat, skipping any a
// reload already brought in.
func (st *State) appendConfirmed(msgs ...Message) {
	for _, m := range msgs {
		seen := false
		for _, existing := range st.Active.Messages {
			if existing.ID == m.ID {
				seen = true
				break
			}
		}
		if !seen {
			st.Active.Messages = append(st.Active.Messages, m)
		}
	}
}

func (st *State) removeMessage(msgID string) {
	if st.Active == nil {
		return
	}
	msgs := st.Active.Messages[:0:0]
	for _, m := range st.Active.Messages {
		if m.ID != msgID {
			msgs = append(msgs, m)
		}
	}
	st.Active.Messages = msgs
}

func (st State) clone() State {
	out := State{
		Chats:      make([]Chat, len(st.Chats)),
		Busy:       st.Busy,
		Responding: make(map[string]bool, len(st.Responding)),
		Err:        st.Err,
	}
	for i, c := range st.Chats {
		out.Chats[i] = c.clone()
	}
	if st.Active != nil {
		active := st.Active.clone()
		out.Active = &active
	}
	for id, v := range st.Responding {
		out.Responding[id] = v
	}
	return out
}

func (c Chat) clone() Chat {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	c.Messages = msgs
	return c
}

func normalize(c *Chat) {
	if c.Messages == nil {
		c.Messages = []Message{}
	}
}
