package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendCall struct {
	req    SendRequest
	result chan sendOutcome
}

type sendOutcome struct {
	result SendResult
	err    error
}

// fakeBackend answers everything from memory. SendMessage blocks until the
// test answers through the sends channel.
type fakeBackend struct {
	mu      sync.Mutex
	chats   map[string]Chat
	created int
	err     error

	sends chan sendCall
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{chats: map[string]Chat{}, sends: make(chan sendCall)}
}

func (f *fakeBackend) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeBackend) add(chat Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[chat.ID] = chat
}

func (f *fakeBackend) ListChats(context.Context) ([]Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []Chat
	for _, c := range f.chats {
		c.Messages = nil
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeBackend) GetChat(_ context.Context, id string) (Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Chat{}, f.err
	}
	chat, ok := f.chats[id]
	if !ok {
		return Chat{}, &HTTPError{StatusCode: 404, Message: "Chat not found"}
	}
	return chat, nil
}

func (f *fakeBackend) CreateChat(_ context.Context, title string) (Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Chat{}, f.err
	}
	if title == "" {
		title = "New Chat"
	}
	f.created++
	chat := Chat{ID: fmt.Sprintf("created-%d", f.created), Title: title}
	f.chats[chat.ID] = chat
	return chat, nil
}

func (f *fakeBackend) RenameChat(_ context.Context, id, title string) (Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Chat{}, f.err
	}
	chat := f.chats[id]
	chat.Title = title
	f.chats[id] = chat
	return chat, nil
}

func (f *fakeBackend) DeleteChat(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.chats, id)
	return nil
}

func (f *fakeBackend) SendMessage(_ context.Context, req SendRequest) (SendResult, error) {
	call := sendCall{req: req, result: make(chan sendOutcome)}
	f.sends <- call
	out := <-call.result
	return out.result, out.err
}

func fixedClock() time.Time { return time.UnixMilli(1000) }

func newTestStore(backend Backend) *Store {
	return NewStore(backend, WithClock(fixedClock))
}

// sendAsync starts SendMessage and returns the backend call plus the
// operation's eventual error.
func sendAsync(t *testing.T, store *Store, backend *fakeBackend, chatID, content string) (sendCall, <-chan error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- store.SendMessage(context.Background(), chatID, content) }()
	select {
	case call := <-backend.sends:
		return call, done
	case err := <-done:
		t.Fatalf("send returned before reaching the backend: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("send never reached the backend")
	}
	return sendCall{}, nil
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not finish")
		return nil
	}
}

func tripChat() Chat {
	return Chat{
		ID:    "c1",
		Title: "New Chat",
		Messages: []Message{
			{ID: "m0", ChatID: "c1", Role: "assistant", Content: "welcome"},
		},
	}
}

func TestSendMessageInsertsOptimisticallyBeforeBackendResolves(t *testing.T) {
	backend := newFakeBackend()
	backend.add(tripChat())
	store := newTestStore(backend)
	require.NoError(t, store.LoadChat(context.Background(), "c1"))
	before := len(store.Snapshot().Active.Messages)

	call, done := sendAsync(t, store, backend, "c1", "plan a trip")

	state := store.Snapshot()
	require.Len(t, state.Active.Messages, before+1)
	temp := state.Active.Messages[before]
	assert.Equal(t, "temp-1000", temp.ID)
	assert.Equal(t, "user", temp.Role)
	assert.Equal(t, "plan a trip", temp.Content)
	assert.Equal(t, StatusPending, temp.Status)
	assert.True(t, state.IsResponding("c1"))
	assert.Equal(t, "c1", call.req.ChatID)

	call.result <- sendOutcome{err: errors.New("stop")}
	wait(t, done)
}

func TestSendMessageReconcilesServerRecords(t *testing.T) {
	backend := newFakeBackend()
	backend.add(tripChat())
	store := newTestStore(backend)
	require.NoError(t, store.ListChats(context.Background()))
	require.NoError(t, store.LoadChat(context.Background(), "c1"))

	call, done := sendAsync(t, store, backend, "c1", "plan a trip")
	title := "Trip plan"
	call.result <- sendOutcome{result: SendResult{
		UserMessage:      Message{ID: "u1", ChatID: "c1", Role: "user", Content: "plan a trip"},
		AssistantMessage: Message{ID: "a1", ChatID: "c1", Role: "assistant", Content: "Sure"},
		ChatTitle:        &title,
	}}
	require.NoError(t, wait(t, done))

	state := store.Snapshot()
	ids := make([]string, 0, len(state.Active.Messages))
	for _, m := range state.Active.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m0", "u1", "a1"}, ids)
	assert.NotContains(t, ids, "temp-1000")
	assert.Equal(t, "Trip plan", state.Active.Title)
	require.Len(t, state.Chats, 1)
	assert.Equal(t, "Trip plan", state.Chats[0].Title)
	assert.False(t, state.IsResponding("c1"))
	assert.Empty(t, state.Err)
}

func TestSendMessageFailureKeepsFailedMessage(t *testing.T) {
	backend := newFakeBackend()
	backend.add(tripChat())
	store := newTestStore(backend)
	require.NoError(t, store.LoadChat(context.Background(), "c1"))

	call, done := sendAsync(t, store, backend, "c1", "plan a trip")
	call.result <- sendOutcome{err: &HTTPError{StatusCode: 500, Message: "Failed to send message"}}
	require.Error(t, wait(t, done))

	state := store.Snapshot()
	require.Len(t, state.Active.Messages, 2)
	assert.Equal(t, StatusFailed, state.Active.Messages[1].Status)
	assert.True(t, state.Active.Messages[1].Local())
	assert.Contains(t, state.Err, "failed to send message")
	assert.False(t, state.IsResponding("c1"))
}

func TestRetryMessageResendsFailedMessage(t *testing.T) {
	backend := newFakeBackend()
	backend.add(tripChat())
	store := newTestStore(backend)
	require.NoError(t, store.LoadChat(context.Background(), "c1"))

	call, done := sendAsync(t, store, backend, "c1", "plan a trip")
	call.result <- sendOutcome{err: errors.New("offline")}
	require.Error(t, wait(t, done))

	retryDone := make(chan error, 1)
	go func() { retryDone <- store.RetryMessage(context.Background(), "temp-1000") }()
	retry := <-backend.sends
	assert.Equal(t, "plan a trip", retry.req.Content)
	assert.Equal(t, StatusPending, store.Snapshot().Active.Messages[1].Status)

	retry.result <- sendOutcome{result: SendResult{
		UserMessage:      Message{ID: "u1", ChatID: "c1", Role: "user"},
		AssistantMessage: Message{ID: "a1", ChatID: "c1", Role: "assistant"},
	}}
	require.NoError(t, wait(t, retryDone))

	state := store.Snapshot()
	require.Len(t, state.Active.Messages, 3)
	assert.Equal(t, "u1", state.Active.Messages[1].ID)
	assert.Equal(t, "a1", state.Active.Messages[2].ID)
	assert.Empty(t, state.Err)

	assert.ErrorIs(t, store.RetryMessage(context.Background(), "temp-1000"), ErrUnknownMessage)
}

func TestDiscardMessage(t *testing.T) {
	backend := newFakeBackend()
	backend.add(tripChat())
	store := newTestStore(backend)
	require.NoError(t, store.LoadChat(context.Background(), "c1"))

	call, done := sendAsync(t, store, backend, "c1", "plan a trip")
	assert.ErrorIs(t, store.DiscardMessage("temp-1000"), ErrUnknownMessage, "in-flight messages cannot be discarded")

	call.result <- sendOutcome{err: errors.New("offline")}
	require.Error(t, wait(t, done))

	require.NoError(t, store.DiscardMessage("temp-1000"))
	state := store.Snapshot()
	require.Len(t, state.Active.Messages, 1)
	assert.Equal(t, "m0", state.Active.Messages[0].ID)
}

func TestSecondSendWhileRespondingIsRejected(t *testing.T) {
	backend := newFakeBackend()
	backend.add(tripChat())
	backend.add(Chat{ID: "c2", Title: "Other"})
	store := newTestStore(backend)
	require.NoError(t, store.LoadChat(context.Background(), "c1"))

	call, done := sendAsync(t, store, backend, "c1", "first")

	err := store.SendMessage(context.Background(), "c1", "second")
	assert.ErrorIs(t, err, ErrReplyPending)
	assert.Len(t, store.Snapshot().Active.Messages, 2)

	// Another chat is not blocked.
	other, otherDone := sendAsync(t, store, backend, "c2", "elsewhere")
	state := store.Snapshot()
	assert.True(t, state.IsResponding("c1"))
	assert.True(t, state.IsResponding("c2"))

	other.result <- sendOutcome{err: errors.New("stop")}
	call.result <- sendOutcome{err: errors.New("stop")}
	wait(t, otherDone)
	wait(t, done)
}

func TestSendWithoutChatCreatesOne(t *testing.T) {
	backend := newFakeBackend()
	store := newTestStore(backend)

	call, done := sendAsync(t, store, backend, "", "hello")
	assert.Equal(t, "created-1", call.req.ChatID)

	state := store.Snapshot()
	require.NotNil(t, state.Active)
	assert.Equal(t, "New Chat", state.Active.Title)
	require.Len(t, state.Active.Messages, 1)
	assert.Equal(t, StatusPending, state.Active.Messages[0].Status)

	call.result <- sendOutcome{result: SendResult{
		UserMessage:      Message{ID: "u1", ChatID: "created-1", Role: "user"},
		AssistantMessage: Message{ID: "a1", ChatID: "created-1", Role: "assistant"},
	}}
	require.NoError(t, wait(t, done))
}

func TestSendImageCarriesImage(t *testing.T) {
	backend := newFakeBackend()
	backend.add(tripChat())
	store := newTestStore(backend)
	require.NoError(t, store.LoadChat(context.Background(), "c1"))

	done := make(chan error, 1)
	go func() {
		done <- store.SendImage(context.Background(), "c1", "", Image{Data: "QUJD", MimeType: "image/png"})
	}()
	call := <-backend.sends
	assert.Equal(t, "image", call.req.ContentType)
	assert.Equal(t, "QUJD", call.req.ImageData)
	assert.Equal(t, "image/png", call.req.ImageType)
	assert.Equal(t, "QUJD", store.Snapshot().Active.Messages[1].ImageData)

	call.result <- sendOutcome{err: errors.New("stop")}
	wait(t, done)
}

func TestLoadChatKeepsLocalMessages(t *testing.T) {
	backend := newFakeBackend()
	backend.add(tripChat())
	store := newTestStore(backend)
	require.NoError(t, store.LoadChat(context.Background(), "c1"))

	call, done := sendAsync(t, store, backend, "c1", "plan a trip")
	call.result <- sendOutcome{err: errors.New("offline")}
	wait(t, done)

	store.ClearActiveChat()
	assert.Nil(t, store.Snapshot().Active)

	require.NoError(t, store.LoadChat(context.Background(), "c1"))
	msgs := store.Snapshot().Active.Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "temp-1000", msgs[1].ID)
	assert.Equal(t, StatusFailed, msgs[1].Status)
}

func TestListChatsNormalizesMessages(t *testing.T) {
	backend := newFakeBackend()
	backend.add(Chat{ID: "c1", Title: "One"})
	store := newTestStore(backend)

	require.NoError(t, store.ListChats(context.Background()))
	state := store.Snapshot()
	require.Len(t, state.Chats, 1)
	assert.NotNil(t, state.Chats[0].Messages)
	assert.False(t, state.Busy)
}

func TestOperationFailureSetsErrAndClearsBusy(t *testing.T) {
	backend := newFakeBackend()
	backend.failWith(errors.New("connection refused"))
	store := newTestStore(backend)

	tests := []struct {
		name string
		op   func() error
		want string
	}{
		{name: "list", op: func() error { return store.ListChats(context.Background()) }, want: "failed to fetch chats"},
		{name: "load", op: func() error { return store.LoadChat(context.Background(), "c1") }, want: "failed to fetch chat"},
		{name: "create", op: func() error { _, err := store.CreateChat(context.Background(), ""); return err }, want: "failed to create chat"},
		{name: "rename", op: func() error { return store.RenameChat(context.Background(), "c1", "x") }, want: "failed to update chat"},
		{name: "delete", op: func() error { return store.DeleteChat(context.Background(), "c1") }, want: "failed to delete chat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.op())
			state := store.Snapshot()
			assert.Contains(t, state.Err, tt.want)
			assert.False(t, state.Busy)
		})
	}
}

func TestBusyBracketsOperations(t *testing.T) {
	backend := newFakeBackend()
	store := newTestStore(backend)

	var mu sync.Mutex
	var busy []bool
	unsubscribe := store.Subscribe(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		busy = append(busy, st.Busy)
	})
	defer unsubscribe()

	require.NoError(t, store.ListChats(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, busy)
}

func TestCreateRenameDeletePatchLocalState(t *testing.T) {
	backend := newFakeBackend()
	backend.add(Chat{ID: "c0", Title: "Older"})
	store := newTestStore(backend)
	require.NoError(t, store.ListChats(context.Background()))

	chat, err := store.CreateChat(context.Background(), "Groceries")
	require.NoError(t, err)
	state := store.Snapshot()
	require.Len(t, state.Chats, 2)
	assert.Equal(t, chat.ID, state.Chats[0].ID)
	assert.Equal(t, chat.ID, state.Active.ID)
	assert.NotNil(t, state.Active.Messages)

	require.NoError(t, store.RenameChat(context.Background(), chat.ID, "Shopping"))
	state = store.Snapshot()
	assert.Equal(t, "Shopping", state.Chats[0].Title)
	assert.Equal(t, "Shopping", state.Active.Title)

	require.NoError(t, store.DeleteChat(context.Background(), chat.ID))
	state = store.Snapshot()
	require.Len(t, state.Chats, 1)
	assert.Equal(t, "c0", state.Chats[0].ID)
	assert.Nil(t, state.Active)
}

func TestSnapshotIsIsolated(t *testing.T) {
	backend := newFakeBackend()
	backend.add(tripChat())
	store := newTestStore(backend)
	require.NoError(t, store.LoadChat(context.Background(), "c1"))

	snap := store.Snapshot()
	snap.Active.Messages[0].Content = "changed"
	snap.Active.Title = "changed"
	snap.Responding["c1"] = true

	fresh := store.Snapshot()
	assert.Equal(t, "welcome", fresh.Active.Messages[0].Content)
	assert.Equal(t, "New Chat", fresh.Active.Title)
	assert.False(t, fresh.IsResponding("c1"))
}
