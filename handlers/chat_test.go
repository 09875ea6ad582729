package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grok-chatbot/models"
)

type fakeBackend struct {
	chats   map[uuid.UUID]models.Chat
	listErr error

	createdTitle string
	lastSend     models.SendMessageRequest
	sendResp     models.SendMessageResponse
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{chats: map[uuid.UUID]models.Chat{}}
}

func (f *fakeBackend) add(chat models.Chat) models.Chat {
	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	f.chats[chat.ID] = chat
	return chat
}

func (f *fakeBackend) ListChats(context.Context) ([]models.Chat, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []models.Chat{}
	for _, c := range f.chats {
		c.Messages = nil
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeBackend) GetChat(_ context.Context, id uuid.UUID) (models.Chat, error) {
	chat, ok := f.chats[id]
	if !ok {
		return models.Chat{}, models.ErrChatNotFound
	}
	return chat, nil
}

func (f *fakeBackend) CreateChat(_ context.Context, title string) (models.Chat, error) {
	f.createdTitle = title
	if strings.TrimSpace(title) == "" {
		title = models.DefaultChatTitle
	}
	return f.add(models.Chat{Title: title, CreatedAt: time.Now(), UpdatedAt: time.Now()}), nil
}

func (f *fakeBackend) RenameChat(_ context.Context, id uuid.UUID, title string) (models.Chat, error) {
	chat, ok := f.chats[id]
	if !ok {
		return models.Chat{}, models.ErrChatNotFound
	}
	chat.Title = strings.TrimSpace(title)
	f.chats[id] = chat
	return chat, nil
}

func (f *fakeBackend) DeleteChat(_ context.Context, id uuid.UUID) error {
	if _, ok := f.chats[id]; !ok {
		return models.ErrChatNotFound
	}
	delete(f.chats, id)
	return nil
}

func (f *fakeBackend) SendMessage(_ context.Context, chatID uuid.UUID, req models.SendMessageRequest) (models.SendMessageResponse, error) {
	if _, ok := f.chats[chatID]; !ok {
		return models.SendMessageResponse{}, models.ErrChatNotFound
	}
	f.lastSend = req
	return f.sendResp, nil
}

func newTestRouter(backend Backend) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewChatHandler(backend, nil).RegisterRoutes(router.Group("/api"))
	router.GET("/health", Health)
	return router
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body.Error
}

func TestListChatsEmptyArray(t *testing.T) {
	router := newTestRouter(newFakeBackend())

	recorder := doRequest(router, http.MethodGet, "/api/chats", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `[]`, recorder.Body.String())
}

func TestListChatsInternalErrorIsOpaque(t *testing.T) {
	backend := newFakeBackend()
	backend.listErr = errors.New("pq: password authentication failed")
	router := newTestRouter(backend)

	recorder := doRequest(router, http.MethodGet, "/api/chats", "")
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Equal(t, "Failed to fetch chats", decodeError(t, recorder))
	assert.NotContains(t, recorder.Body.String(), "password")
}

func TestGetChat(t *testing.T) {
	backend := newFakeBackend()
	chat := backend.add(models.Chat{Title: "Trip plan"})
	router := newTestRouter(backend)

	recorder := doRequest(router, http.MethodGet, "/api/chats/"+chat.ID.String(), "")
	require.Equal(t, http.StatusOK, recorder.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.JSONEq(t, `"Trip plan"`, string(body["title"]))
	assert.JSONEq(t, `[]`, string(body["messages"]))
}

func TestGetChatErrors(t *testing.T) {
	router := newTestRouter(newFakeBackend())

	recorder := doRequest(router, http.MethodGet, "/api/chats/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Invalid chat ID", decodeError(t, recorder))

	recorder = doRequest(router, http.MethodGet, "/api/chats/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "Chat not found", decodeError(t, recorder))
}

func TestCreateChat(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantTitle string
	}{
		{name: "no body", body: "", wantTitle: models.DefaultChatTitle},
		{name: "empty title", body: `{"title":""}`, wantTitle: models.DefaultChatTitle},
		{name: "titled", body: `{"title":"Groceries"}`, wantTitle: "Groceries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(newFakeBackend())

			recorder := doRequest(router, http.MethodPost, "/api/chats", tt.body)
			require.Equal(t, http.StatusCreated, recorder.Code)

			var chat models.Chat
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &chat))
			assert.Equal(t, tt.wantTitle, chat.Title)
			assert.NotEqual(t, uuid.Nil, chat.ID)
			assert.Contains(t, recorder.Body.String(), `"messages":[]`)
		})
	}
}

func TestCreateChatRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(newFakeBackend())

	recorder := doRequest(router, http.MethodPost, "/api/chats", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestRenameChat(t *testing.T) {
	backend := newFakeBackend()
	chat := backend.add(models.Chat{Title: models.DefaultChatTitle})
	router := newTestRouter(backend)
	path := "/api/chats/" + chat.ID.String()

	recorder := doRequest(router, http.MethodPatch, path, `{"title":" Groceries "}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "Groceries", backend.chats[chat.ID].Title)

	recorder = doRequest(router, http.MethodPatch, path, `{"title":"   "}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Title is required", decodeError(t, recorder))

	recorder = doRequest(router, http.MethodPatch, "/api/chats/"+uuid.NewString(), `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestDeleteChat(t *testing.T) {
	backend := newFakeBackend()
	chat := backend.add(models.Chat{Title: "Old"})
	router := newTestRouter(backend)

	recorder := doRequest(router, http.MethodDelete, "/api/chats/"+chat.ID.String(), "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"success":true}`, recorder.Body.String())
	assert.Empty(t, backend.chats)

	recorder = doRequest(router, http.MethodDelete, "/api/chats/"+chat.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSendMessage(t *testing.T) {
	backend := newFakeBackend()
	chat := backend.add(models.Chat{Title: models.DefaultChatTitle})
	title := "Trip plan"
	backend.sendResp = models.SendMessageResponse{
		UserMessage:      models.Message{ID: uuid.New(), ChatID: chat.ID, Role: models.RoleUser, Content: "plan a trip", ContentType: models.ContentText},
		AssistantMessage: models.Message{ID: uuid.New(), ChatID: chat.ID, Role: models.RoleAssistant, Content: "Sure", ContentType: models.ContentText},
		ChatTitle:        &title,
	}
	router := newTestRouter(backend)

	recorder := doRequest(router, http.MethodPost, "/api/messages",
		`{"content":"plan a trip","chatId":"`+chat.ID.String()+`"}`)
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp models.SendMessageResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "Sure", resp.AssistantMessage.Content)
	require.NotNil(t, resp.ChatTitle)
	assert.Equal(t, "Trip plan", *resp.ChatTitle)
	assert.Equal(t, models.ContentText, backend.lastSend.ContentType)
}

func TestSendMessageImageDefaults(t *testing.T) {
	backend := newFakeBackend()
	chat := backend.add(models.Chat{Title: models.DefaultChatTitle})
	router := newTestRouter(backend)

	recorder := doRequest(router, http.MethodPost, "/api/messages",
		`{"content":"","chatId":"`+chat.ID.String()+`","imageData":"QUJD"}`)
	require.Equal(t, http.StatusOK, recorder.Code)

	assert.Equal(t, models.ContentImage, backend.lastSend.ContentType)
	assert.Equal(t, models.DefaultImageType, backend.lastSend.ImageType)
	assert.NotContains(t, recorder.Body.String(), "chatTitle")
}

func TestSendMessageValidation(t *testing.T) {
	backend := newFakeBackend()
	chat := backend.add(models.Chat{Title: models.DefaultChatTitle})
	router := newTestRouter(backend)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "malformed", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "missing chat id", body: `{"content":"hi"}`, wantStatus: http.StatusBadRequest},
		{name: "empty message", body: `{"chatId":"` + chat.ID.String() + `"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown chat", body: `{"content":"hi","chatId":"` + uuid.NewString() + `"}`, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := doRequest(router, http.MethodPost, "/api/messages", tt.body)
			assert.Equal(t, tt.wantStatus, recorder.Code)
			assert.NotEmpty(t, decodeError(t, recorder))
		})
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(newFakeBackend())

	recorder := doRequest(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "healthy")
}
