package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"grok-chatbot/httpclient"
)

// maxResponseBytes bounds a decoded response. Chats carry inline images.
const maxResponseBytes = 64 << 20

// Backend is the chat API as the Store sees it.
type Backend interface {
	ListChats(ctx context.Context) ([]Chat, error)
	GetChat(ctx context.Context, id string) (Chat, error)
	CreateChat(ctx context.Context, title string) (Chat, error)
	RenameChat(ctx context.Context, id, title string) (Chat, error)
	DeleteChat(ctx context.Context, id string) error
	SendMessage(ctx context.Context, req SendRequest) (SendResult, error)
}

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	// Message is the server's error string, or the status text when the body
	// carried none.
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// API is the REST client for the chat server.
type API struct {
	base *httpclient.BaseClient
}

// NewAPI builds a client for the API rooted at baseURL, e.g.
// http://localhost:8080/api.
func NewAPI(httpClient *http.Client, baseURL string) *API {
	return &API{base: httpclient.NewBaseClient(httpClient, strings.TrimRight(baseURL, "/"))}
}

func (a *API) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	if err := a.do(ctx, http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (a *API) GetChat(ctx context.Context, id string) (Chat, error) {
	var chat Chat
	err := a.do(ctx, http.MethodGet, "/chats/"+id, nil, &chat)
	return chat, err
}

func (a *API) CreateChat(ctx context.Context, title string) (Chat, error) {
	var chat Chat
	err := a.do(ctx, http.MethodPost, "/chats", map[string]string{"title": title}, &chat)
	return chat, err
}

func (a *API) RenameChat(ctx context.Context, id, title string) (Chat, error) {
	var chat Chat
	err := a.do(ctx, http.MethodPatch, "/chats/"+id, map[string]string{"title": title}, &chat)
	return chat, err
}

func (a *API) DeleteChat(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/chats/"+id, nil, nil)
}

func (a *API) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	var result SendResult
	err := a.do(ctx, http.MethodPost, "/messages", req, &result)
	return result, err
}

func (a *API) do(ctx context.Context, method, relPath string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := a.base.NewRequest(ctx, method, relPath, nil, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newHTTPError(status int, body []byte) *HTTPError {
	var payload struct {
		Error string `json:"error"`
	}
	msg := http.StatusText(status)
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &HTTPError{StatusCode: status, Message: msg}
}
