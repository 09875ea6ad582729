// Package chatclient is the client side of the chat API: a REST client and a
// Store that holds conversation state for a UI.
package chatclient

import "time"

// MessageStatus marks messages that exist only locally.
type MessageStatus string

const (
	// StatusConfirmed is the zero value: the server holds the message.
	StatusConfirmed MessageStatus = ""
	// StatusPending marks an optimistic message whose request is in flight.
	StatusPending MessageStatus = "pending"
	// StatusFailed marks an optimistic message whose request failed. It stays
	// visible until retried or discarded.
	StatusFailed MessageStatus = "failed"
)

type Message struct {
	ID          string        `json:"id"`
	ChatID      string        `json:"chatId"`
	Role        string        `json:"role"`
	Content     string        `json:"content"`
	ContentType string        `json:"contentType"`
	ImageData   string        `json:"imageData,omitempty"`
	ImageType   string        `json:"imageType,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	Status      MessageStatus `json:"-"`
}

// Local reports whether the message has not been confirmed by the server.
func (m Message) Local() bool {
	return m.Status != StatusConfirmed
}

type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// Image is an inline image attached to a message.
type Image struct {
	// Data is the base64 encoded image.
	Data     string
	MimeType string
}

// SendRequest is the body of POST /messages.
type SendRequest struct {
	Content     string `json:"content"`
	ChatID      string `json:"chatId"`
	ContentType string `json:"contentType,omitempty"`
	ImageData   string `json:"imageData,omitempty"`
	ImageType   string `json:"imageType,omitempty"`
}

// SendResult is the server's answer to a sent message.
type SendResult struct {
	UserMessage      Message `json:"userMessage"`
	AssistantMessage Message `json:"assistantMessage"`
	ChatTitle        *string `json:"chatTitle,omitempty"`
}
