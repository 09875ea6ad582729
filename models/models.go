package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultChatTitle is assigned to chats created without a title. A chat still
// carrying it gets a title derived from its first message.
const DefaultChatTitle = "New Chat"

// DefaultImageType is used when an image is uploaded without a MIME type.
const DefaultImageType = "image/jpeg"

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType tags what a message carries.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
)

// Chat represents a conversation thread
type Chat struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages,omitempty"`
}

// Message represents a message in a chat
type Message struct {
	ID          uuid.UUID   `json:"id"`
	ChatID      uuid.UUID   `json:"chatId"`
	Role        Role        `json:"role"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"contentType"`
	ImageData   string      `json:"imageData,omitempty"`
	ImageType   string      `json:"imageType,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// HasImage reports whether the message carries an inline image.
func (m Message) HasImage() bool {
	return m.ContentType == ContentImage && m.ImageData != ""
}

// CreateChatRequest is the request body for creating a chat
type CreateChatRequest struct {
	Title string `json:"title"`
}

// UpdateChatRequest is the request body for renaming a chat
type UpdateChatRequest struct {
	Title string `json:"title"`
}

// SendMessageRequest is the request body for sending a message
type SendMessageRequest struct {
	Content     string      `json:"content"`
	ChatID      string      `json:"chatId"`
	ContentType ContentType `json:"contentType,omitempty"`
	ImageData   string      `json:"imageData,omitempty"`
	ImageType   string      `json:"imageType,omitempty"`
}

// Normalize validates the request and fills in the image defaults. The
// returned request always satisfies the image invariant: contentType is image
// exactly when image data is present, and then imageType is set.
func (r SendMessageRequest) Normalize() (SendMessageRequest, uuid.UUID, error) {
	if strings.TrimSpace(r.ChatID) == "" {
		return r, uuid.Nil, ErrMissingChatID
	}
	chatID, err := uuid.Parse(r.ChatID)
	if err != nil {
		return r, uuid.Nil, ErrInvalidChatID
	}
	if r.Content == "" && r.ImageData == "" {
		return r, uuid.Nil, ErrEmptyMessage
	}
	if r.ContentType == ContentImage && r.ImageData == "" {
		return r, uuid.Nil, ErrMissingImage
	}

	if r.ImageData != "" {
		r.ContentType = ContentImage
		if r.ImageType == "" {
			r.ImageType = DefaultImageType
		}
	} else {
		r.ContentType = ContentText
		r.ImageType = ""
	}
	return r, chatID, nil
}

// SendMessageResponse is the response for a sent message
type SendMessageResponse struct {
	UserMessage      Message `json:"userMessage"`
	AssistantMessage Message `json:"assistantMessage"`
	ChatTitle        *string `json:"chatTitle,omitempty"`
}

// NormalizeTitle trims a title and reports whether anything is left.
func NormalizeTitle(title string) (string, bool) {
	title = strings.TrimSpace(title)
	return title, title != ""
}
