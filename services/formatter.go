package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"grok-chatbot/models"
)

// ErrEmptyTurn is returned for a message with neither text nor image.
var ErrEmptyTurn = errors.New("message has no text and no image")

const (
	partTypeText     = "text"
	partTypeImageURL = "image_url"
)

// Turn is a stored message classified for the completion request. It is
// either a TextTurn or an ImageTurn.
type Turn interface {
	turn()
}

// TextTurn is a plain text message from the user or the assistant.
type TextTurn struct {
	Role models.Role
	Text string
}

// ImageTurn is a user message carrying an inline image and optional text.
type ImageTurn struct {
	Text     string
	MimeType string
	Data     string
}

func (TextTurn) turn()  {}
func (ImageTurn) turn() {}

// DataURI embeds the image payload as a base64 data URI.
func (t ImageTurn) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", t.MimeType, t.Data)
}

// ClassifyMessage converts a stored message into its Turn variant.
func ClassifyMessage(m models.Message) (Turn, error) {
	if m.Role == models.RoleUser && m.HasImage() {
		mime := m.ImageType
		if mime == "" {
			mime = models.DefaultImageType
		}
		return ImageTurn{Text: m.Content, MimeType: mime, Data: m.ImageData}, nil
	}
	if m.Content == "" {
		return nil, ErrEmptyTurn
	}
	return TextTurn{Role: m.Role, Text: m.Content}, nil
}

// ImageURL references an image in a content part.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one typed element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// CompletionMessage is one role-tagged entry of the completion request. Its
// content is encoded as a plain string unless Parts is set.
type CompletionMessage struct {
	Role  models.Role
	Text  string
	Parts []ContentPart
}

func (m CompletionMessage) MarshalJSON() ([]byte, error) {
	if m.Parts != nil {
		return json.Marshal(struct {
			Role    models.Role   `json:"role"`
			Content []ContentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    models.Role `json:"role"`
		Content string      `json:"content"`
	}{m.Role, m.Text})
}

// HasImage reports whether any part of the entry is an image.
func (m CompletionMessage) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == partTypeImageURL {
			return true
		}
	}
	return false
}

// Prompt is a formatted conversation ready to be sent.
type Prompt struct {
	Messages []CompletionMessage
	// Skipped counts source messages dropped because they had no text and no image.
	Skipped int
}

// FormatConversation builds the completion entries for history. The system
// entry is always first; the rest keep the order of history.
func FormatConversation(systemPrompt string, history []models.Message) Prompt {
	out := Prompt{Messages: make([]CompletionMessage, 0, len(history)+1)}
	out.Messages = append(out.Messages, CompletionMessage{Role: models.RoleSystem, Text: systemPrompt})

	for _, m := range history {
		t, err := ClassifyMessage(m)
		if err != nil {
			out.Skipped++
			continue
		}
		out.Messages = append(out.Messages, formatTurn(t))
	}
	return out
}

func formatTurn(t Turn) CompletionMessage {
	switch v := t.(type) {
	case TextTurn:
		return CompletionMessage{Role: v.Role, Text: v.Text}
	case ImageTurn:
		parts := make([]ContentPart, 0, 2)
		if v.Text != "" {
			parts = append(parts, ContentPart{Type: partTypeText, Text: v.Text})
		}
		parts = append(parts, ContentPart{Type: partTypeImageURL, ImageURL: &ImageURL{URL: v.DataURI()}})
		return CompletionMessage{Role: models.RoleUser, Parts: parts}
	default:
		panic(fmt.Sprintf("services: unknown turn type %T", t))
	}
}

// SelectModel picks visionModel when any entry carries an image part and
// textModel otherwise.
func SelectModel(messages []CompletionMessage, textModel, visionModel string) string {
	for _, m := range messages {
		if m.HasImage() {
			return visionModel
		}
	}
	return textModel
}
