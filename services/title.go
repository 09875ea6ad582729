package services

import (
	"context"
	"strings"

	"grok-chatbot/logger"
	"grok-chatbot/models"
)

const (
	// MaxTitleRunes is the longest title kept without an ellipsis.
	MaxTitleRunes = 20
	titleEllipsis = "..."
	imageTitle    = "Image"

	titlePrompt = "Summarize the user's message as a chat title of at most 20 characters. Reply with the title only, without quotes."
)

// Completer returns the raw completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Titler derives a chat title from the chat's first message.
type Titler struct {
	completer Completer
	log       *logger.Logger
}

func NewTitler(completer Completer, log *logger.Logger) *Titler {
	if log == nil {
		log = logger.Nop()
	}
	return &Titler{completer: completer, log: log.With("service", "Titler")}
}

// Title returns firstMessage verbatim when it fits in MaxTitleRunes, and a
// summarized, truncated title otherwise. It never returns "".
func (t *Titler) Title(ctx context.Context, firstMessage string) string {
	text := strings.Join(strings.Fields(firstMessage), " ")
	if text == "" {
		return imageTitle
	}
	if runeLen(text) <= MaxTitleRunes {
		return text
	}

	prompt := Prompt{Messages: []CompletionMessage{
		{Role: models.RoleSystem, Text: titlePrompt},
		{Role: models.RoleUser, Text: text},
	}}
	summary, err := t.completer.Complete(ctx, prompt)
	if err != nil {
		t.log.Warn("title summary failed, truncating first message", "error", err)
		return TruncateTitle(text)
	}

	summary = strings.Trim(strings.Join(strings.Fields(summary), " "), `"'「」`)
	if summary == "" {
		return TruncateTitle(text)
	}
	return TruncateTitle(summary)
}

// TruncateTitle cuts s to MaxTitleRunes runes and appends an ellipsis when
// anything was cut.
func TruncateTitle(s string) string {
	rs := []rune(s)
	if len(rs) <= MaxTitleRunes {
		return s
	}
	return string(rs[:MaxTitleRunes]) + titleEllipsis
}

func runeLen(s string) int {
	return len([]rune(s))
}
