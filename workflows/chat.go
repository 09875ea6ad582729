package workflows

import (
	"context"
	"time"

	"grok-chatbot/logger"
	"grok-chatbot/models"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"
)

// ChatStore is the persistence the workflows need.
type ChatStore interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	GetChat(ctx context.Context, id uuid.UUID) (models.Chat, error)
	ChatExists(ctx context.Context, id uuid.UUID) (bool, error)
	CreateChat(ctx context.Context, title string) (models.Chat, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) (models.Chat, error)
	TouchChat(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteMessages(ctx context.Context, chatID uuid.UUID) error
	DeleteChat(ctx context.Context, id uuid.UUID) error
	InsertMessage(ctx context.Context, msg models.Message) error
}

// Replier produces the assistant reply for a history. It never fails.
type Replier interface {
	Reply(ctx context.Context, history []models.Message) string
}

// TitleGenerator derives a chat title from the first message.
type TitleGenerator interface {
	Title(ctx context.Context, firstMessage string) string
}

// ChatWorkflows contains DBOS workflows for chat operations
type ChatWorkflows struct {
	store   ChatStore
	replier Replier
	titler  TitleGenerator
	log     *logger.Logger
	now     func() time.Time
}

// NewChatWorkflows creates a new ChatWorkflows instance
func NewChatWorkflows(store ChatStore, replier Replier, titler TitleGenerator, log *logger.Logger) *ChatWorkflows {
	if log == nil {
		log = logger.Nop()
	}
	return &ChatWorkflows{
		store:   store,
		replier: replier,
		titler:  titler,
		log:     log.With("component", "ChatWorkflows"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SendMessageInput contains the input for the SendMessage workflow. It is
// already validated: ContentType is image exactly when ImageData is set.
type SendMessageInput struct {
	ChatID      uuid.UUID
	Content     string
	ContentType models.ContentType
	ImageData   string
	ImageType   string
}

// SendMessageOutput contains the output of the SendMessage workflow
type SendMessageOutput struct {
	UserMessage      models.Message
	AssistantMessage models.Message
	// ChatTitle is set when this message gave the chat its title.
	ChatTitle string
}

// SendMessageWorkflow stores the user message, obtains the assistant reply and
// stores it. If the workflow fails at any point, DBOS resumes it from the last
// completed step.
func (w *ChatWorkflows) SendMessageWorkflow(ctx dbos.DBOSContext, input SendMessageInput) (SendMessageOutput, error) {
	var output SendMessageOutput

	// Step 1: Load the chat and its history
	chat, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (models.Chat, error) {
		return w.store.GetChat(stepCtx, input.ChatID)
	})
	if err != nil {
		return output, err
	}

	// Step 2: Save user message and bump the chat
	userMsg, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (models.Message, error) {
		return w.saveUserMessage(stepCtx, input)
	})
	if err != nil {
		return output, err
	}
	output.UserMessage = userMsg

	// Step 3: Get the reply; failures come back as the fallback text
	reply, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (string, error) {
		return w.replier.Reply(stepCtx, conversation(chat.Messages, userMsg)), nil
	})
	if err != nil {
		return output, err
	}

	// Step 4: Save assistant message
	assistantMsg, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (models.Message, error) {
		return w.saveMessage(stepCtx, models.Message{
			ChatID:      input.ChatID,
			Role:        models.RoleAssistant,
			Content:     reply,
			ContentType: models.ContentText,
		})
	})
	if err != nil {
		return output, err
	}
	output.AssistantMessage = assistantMsg

	// Step 5: Title the chat after its first message
	if needsTitle(chat) {
		title, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (string, error) {
			return w.applyTitle(stepCtx, input.ChatID, input.Content), nil
		})
		if err != nil {
			return output, err
		}
		output.ChatTitle = title
	}

	return output, nil
}

// CreateChatWorkflow creates a new chat durably
func (w *ChatWorkflows) CreateChatWorkflow(ctx dbos.DBOSContext, title string) (models.Chat, error) {
	return dbos.RunAsStep(ctx, func(stepCtx context.Context) (models.Chat, error) {
		return w.store.CreateChat(stepCtx, title)
	})
}

// DeleteChatWorkflow deletes a chat and its messages durably
func (w *ChatWorkflows) DeleteChatWorkflow(ctx dbos.DBOSContext, chatID uuid.UUID) (bool, error) {
	// Step 1: Delete messages
	_, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (bool, error) {
		err := w.store.DeleteMessages(stepCtx, chatID)
		return err == nil, err
	})
	if err != nil {
		return false, err
	}

	// Step 2: Delete chat
	return dbos.RunAsStep(ctx, func(stepCtx context.Context) (bool, error) {
		err := w.store.DeleteChat(stepCtx, chatID)
		return err == nil, err
	})
}

func (w *ChatWorkflows) saveUserMessage(ctx context.Context, input SendMessageInput) (models.Message, error) {
	msg, err := w.saveMessage(ctx, models.Message{
		ChatID:      input.ChatID,
		Role:        models.RoleUser,
		Content:     input.Content,
		ContentType: input.ContentType,
		ImageData:   input.ImageData,
		ImageType:   input.ImageType,
	})
	if err != nil {
		return models.Message{}, err
	}
	if err := w.store.TouchChat(ctx, input.ChatID, msg.CreatedAt); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// saveMessage assigns the id and timestamp and inserts the message.
func (w *ChatWorkflows) saveMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	msg.ID = uuid.New()
	msg.CreatedAt = w.now()
	if msg.ContentType == "" {
		msg.ContentType = models.ContentText
	}
	if err := w.store.InsertMessage(ctx, msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// applyTitle derives and stores the chat title. A failed update leaves the
// default title in place and reports no title.
func (w *ChatWorkflows) applyTitle(ctx context.Context, chatID uuid.UUID, firstMessage string) string {
	title := w.titler.Title(ctx, firstMessage)
	chat, err := w.store.UpdateTitle(ctx, chatID, title)
	if err != nil {
		w.log.Error("failed to store generated title", "chat_id", chatID, "error", err)
		return ""
	}
	return chat.Title
}

// needsTitle reports whether the chat had no messages and still has the
// default title.
func needsTitle(chat models.Chat) bool {
	return len(chat.Messages) == 0 && chat.Title == models.DefaultChatTitle
}

// conversation returns history followed by next without touching history's
// backing array.
func conversation(history []models.Message, next models.Message) []models.Message {
	out := make([]models.Message, 0, len(history)+1)
	out = append(out, history...)
	return append(out, next)
}
