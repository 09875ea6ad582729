package workflows

import (
	"context"
	"fmt"

	"grok-chatbot/logger"
	"grok-chatbot/models"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"
)

// Service is the chat backend behind the HTTP handlers. Reads and renames go
// straight to the store; creating, deleting and sending run as DBOS workflows.
type Service struct {
	dbosCtx   dbos.DBOSContext
	workflows *ChatWorkflows
	store     ChatStore
	log       *logger.Logger
}

// NewService wires the workflows to a DBOS context. The workflows must already
// be registered with dbosCtx.
func NewService(dbosCtx dbos.DBOSContext, wf *ChatWorkflows, store ChatStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		dbosCtx:   dbosCtx,
		workflows: wf,
		store:     store,
		log:       log.With("component", "ChatService"),
	}
}

// Register registers every chat workflow with dbosCtx. Call before dbos.Launch.
func Register(dbosCtx dbos.DBOSContext, wf *ChatWorkflows) {
	dbos.RegisterWorkflow(dbosCtx, wf.SendMessageWorkflow)
	dbos.RegisterWorkflow(dbosCtx, wf.CreateChatWorkflow)
	dbos.RegisterWorkflow(dbosCtx, wf.DeleteChatWorkflow)
}

func (s *Service) ListChats(ctx context.Context) ([]models.Chat, error) {
	return s.store.ListChats(ctx)
}

func (s *Service) GetChat(ctx context.Context, id uuid.UUID) (models.Chat, error) {
	return s.store.GetChat(ctx, id)
}

func (s *Service) CreateChat(_ context.Context, title string) (models.Chat, error) {
	handle, err := dbos.RunWorkflow(s.dbosCtx, s.workflows.CreateChatWorkflow, title)
	if err != nil {
		return models.Chat{}, fmt.Errorf("start create chat workflow: %w", err)
	}
	chat, err := handle.GetResult()
	if err != nil {
		return models.Chat{}, fmt.Errorf("create chat workflow: %w", err)
	}
	return chat, nil
}

func (s *Service) RenameChat(ctx context.Context, id uuid.UUID, title string) (models.Chat, error) {
	title, ok := models.NormalizeTitle(title)
	if !ok {
		return models.Chat{}, models.ErrEmptyTitle
	}
	return s.store.UpdateTitle(ctx, id, title)
}

func (s *Service) DeleteChat(ctx context.Context, id uuid.UUID) error {
	if err := s.ensureChat(ctx, id); err != nil {
		return err
	}

	handle, err := dbos.RunWorkflow(s.dbosCtx, s.workflows.DeleteChatWorkflow, id)
	if err != nil {
		return fmt.Errorf("start delete chat workflow: %w", err)
	}
	if _, err := handle.GetResult(); err != nil {
		return fmt.Errorf("delete chat workflow: %w", err)
	}
	return nil
}

// SendMessage stores a normalized user message and the assistant's reply.
func (s *Service) SendMessage(ctx context.Context, chatID uuid.UUID, req models.SendMessageRequest) (models.SendMessageResponse, error) {
	if err := s.ensureChat(ctx, chatID); err != nil {
		return models.SendMessageResponse{}, err
	}

	input := SendMessageInput{
		ChatID:      chatID,
		Content:     req.Content,
		ContentType: req.ContentType,
		ImageData:   req.ImageData,
		ImageType:   req.ImageType,
	}
	handle, err := dbos.RunWorkflow(s.dbosCtx, s.workflows.SendMessageWorkflow, input)
	if err != nil {
		return models.SendMessageResponse{}, fmt.Errorf("start send message workflow: %w", err)
	}
	output, err := handle.GetResult()
	if err != nil {
		return models.SendMessageResponse{}, fmt.Errorf("send message workflow: %w", err)
	}

	resp := models.SendMessageResponse{
		UserMessage:      output.UserMessage,
		AssistantMessage: output.AssistantMessage,
	}
	if output.ChatTitle != "" {
		title := output.ChatTitle
		resp.ChatTitle = &title
	}
	s.log.Debug("message exchanged", "chat_id", chatID, "titled", resp.ChatTitle != nil)
	return resp, nil
}

func (s *Service) ensureChat(ctx context.Context, id uuid.UUID) error {
	exists, err := s.store.ChatExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return models.ErrChatNotFound
	}
	return nil
}
