package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"grok-chatbot/models"
)

const (
	listChatsQuery   = "SELECT id, title, created_at, updated_at FROM chats ORDER BY updated_at DESC"
	getChatQuery     = "SELECT id, title, created_at, updated_at FROM chats WHERE id = $1"
	chatExistsQuery  = "SELECT EXISTS(SELECT 1 FROM chats WHERE id = $1)"
	insertChatQuery  = "INSERT INTO chats (id, title, created_at, updated_at) VALUES ($1, $2, $3, $4)"
	updateTitleQuery = "UPDATE chats SET title = $2, updated_at = $3 WHERE id = $1 RETURNING id, title, created_at, updated_at"
	touchChatQuery   = "UPDATE chats SET updated_at = $2 WHERE id = $1"
	deleteChatQuery  = "DELETE FROM chats WHERE id = $1"

	listMessagesQuery   = "SELECT id, chat_id, role, content, content_type, image_data, image_type, created_at FROM messages WHERE chat_id = $1 ORDER BY created_at ASC, id ASC"
	insertMessageQuery  = "INSERT INTO messages (id, chat_id, role, content, content_type, image_data, image_type, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)"
	deleteMessagesQuery = "DELETE FROM messages WHERE chat_id = $1"
)

// ChatRepository stores chats and their messages in PostgreSQL.
type ChatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// ListChats returns chat summaries, most recently updated first. Messages are
// not loaded.
func (r *ChatRepository) ListChats(ctx context.Context) ([]models.Chat, error) {
	rows, err := r.db.QueryContext(ctx, listChatsQuery)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := []models.Chat{}
	for rows.Next() {
		var chat models.Chat
		if err := rows.Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// GetChat returns the chat with its messages in chronological order.
func (r *ChatRepository) GetChat(ctx context.Context, id uuid.UUID) (models.Chat, error) {
	var chat models.Chat
	err := r.db.QueryRowContext(ctx, getChatQuery, id).
		Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, models.ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, fmt.Errorf("get chat: %w", err)
	}

	messages, err := r.ListMessages(ctx, id)
	if err != nil {
		return models.Chat{}, err
	}
	chat.Messages = messages
	return chat, nil
}

func (r *ChatRepository) ChatExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, chatExistsQuery, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check chat: %w", err)
	}
	return exists, nil
}

// CreateChat inserts a chat with the given title, or the default title when
// it is blank.
func (r *ChatRepository) CreateChat(ctx context.Context, title string) (models.Chat, error) {
	title, ok := models.NormalizeTitle(title)
	if !ok {
		title = models.DefaultChatTitle
	}
	now := time.Now().UTC()
	chat := models.Chat{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := r.db.ExecContext(ctx, insertChatQuery, chat.ID, chat.Title, chat.CreatedAt, chat.UpdatedAt); err != nil {
		return models.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// UpdateTitle renames a chat. Blank titles are rejected.
func (r *ChatRepository) UpdateTitle(ctx context.Context, id uuid.UUID, title string) (models.Chat, error) {
	title, ok := models.NormalizeTitle(title)
	if !ok {
		return models.Chat{}, models.ErrEmptyTitle
	}

	var chat models.Chat
	err := r.db.QueryRowContext(ctx, updateTitleQuery, id, title, time.Now().UTC()).
		Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, models.ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, fmt.Errorf("update chat title: %w", err)
	}
	return chat, nil
}

// TouchChat bumps the chat's updated_at.
func (r *ChatRepository) TouchChat(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, touchChatQuery, id, at); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

// DeleteChat removes the chat row. Messages go with it through the foreign key.
func (r *ChatRepository) DeleteChat(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, deleteChatQuery, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n == 0 {
		return models.ErrChatNotFound
	}
	return nil
}

func (r *ChatRepository) DeleteMessages(ctx context.Context, chatID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, deleteMessagesQuery, chatID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// ListMessages returns the chat's messages ordered by creation time, with id
// breaking ties so repeated reads return the same order.
func (r *ChatRepository) ListMessages(ctx context.Context, chatID uuid.UUID) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx, listMessagesQuery, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			msg       models.Message
			imageData sql.NullString
			imageType sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &msg.ContentType, &imageData, &imageType, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ImageData = imageData.String
		msg.ImageType = imageType.String
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// InsertMessage stores msg as-is. The caller assigns the id and timestamp.
func (r *ChatRepository) InsertMessage(ctx context.Context, msg models.Message) error {
	_, err := r.db.ExecContext(ctx, insertMessageQuery,
		msg.ID, msg.ChatID, msg.Role, msg.Content, msg.ContentType,
		nullString(msg.ImageData), nullString(msg.ImageType), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
