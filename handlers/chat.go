package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"grok-chatbot/logger"
	"grok-chatbot/models"
	"grok-chatbot/trace"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Backend is the chat service the handlers drive.
type Backend interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	GetChat(ctx context.Context, id uuid.UUID) (models.Chat, error)
	CreateChat(ctx context.Context, title string) (models.Chat, error)
	RenameChat(ctx context.Context, id uuid.UUID, title string) (models.Chat, error)
	DeleteChat(ctx context.Context, id uuid.UUID) error
	SendMessage(ctx context.Context, chatID uuid.UUID, req models.SendMessageRequest) (models.SendMessageResponse, error)
}

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	backend Backend
	log     *logger.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(backend Backend, log *logger.Logger) *ChatHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ChatHandler{backend: backend, log: log.With("component", "ChatHandler")}
}

// RegisterRoutes mounts the chat API on r.
func (h *ChatHandler) RegisterRoutes(r gin.IRouter) {
	// Chat routes
	r.GET("/chats", h.ListChats)
	r.POST("/chats", h.CreateChat)
	r.GET("/chats/:id", h.GetChat)
	r.PATCH("/chats/:id", h.RenameChat)
	r.DELETE("/chats/:id", h.DeleteChat)

	// Message routes
	r.POST("/messages", h.SendMessage)
}

// Health reports that the server is up.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "dbos": "enabled"})
}

// ListChats lists all chats, most recently updated first
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.backend.ListChats(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to fetch chats", err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// GetChat retrieves a chat and its messages
func (h *ChatHandler) GetChat(c *gin.Context) {
	id, ok := chatIDParam(c)
	if !ok {
		return
	}

	chat, err := h.backend.GetChat(c.Request.Context(), id)
	if err != nil {
		h.backendError(c, "Failed to fetch chat", err)
		return
	}
	c.JSON(http.StatusOK, chatWithMessages(chat))
}

// CreateChat creates a new chat using a DBOS workflow
func (h *ChatHandler) CreateChat(c *gin.Context) {
	// The body is optional.
	var req models.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	chat, err := h.backend.CreateChat(c.Request.Context(), req.Title)
	if err != nil {
		h.internalError(c, "Failed to create chat", err)
		return
	}
	c.JSON(http.StatusCreated, chatWithMessages(chat))
}

// RenameChat updates a chat's title
func (h *ChatHandler) RenameChat(c *gin.Context) {
	id, ok := chatIDParam(c)
	if !ok {
		return
	}

	var req models.UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if _, ok := models.NormalizeTitle(req.Title); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required"})
		return
	}

	chat, err := h.backend.RenameChat(c.Request.Context(), id, req.Title)
	if err != nil {
		h.backendError(c, "Failed to update chat", err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// DeleteChat deletes a chat using a DBOS workflow
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	id, ok := chatIDParam(c)
	if !ok {
		return
	}

	if err := h.backend.DeleteChat(c.Request.Context(), id); err != nil {
		h.backendError(c, "Failed to delete chat", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SendMessage stores a message and returns it with the AI response
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	req, chatID, err := req.Normalize()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.backend.SendMessage(c.Request.Context(), chatID, req)
	if err != nil {
		h.backendError(c, "Failed to send message", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// chatWithMessages makes sure an existing chat always carries a messages
// array, even an empty one, which omitempty would otherwise drop.
func chatWithMessages(chat models.Chat) gin.H {
	if chat.Messages == nil {
		chat.Messages = []models.Message{}
	}
	return gin.H{
		"id":        chat.ID,
		"title":     chat.Title,
		"createdAt": chat.CreatedAt,
		"updatedAt": chat.UpdatedAt,
		"messages":  chat.Messages,
	}
}

func chatIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat ID"})
		return uuid.Nil, false
	}
	return id, true
}

// backendError maps known errors to client statuses and everything else to 500.
func (h *ChatHandler) backendError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, models.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
	case errors.Is(err, models.ErrEmptyTitle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required"})
	default:
		h.internalError(c, msg, err)
	}
}

func (h *ChatHandler) internalError(c *gin.Context, msg string, err error) {
	h.log.Error(msg,
		"error", err,
		"path", c.Request.URL.Path,
		"request_id", trace.RequestIDFromContext(c.Request.Context()),
	)
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
