package models

import "errors"

var (
	ErrChatNotFound  = errors.New("chat not found")
	ErrEmptyTitle    = errors.New("title is required")
	ErrMissingChatID = errors.New("chatId is required")
	ErrInvalidChatID = errors.New("invalid chat ID")
	ErrEmptyMessage  = errors.New("content or image is required")
	ErrMissingImage  = errors.New("image data is required for image messages")
)
