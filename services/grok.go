package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"grok-chatbot/config"
	"grok-chatbot/httpclient"
	"grok-chatbot/logger"
	"grok-chatbot/models"
)

// FallbackReply is what Reply returns whenever a completion cannot be obtained.
const FallbackReply = "Sorry, I can't reach the AI service right now. Please try again in a little while."

const (
	maxResponseBody  = 5 * 1024 * 1024
	maxErrorBodySnip = 100
	completionsPath  = "/chat/completions"
)

// FailureReason classifies why a completion failed.
type FailureReason string

const (
	ReasonNotConfigured     FailureReason = "not_configured"
	ReasonEncode            FailureReason = "encode"
	ReasonTransport         FailureReason = "transport"
	ReasonUpstreamStatus    FailureReason = "upstream_status"
	ReasonMalformedResponse FailureReason = "malformed_response"
	ReasonEmptyResponse     FailureReason = "empty_response"
)

// CompletionError is returned by Complete.
type CompletionError struct {
	Reason     FailureReason
	StatusCode int
	Message    string
	Err        error
}

func (e *CompletionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return fmt.Sprintf("grok completion failed: %s", e.Reason)
	}
	return fmt.Sprintf("grok completion failed: %s: %s", e.Reason, msg)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// GrokRequest is the chat completions request body.
type GrokRequest struct {
	Model       string              `json:"model"`
	Messages    []CompletionMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
}

// GrokResponse is the part of the chat completions response we read.
type GrokResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GrokService talks to an OpenAI-compatible chat completions endpoint.
type GrokService struct {
	cfg    config.Grok
	client *http.Client
	log    *logger.Logger
}

// NewGrokService builds a client for cfg. A nil httpClient gets the logging
// client with cfg.Timeout.
func NewGrokService(cfg config.Grok, httpClient *http.Client, log *logger.Logger) *GrokService {
	if log == nil {
		log = logger.Nop()
	}
	if httpClient == nil {
		httpClient = httpclient.New(httpclient.Config{Timeout: cfg.Timeout, Logger: log})
	}
	return &GrokService{
		cfg:    cfg,
		client: httpClient,
		log:    log.With("service", "GrokService"),
	}
}

// Reply generates the assistant answer for history. It never fails: any
// error is logged and FallbackReply is returned instead.
func (s *GrokService) Reply(ctx context.Context, history []models.Message) string {
	prompt := FormatConversation(s.cfg.SystemPrompt, history)
	if prompt.Skipped > 0 {
		s.log.Warn("skipped empty messages while formatting", "skipped", prompt.Skipped)
	}

	text, err := s.Complete(ctx, prompt)
	if err != nil {
		s.log.Error("grok completion failed, using fallback reply", "error", err)
		return FallbackReply
	}
	return text
}

// Complete sends prompt and returns the first choice's content. Every failure
// is reported as a *CompletionError.
func (s *GrokService) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if !s.cfg.Configured() {
		return "", &CompletionError{Reason: ReasonNotConfigured, Message: "XAI_API_URL and XAI_API_KEY must be set"}
	}

	model := SelectModel(prompt.Messages, s.cfg.TextModel, s.cfg.VisionModel)
	endpoint := strings.TrimRight(s.cfg.APIURL, "/") + completionsPath
	s.log.Info("sending grok request", "endpoint", endpoint, "model", model, "messages", len(prompt.Messages))

	reqBody := GrokRequest{
		Model:       model,
		Messages:    prompt.Messages,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &CompletionError{Reason: ReasonEncode, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", &CompletionError{Reason: ReasonEncode, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &CompletionError{Reason: ReasonTransport, Err: fmt.Errorf("failed to send request to grok: %w", err)}
	}
	defer resp.Body.Close()

	s.log.Info("grok response received", "endpoint", endpoint, "status", resp.StatusCode, "model", model)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", &CompletionError{Reason: ReasonTransport, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &CompletionError{
			Reason:     ReasonUpstreamStatus,
			StatusCode: resp.StatusCode,
			Message:    upstreamErrorMessage(resp.StatusCode, body),
		}
	}

	var grokResp GrokResponse
	if err := json.Unmarshal(body, &grokResp); err != nil {
		return "", &CompletionError{Reason: ReasonMalformedResponse, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if len(grokResp.Choices) == 0 {
		return "", &CompletionError{Reason: ReasonMalformedResponse, StatusCode: resp.StatusCode, Message: "response has no choices"}
	}

	content := grokResp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &CompletionError{Reason: ReasonEmptyResponse, StatusCode: resp.StatusCode, Message: "first choice has no content"}
	}
	return content, nil
}

// upstreamErrorMessage prefers error.message, then message, then the status
// text, then a snippet of the raw body.
func upstreamErrorMessage(status int, body []byte) string {
	detail := http.StatusText(status)

	var parsed struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Error != nil && parsed.Error.Message != "":
			detail = parsed.Error.Message
		case parsed.Message != "":
			detail = parsed.Message
		}
	}
	if detail == "" {
		detail = string(body)
		if len(detail) > maxErrorBodySnip {
			detail = detail[:maxErrorBodySnip]
		}
	}
	return fmt.Sprintf("API error: HTTP %d - %s", status, detail)
}
