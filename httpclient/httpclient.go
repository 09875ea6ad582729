package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"grok-chatbot/logger"
	"grok-chatbot/trace"
)

// Config holds the shared HTTP client settings.
type Config struct {
	Timeout time.Duration
	Logger  *logger.Logger
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// loggingRoundTripper logs every outbound call and forwards the request id
// found in the request context.
type loggingRoundTripper struct {
	inner http.RoundTripper
	log   *logger.Logger
}

func (l *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	requestID := trace.RequestIDFromContext(req.Context())
	if requestID == "" {
		requestID = req.Header.Get(trace.HeaderRequestID)
	}
	if requestID == "" {
		requestID = trace.GenerateID()
	}
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	req.Header.Set(trace.HeaderRequestID, requestID)

	resp, err := l.inner.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		l.log.Error("httpclient request failed",
			"method", req.Method,
			"url", redactURL(req.URL),
			"duration", duration.String(),
			"request_id", requestID,
			"error", err.Error(),
		)
		return nil, err
	}

	l.log.Debug("httpclient request completed",
		"method", req.Method,
		"url", redactURL(req.URL),
		"status", resp.StatusCode,
		"duration", duration.String(),
		"request_id", requestID,
	)
	return resp, nil
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}

// BaseClient pairs an http.Client with a base URL and builds requests
// relative to it.
type BaseClient struct {
	HTTPClient *http.Client
	BaseURL    string
}

// NewBaseClient uses a default logging client when httpClient is nil.
func NewBaseClient(httpClient *http.Client, baseURL string) *BaseClient {
	if httpClient == nil {
		httpClient = New(Config{})
	}
	return &BaseClient{
		HTTPClient: httpClient,
		BaseURL:    baseURL,
	}
}

// NewRequest joins relPath onto the base URL. Query parameters go through
// query; a relPath carrying "?" is rejected since path.Join would mangle it.
func (c *BaseClient) NewRequest(ctx context.Context, method, relPath string, query url.Values, body io.Reader) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.Contains(relPath, "?") {
		return nil, fmt.Errorf("httpclient: relPath must not contain query string (use query parameter instead): %s", relPath)
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	if relPath != "" {
		base.Path = path.Join(base.Path, relPath)
	}
	if query != nil {
		base.RawQuery = query.Encode()
	}
	return http.NewRequestWithContext(ctx, method, base.String(), body)
}

// Do executes req with the underlying client.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	return c.HTTPClient.Do(req)
}

// New builds an http.Client with the logging transport.
// A zero Timeout defaults to 10 seconds.
func New(cfg Config) *http.Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &loggingRoundTripper{inner: transport, log: log},
	}
}
