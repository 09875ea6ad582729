package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Grok holds the completion endpoint settings. The URL and key may be empty at
// startup; the completion client checks them on every call.
type Grok struct {
	APIURL      string        `env:"XAI_API_URL"`
	APIKey      string        `env:"XAI_API_KEY"`
	TextModel   string        `env:"GROK_TEXT_MODEL" envDefault:"grok-2-latest"`
	VisionModel string        `env:"GROK_VISION_MODEL" envDefault:"grok-2-vision-1212"`
	Temperature float64       `env:"GROK_TEMPERATURE" envDefault:"0.7"`
	MaxTokens   int           `env:"GROK_MAX_TOKENS" envDefault:"1000"`
	Timeout     time.Duration `env:"GROK_TIMEOUT" envDefault:"120s"`
	// SystemPrompt is sent as the first entry of every conversation.
	SystemPrompt string `env:"SYSTEM_PROMPT" envDefault:"You are a helpful assistant."`
}

// Configured reports whether the endpoint can be called at all.
func (g Grok) Configured() bool {
	return strings.TrimSpace(g.APIURL) != "" && strings.TrimSpace(g.APIKey) != ""
}

type Config struct {
	DatabaseURL    string   `env:"DATABASE_URL,required,notEmpty"`
	Port           string   `env:"PORT" envDefault:"8080"`
	LogMode        string   `env:"LOG_MODE" envDefault:"dev"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	Grok Grok
}

// Client is the configuration of the terminal front-end.
type Client struct {
	ServerURL string        `env:"CHAT_SERVER_URL" envDefault:"http://localhost:8080/api"`
	// LogMode defaults to prod so debug lines stay off the terminal.
	LogMode string        `env:"CHAT_LOG_MODE" envDefault:"prod"`
	Timeout time.Duration `env:"CHAT_CLIENT_TIMEOUT" envDefault:"3m"`
}

// Load reads the server configuration from the environment, after loading a
// .env file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func LoadClient() (*Client, error) {
	_ = godotenv.Load()

	cfg := &Client{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse client config: %w", err)
	}
	return cfg, nil
}
