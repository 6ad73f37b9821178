// Package groq provides the Groq backend. Groq serves an OpenAI-compatible
// chat completions API, so the provider is the OpenAI client pointed at it.
package groq

import (
	"github.com/sweetpotato0/carebridge/contrib/provider/openai"
)

const BaseURL = "https://api.groq.com/openai/v1"

// Config holds Groq provider configuration
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// DefaultConfig returns default Groq configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "llama-3.1-8b-instant",
		MaxTokens:   1024,
		Temperature: 0.7,
	}
}

// New creates a Groq backend.
func New(config *Config) *openai.Provider {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "llama-3.1-8b-instant"
	}
	base := config.BaseURL
	if base == "" {
		base = BaseURL
	}
	return openai.NewNamed("groq", &openai.Config{
		APIKey:      config.APIKey,
		BaseURL:     base,
		Model:       config.Model,
		MaxTokens:   int64(config.MaxTokens),
		Temperature: config.Temperature,
	})
}
