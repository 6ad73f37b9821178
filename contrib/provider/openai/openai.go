package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/sweetpotato0/carebridge/reasoning"
)

// Config holds OpenAI provider configuration. BaseURL points the client at
// any OpenAI-compatible chat completions endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// WithBaseURL set BaseURL.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
}

// WithAPIKey set api key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// WithModel set model.
func (cfg *Config) WithModel(model string) *Config {
	cfg.Model = model
	return cfg
}

// DefaultConfig returns default OpenAI configuration
func DefaultConfig() *Config {
	return &Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   1024,
		Temperature: 0.7,
	}
}

// Provider implements reasoning.Backend over chat completions.
type Provider struct {
	name   string
	config *Config
	client openai.Client
}

var _ reasoning.Backend = (*Provider)(nil)

// New creates a new OpenAI provider using official SDK
func New(config *Config) *Provider {
	return NewNamed("openai", config)
}

// NewNamed is New with a custom provider label, used by OpenAI-compatible services.
func NewNamed(name string, config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{
		name:   name,
		config: config,
		client: openai.NewClient(options...),
	}
}

func (p *Provider) Name() string { return p.name + ":" + p.config.Model }

func (p *Provider) Available() bool { return strings.TrimSpace(p.config.APIKey) != "" }

// Generate sends a system message and one user message.
func (p *Provider) Generate(ctx context.Context, req reasoning.Request) (string, error) {
	if !p.Available() {
		return "", fmt.Errorf("%s API key not configured", p.name)
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Text()))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(p.config.MaxTokens)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", p.name, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from %s", p.name)
	}
	return completion.Choices[0].Message.Content, nil
}

// SetTemperature updates the temperature setting
func (p *Provider) SetTemperature(temp float64) {
	p.config.Temperature = temp
}

// SetMaxTokens updates the max tokens setting
func (p *Provider) SetMaxTokens(max int64) {
	p.config.MaxTokens = max
}
