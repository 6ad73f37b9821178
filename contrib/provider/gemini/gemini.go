package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/sweetpotato0/carebridge/reasoning"
)

// Config holds Gemini provider configuration
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-2.5-flash",
		MaxTokens:   1024,
		Temperature: 0.7,
	}
}

// Provider implements reasoning.Backend for Google Gemini. The SDK client is
// created on first use so an unconfigured provider never dials out.
type Provider struct {
	config *Config

	once    sync.Once
	client  *genai.Client
	initErr error
}

var _ reasoning.Backend = (*Provider)(nil)

// New creates a new Gemini provider
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	return &Provider{config: config}
}

func (p *Provider) Name() string { return "gemini:" + p.config.Model }

func (p *Provider) Available() bool { return strings.TrimSpace(p.config.APIKey) != "" }

// Generate sends the system instruction and the context-prefixed prompt as one turn.
func (p *Provider) Generate(ctx context.Context, req reasoning.Request) (string, error) {
	if !p.Available() {
		return "", fmt.Errorf("Gemini API key not configured")
	}
	p.once.Do(func() {
		p.client, p.initErr = genai.NewClient(context.WithoutCancel(ctx), option.WithAPIKey(p.config.APIKey))
	})
	if p.initErr != nil {
		return "", fmt.Errorf("create Gemini client: %w", p.initErr)
	}

	model := p.client.GenerativeModel(p.config.Model)
	model.SetTemperature(p.config.Temperature)
	if p.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(p.config.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Text()))
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in response")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no content parts in candidate")
	}
	return b.String(), nil
}

// Close releases the SDK client if one was created.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
