// Package provider contains the concrete upstream adapters behind the
// provider capability interface: Anthropic Claude, OpenAI, and a static
// offline provider. Adapters are a closed set selected by the config-driven
// registry in build.go.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	coreprovider "modelmux/internal/provider"
)

const (
	defaultClaudeModel   = string(anthropic.ModelClaudeSonnet4_5_20250929)
	defaultClaudeTimeout = 60 * time.Second

	// probeMaxTokens keeps health probes cheap.
	probeMaxTokens = 1
)

// Claude implements the provider interface against Anthropic's Messages API.
type Claude struct {
	id      string
	client  anthropic.Client
	model   string
	timeout time.Duration
}

// NewClaude creates a Claude adapter. The API key is read from the
// ANTHROPIC_API_KEY environment variable; model falls back to the default
// when empty.
func NewClaude(id, model string) (*Claude, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("claude provider %q: ANTHROPIC_API_KEY is not set", id)
	}
	if model == "" {
		model = defaultClaudeModel
	}

	slog.Info("initialized claude provider",
		slog.String("provider", id),
		slog.String("model", model))

	return &Claude{
		id:      id,
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: defaultClaudeTimeout,
	}, nil
}

// ID returns the registered provider id.
func (c *Claude) ID() string { return c.id }

// Call sends the messages to the Claude Messages API.
func (c *Claude) Call(ctx context.Context, req coreprovider.CallRequest) (*coreprovider.CallResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	for _, m := range req.Messages {
		switch m.Role {
		case coreprovider.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case coreprovider.RoleAssistant:
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude api error: %w", err)
	}
	if len(message.Content) == 0 {
		return nil, fmt.Errorf("claude api returned empty response")
	}

	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return nil, fmt.Errorf("claude api returned unexpected response type")
	}

	return &coreprovider.CallResponse{
		Content: textBlock.Text,
		TokensUsed: coreprovider.TokenUsage{
			Input:  int(message.Usage.InputTokens),
			Output: int(message.Usage.OutputTokens),
		},
	}, nil
}

// HealthCheck sends a minimal one-token message and reports availability and
// latency.
func (c *Claude) HealthCheck(ctx context.Context) (*coreprovider.HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	_, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: probeMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	latency := time.Since(start)

	if err != nil {
		return &coreprovider.HealthStatus{
			Healthy: false,
			Latency: latency,
			Message: err.Error(),
		}, nil
	}
	return &coreprovider.HealthStatus{Healthy: true, Latency: latency}, nil
}
