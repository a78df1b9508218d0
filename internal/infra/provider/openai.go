package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"

	coreprovider "modelmux/internal/provider"
)

const (
	defaultOpenAIModel   = openai.GPT4oMini
	defaultOpenAITimeout = 60 * time.Second
)

// OpenAI implements the provider interface against the OpenAI chat
// completion API.
type OpenAI struct {
	id      string
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAI creates an OpenAI adapter. The API key is read from the
// OPENAI_API_KEY environment variable; model falls back to the default when
// empty.
func NewOpenAI(id, model string) (*OpenAI, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("openai provider %q: OPENAI_API_KEY is not set", id)
	}
	if model == "" {
		model = defaultOpenAIModel
	}

	slog.Info("initialized openai provider",
		slog.String("provider", id),
		slog.String("model", model))

	return &OpenAI{
		id:      id,
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: defaultOpenAITimeout,
	}, nil
}

// ID returns the registered provider id.
func (o *OpenAI) ID() string { return o.id }

// Call sends the messages to the chat completion API.
func (o *OpenAI) Call(ctx context.Context, req coreprovider.CallRequest) (*coreprovider.CallResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api returned no choices")
	}

	return &coreprovider.CallResponse{
		Content: resp.Choices[0].Message.Content,
		TokensUsed: coreprovider.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
	}, nil
}

// HealthCheck lists models as a cheap availability probe.
func (o *OpenAI) HealthCheck(ctx context.Context) (*coreprovider.HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	_, err := o.client.ListModels(ctx)
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

func openAIRole(r coreprovider.Role) string {
	switch r {
	case coreprovider.RoleSystem:
		return openai.ChatMessageRoleSystem
	case coreprovider.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
