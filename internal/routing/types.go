package routing

import "modelmux/internal/provider"

// Request is the normalized caller request handed to Route.
type Request struct {
	// Prompt is the request text.
	Prompt string

	// Params are feature parameters that affect generation and therefore
	// the cache fingerprint.
	Params map[string]string

	// ConsumerID scopes caching per consumer.
	ConsumerID string

	// MaxTokens bounds the response size; zero uses the engine default.
	MaxTokens int

	// Temperature is forwarded to the provider; zero uses provider default.
	Temperature float64
}

// Result is the well-formed response every Route call produces, including
// graceful degradation when no provider could serve.
type Result struct {
	Content      string              `json:"content"`
	ProviderUsed string              `json:"provider_used"`
	TierUsed     int                 `json:"tier_used"`
	Cached       bool                `json:"cached"`
	TokensUsed   provider.TokenUsage `json:"tokens_used"`
	LatencyMs    int64               `json:"latency_ms"`
	FallbackUsed bool                `json:"fallback_used"`
	Reason       string              `json:"reason,omitempty"`
}
