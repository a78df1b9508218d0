// Package provider defines the capability interface implemented by every
// upstream model provider. The routing layer is agnostic to the wire protocol
// behind this interface; adapters live in internal/infra/provider.
package provider

import (
	"context"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem carries instructions that frame the conversation.
	RoleSystem Role = "system"
	// RoleUser carries the caller's request text.
	RoleUser Role = "user"
	// RoleAssistant carries prior model output when a conversation continues.
	RoleAssistant Role = "assistant"
)

// Message is a single chat message sent to a provider.
type Message struct {
	Role    Role
	Content string
}

// CallRequest contains the messages and generation parameters for one
// upstream call.
type CallRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// TokenUsage reports the token consumption of a single call.
type TokenUsage struct {
	Input  int
	Output int
}

// CallResponse contains the generated content and token accounting.
type CallResponse struct {
	Content    string
	TokensUsed TokenUsage
}

// HealthStatus is the result of a provider health probe.
type HealthStatus struct {
	Healthy bool
	Latency time.Duration
	Message string
}

// Provider is the closed capability interface every upstream adapter
// implements. Implementations must be safe for concurrent use.
type Provider interface {
	// ID returns the stable identifier this provider is registered under.
	ID() string

	// Call sends the request upstream and returns the generated content.
	// Implementations must honor ctx cancellation and deadlines.
	Call(ctx context.Context, req CallRequest) (*CallResponse, error)

	// HealthCheck performs a lightweight probe against the provider and
	// reports its availability and observed latency.
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}
