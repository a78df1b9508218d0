package provider

import (
	"context"
	"time"

	coreprovider "modelmux/internal/provider"
)

// Static is an offline provider that echoes a canned acknowledgement.
// It is useful as a last-resort fallback tier and in local development
// where no API keys are configured.
type Static struct {
	id      string
	content string
}

// NewStatic creates a static provider. An empty content falls back to a
// generic acknowledgement.
func NewStatic(id, content string) *Static {
	if content == "" {
		content = "The request was received, but live generation is currently unavailable."
	}
	return &Static{id: id, content: content}
}

// ID returns the registered provider id.
func (s *Static) ID() string { return s.id }

// Call returns the canned content without any upstream traffic.
func (s *Static) Call(_ context.Context, _ coreprovider.CallRequest) (*coreprovider.CallResponse, error) {
	return &coreprovider.CallResponse{Content: s.content}, nil
}

// HealthCheck always reports healthy.
func (s *Static) HealthCheck(_ context.Context) (*coreprovider.HealthStatus, error) {
	return &coreprovider.HealthStatus{Healthy: true, Latency: time.Microsecond}, nil
}
