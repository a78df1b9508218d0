package routing

import (
	"strings"
	"time"

	"modelmux/internal/handler/http/respond"
)

// systemProvider is the ProviderUsed value of a degraded response.
const systemProvider = "system"

// Canned degradation messages. End users never see raw provider error text;
// the last observed failure only selects which message applies.
const (
	degradedRateLimited = "All assistants are handling a high volume of requests right now. " +
		"Please try again in a minute."
	degradedUnavailable = "The assistant is temporarily unavailable. " +
		"Your request was not lost; please retry shortly."
	degradedGeneric = "We couldn't generate a response right now. Please try again soon."
)

// degrade builds the graceful degradation result returned when every
// candidate across the preferred and fallback lists has been exhausted.
func (s *Service) degrade(category string, started time.Time, lastErr error) *Result {
	reason := "no providers available"
	if lastErr != nil {
		reason = respond.SanitizeMessage(lastErr.Error())
	}

	return &Result{
		Content:      classifyFailure(lastErr),
		ProviderUsed: systemProvider,
		LatencyMs:    time.Since(started).Milliseconds(),
		FallbackUsed: true,
		Reason:       reason,
	}
}

// classifyFailure maps the last observed failure onto one of the canned
// fallback messages.
func classifyFailure(lastErr error) string {
	if lastErr == nil {
		return degradedGeneric
	}
	msg := strings.ToLower(lastErr.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests"):
		return degradedRateLimited
	case strings.Contains(msg, "unavailable") || strings.Contains(msg, "circuit") ||
		strings.Contains(msg, "connection") || strings.Contains(msg, "timeout"):
		return degradedUnavailable
	default:
		return degradedGeneric
	}
}
