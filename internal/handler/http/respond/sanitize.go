package respond

import (
	"regexp"
)

var (
	// API key patterns. The Anthropic pattern is applied first because it
	// is the more specific of the two.
	anthropicKeyPattern = regexp.MustCompile(`sk-ant-[a-zA-Z0-9-_]+`)
	openaiKeyPattern    = regexp.MustCompile(`sk-[a-zA-Z0-9]{10,}`)

	// Credentials embedded in URLs (user:password@host).
	urlCredentialPattern = regexp.MustCompile(`://([^:/]+):([^@/]+)@`)
)

// SanitizeError returns the error message with secrets masked.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}

// SanitizeMessage masks API keys and URL credentials in msg.
func SanitizeMessage(msg string) string {
	msg = anthropicKeyPattern.ReplaceAllString(msg, "sk-ant-****")
	msg = openaiKeyPattern.ReplaceAllString(msg, "sk-****")
	msg = urlCredentialPattern.ReplaceAllString(msg, "://$1:****@")
	return msg
}
