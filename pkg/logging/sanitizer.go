package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxQueryLogLength is the maximum length of a question or SQL text to log
	MaxQueryLogLength = 100
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Matches quoted key/value pairs as echoed back by the tool service:
	// "password": "xxx" or 'password': 'xxx'
	quotedPasswordPattern = regexp.MustCompile(`(?i)(["']?(?:password|passwd|secret)["']?\s*:\s*)(["'])[^"']*(["'])`)

	// Pattern to match bearer tokens
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// Pattern to match potential API keys
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// Pattern to match URL credentials (user:pass@host format)
	urlCredentialsPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// sensitiveArgumentKeys are argument names whose values are never logged.
var sensitiveArgumentKeys = map[string]struct{}{
	"password": {},
	"passwd":   {},
	"pwd":      {},
	"secret":   {},
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Use this before logging any error returned by the tool service.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeText(err.Error())
}

// SanitizeText removes credentials, tokens and keys from free text.
func SanitizeText(text string) string {
	sanitized := passwordPattern.ReplaceAllString(text, "${1}="+RedactedText)
	sanitized = quotedPasswordPattern.ReplaceAllString(sanitized, "${1}${2}"+RedactedText+"${3}")
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = urlCredentialsPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeQuery truncates and sanitizes a natural-language question or SQL text for logging.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	sanitized := TruncateString(query, MaxQueryLogLength)
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	return sanitized
}

// RedactArguments returns a copy of tool arguments with secret values masked,
// descending into nested maps such as conn_params.
func RedactArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	redacted := make(map[string]any, len(args))
	for k, v := range args {
		if _, ok := sensitiveArgumentKeys[strings.ToLower(k)]; ok {
			redacted[k] = RedactedText
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			redacted[k] = RedactArguments(nested)
			continue
		}
		redacted[k] = v
	}
	return redacted
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
