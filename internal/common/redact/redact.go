// Package redact masks credentials in header maps and loosely typed
// documents before they are persisted or returned by the admin API.
package redact

import "strings"

// Mask replaces sensitive values.
const Mask = "[REDACTED]"

// sensitivePatterns match case-insensitively anywhere in a key.
var sensitivePatterns = []string{
	"authorization",
	"cookie",
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"api-key",
	"apikey",
	"credential",
	"private_key",
	"signature",
}

// IsSensitive reports whether key names a credential.
func IsSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Headers returns a copy of headers with sensitive values masked.
func Headers(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if IsSensitive(k) {
			out[k] = Mask
		} else {
			out[k] = v
		}
	}
	return out
}

// Fields returns a copy of data with sensitive keys masked, recursing into
// nested maps.
func Fields(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		switch {
		case IsSensitive(k):
			out[k] = Mask
		default:
			if nested, ok := v.(map[string]interface{}); ok {
				out[k] = Fields(nested)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
