// Package errclass classifies provider errors into coarse categories for
// logging and metrics. Classification is purely observational: the failover
// executor falls back on any error regardless of category.
package errclass

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Category is a coarse provider-error class.
type Category string

const (
	CategoryAuth           Category = "auth"
	CategoryQuota          Category = "quota"
	CategoryRateLimit      Category = "rate_limit"
	CategoryServerLoad     Category = "server_load"
	CategoryInvalidRequest Category = "invalid_request"
	CategoryNetwork        Category = "network"
	CategoryTimeout        Category = "timeout"
	CategoryUnknown        Category = "unknown"
)

// Classify maps an error to its category. Typed errors (context, net) are
// checked first; cloud API errors mostly arrive as opaque HTTP error bodies,
// so the rest falls back to substring matching on the provider's message.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient_quota") || strings.Contains(msg, "billing"):
		return CategoryQuota
	case strings.Contains(msg, "rate_limit") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return CategoryRateLimit
	case strings.Contains(msg, "api_key") || strings.Contains(msg, "api key") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401"):
		return CategoryAuth
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "503"):
		return CategoryServerLoad
	case strings.Contains(msg, "invalid_request") || strings.Contains(msg, "400"):
		return CategoryInvalidRequest
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset"):
		return CategoryNetwork
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return CategoryTimeout
	default:
		return CategoryUnknown
	}
}

// Advice returns a short actionable suggestion for a category, suitable for
// surfacing next to the error in CLI output or API responses.
func Advice(c Category) string {
	switch c {
	case CategoryAuth:
		return "check the stored API key (voiceman keys set <provider>)"
	case CategoryQuota:
		return "cloud quota exhausted; check provider billing or switch to a local provider"
	case CategoryRateLimit:
		return "rate limited; wait a moment or prefer a local provider"
	case CategoryServerLoad:
		return "provider overloaded; retry shortly"
	case CategoryInvalidRequest:
		return "request rejected by the provider; check voice/model parameters"
	case CategoryNetwork:
		return "provider unreachable; verify the endpoint and that the local service is running"
	case CategoryTimeout:
		return "provider timed out; increase the operation timeout or try another provider"
	default:
		return "check connectivity and provider configuration"
	}
}
