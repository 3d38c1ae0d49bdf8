package redpanda

import "strings"

// classifyFailureCode maps a verification error message to a stable code for
// metrics labels. The strings mirror the domain sentinel texts so Prometheus
// labels align with API error codes.
func classifyFailureCode(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	if s == "" {
		return "INTERNAL"
	}

	switch {
	case strings.Contains(s, "schema invalid"),
		strings.Contains(s, "invalid json"):
		return "SCHEMA_INVALID"
	case strings.Contains(s, "rate limit"):
		return "UPSTREAM_RATE_LIMIT"
	case strings.Contains(s, "timeout"),
		strings.Contains(s, "deadline exceeded"):
		return "UPSTREAM_TIMEOUT"
	case strings.Contains(s, "write-back failed"):
		return "WRITE_BACK_FAILED"
	case strings.Contains(s, "ledger entry not found"),
		strings.Contains(s, "not found"):
		return "NOT_FOUND"
	case strings.Contains(s, "unavailable"):
		return "UNAVAILABLE"
	case strings.Contains(s, "conflict"):
		return "CONFLICT"
	case strings.Contains(s, "invalid argument"):
		return "INVALID_ARGUMENT"
	default:
		return "INTERNAL"
	}
}
