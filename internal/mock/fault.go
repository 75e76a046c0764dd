package mock

import "strings"

// ShouldFail reports whether a request should get an injected error at the given rate.
func ShouldFail(rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	return RandFloat64() < rate
}

// PickErrorStatus maps an error mode to an HTTP status: 429, 500, or either for "mixed".
func PickErrorStatus(mode string) int {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "429", "resource_exhausted", "rate_limit", "rate limit":
		return 429
	case "500", "internal", "server_error":
		return 500
	default:
		// mixed
		if RandIntn(2) == 0 {
			return 429
		}
		return 500
	}
}
