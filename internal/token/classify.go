package token

import "strings"

// authErrorIndicators is the fixed vocabulary marking an error as an
// upstream-authentication failure (the remote service rejected the
// credential) rather than a transient fault. Matching is substring based
// because upstream errors arrive as free text.
var authErrorIndicators = []string{
	"401",
	"unauthorized",
	"invalid token",
	"authentication failed",
	"token expired",
}

// IsAuthError reports whether the error text describes an
// upstream-authentication failure. Case-insensitive.
func IsAuthError(errText string) bool {
	lower := strings.ToLower(errText)
	for _, indicator := range authErrorIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
