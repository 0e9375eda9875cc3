package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAuthError(t *testing.T) {
	authErrors := []string{
		"upstream error: 401",
		"401 Unauthorized",
		"UNAUTHORIZED",
		"invalid token supplied",
		"Authentication Failed for account",
		"token expired at 2024-01-01",
	}
	for _, msg := range authErrors {
		require.True(t, IsAuthError(msg), "expected auth classification for %q", msg)
	}

	plainErrors := []string{
		"",
		"connect: connection refused",
		"upstream error: 500",
		"read tcp: i/o timeout",
		"429 Too Many Requests",
	}
	for _, msg := range plainErrors {
		require.False(t, IsAuthError(msg), "expected plain classification for %q", msg)
	}
}
