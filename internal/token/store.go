package token

import (
	"bufio"
	"bytes"
	"context"
	"strings"
)

// Store is the durable source of truth for the token list. Implementations
// must make Replace atomic: a concurrent Load observes either the fully-old
// or fully-new list, never a partial write.
type Store interface {
	Name() string
	Load(ctx context.Context) ([]string, error)
	Replace(ctx context.Context, tokens []string) error
}

// ParseLines extracts tokens from line-oriented store content. Blank lines
// and lines starting with '#' are ignored.
func ParseLines(data []byte) []string {
	var tokens []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, line)
	}
	return tokens
}

func joinLines(tokens []string) []byte {
	var buf bytes.Buffer
	for _, t := range tokens {
		buf.WriteString(t)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
