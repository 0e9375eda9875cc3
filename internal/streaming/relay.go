package streaming

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"k2api-go/internal/upstream"

	"github.com/tidwall/gjson"
)

// Relay consumes an upstream SSE body and re-emits OpenAI chat.completion
// chunks, filtering reasoning tags on the way through. It returns the full
// emitted text, the upstream-reported usage if any, and a non-nil error when
// the upstream broke mid-stream. By the time an error surfaces here the
// client response has already started, so callers report it for token health
// and append an inline error event rather than retrying.
func Relay(r io.Reader, w io.Writer, flush func(), model string, outputThinking bool) (string, upstream.Usage, error) {
	id := newChunkID()
	filter := NewTagFilter(outputThinking)
	var full strings.Builder
	var usage upstream.Usage
	sawUsage := false

	emit := func(text string) error {
		if text == "" {
			return nil
		}
		full.WriteString(text)
		if _, err := w.Write(DeltaChunk(id, model, map[string]interface{}{"content": text}, nil)); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		return nil
	}

	// role chunk up front
	if _, err := w.Write(DeltaChunk(id, model, map[string]interface{}{"role": "assistant"}, nil)); err != nil {
		return "", usage, err
	}
	if flush != nil {
		flush()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(data) == 0 {
			continue
		}
		if bytes.EqualFold(data, []byte("[DONE]")) {
			break
		}

		parsed := gjson.ParseBytes(data)
		if u := parsed.Get("usage"); u.Exists() {
			usage = upstream.Usage{
				PromptTokens:     int(u.Get("prompt_tokens").Int()),
				CompletionTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:      int(u.Get("total_tokens").Int()),
			}
			sawUsage = true
		}
		if err := emit(filter.Feed(eventContent(parsed))); err != nil {
			return full.String(), usage, err
		}
	}

	if err := emit(filter.Flush()); err != nil {
		return full.String(), usage, err
	}
	if err := scanner.Err(); err != nil {
		return full.String(), usage, err
	}

	finish := "stop"
	if _, err := w.Write(DeltaChunk(id, model, map[string]interface{}{}, &finish)); err != nil {
		return full.String(), usage, err
	}
	if !sawUsage {
		usage = upstream.EstimateUsage("", full.String())
	}
	if _, err := w.Write(UsageChunk(id, model, usage)); err != nil {
		return full.String(), usage, err
	}
	if _, err := w.Write([]byte(DoneEvent)); err != nil {
		return full.String(), usage, err
	}
	if flush != nil {
		flush()
	}
	return full.String(), usage, nil
}

// eventContent pulls the text delta out of one upstream SSE event, trying
// the shapes the upstream emits.
func eventContent(parsed gjson.Result) string {
	for _, path := range []string{
		"choices.0.delta.content",
		"data.content",
		"content",
	} {
		if v := parsed.Get(path); v.Exists() {
			return v.String()
		}
	}
	return ""
}
