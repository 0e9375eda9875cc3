// Package streaming renders OpenAI-style SSE chat completion chunks, either
// by relaying the upstream's live stream or by chunking a complete response
// into simulated deltas.
package streaming

import (
	"encoding/json"
	"fmt"
	"time"

	"k2api-go/internal/upstream"
)

// DoneEvent is the terminal SSE marker.
const DoneEvent = "data: [DONE]\n\n"

// Event wraps a JSON payload in SSE framing.
func Event(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	out = append(out, '\n', '\n')
	return out
}

// DeltaChunk builds one chat.completion.chunk event. finishReason may be nil
// for intermediate chunks.
func DeltaChunk(id, model string, delta map[string]interface{}, finishReason *string) []byte {
	chunk := map[string]interface{}{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishReason,
		}},
	}
	payload, _ := json.Marshal(chunk)
	return Event(payload)
}

// UsageChunk builds a final chunk carrying only usage, mirroring OpenAI's
// stream_options behavior.
func UsageChunk(id, model string, usage upstream.Usage) []byte {
	chunk := map[string]interface{}{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{},
		"usage":   usage,
	}
	payload, _ := json.Marshal(chunk)
	return Event(payload)
}

// ErrorEvent builds an inline error chunk for failures that surface after
// the response has already started streaming.
func ErrorEvent(model, message string) []byte {
	finish := "error"
	return DeltaChunk(newChunkID(), model, map[string]interface{}{
		"content": fmt.Sprintf("\n\n[ERROR: %s]", message),
	}, &finish)
}

func newChunkID() string {
	return fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
}
