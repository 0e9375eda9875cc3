package streaming

import (
	"context"
	"io"
	"time"

	"k2api-go/internal/upstream"
)

// SimulateConfig controls how a complete response is chunked into deltas.
type SimulateConfig struct {
	ChunkSize  int
	ChunkDelay time.Duration
}

// DefaultSimulateConfig returns the stock chunking parameters.
func DefaultSimulateConfig() SimulateConfig {
	return SimulateConfig{ChunkSize: 50, ChunkDelay: 50 * time.Millisecond}
}

// Simulate writes a complete assistant reply as a sequence of SSE deltas.
// toolCalls, when present, ride on a dedicated chunk before the finish
// chunk. The writer is flushed by the caller between events if needed via
// the flush callback; pass nil to skip flushing.
func Simulate(ctx context.Context, w io.Writer, flush func(), model, content string,
	toolCalls interface{}, usage upstream.Usage, cfg SimulateConfig) error {

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50
	}
	id := newChunkID()
	emit := func(event []byte) error {
		if _, err := w.Write(event); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		return nil
	}

	// role announcement first, as OpenAI does
	if err := emit(DeltaChunk(id, model, map[string]interface{}{"role": "assistant"}, nil)); err != nil {
		return err
	}

	chunks := splitIntoChunks(content, cfg.ChunkSize)
	for i, chunk := range chunks {
		if chunk != "" {
			if err := emit(DeltaChunk(id, model, map[string]interface{}{"content": chunk}, nil)); err != nil {
				return err
			}
		}
		if i < len(chunks)-1 && cfg.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.ChunkDelay):
			}
		}
	}

	finish := "stop"
	if toolCalls != nil {
		finish = "tool_calls"
		if err := emit(DeltaChunk(id, model, map[string]interface{}{"tool_calls": toolCalls}, nil)); err != nil {
			return err
		}
	}
	if err := emit(DeltaChunk(id, model, map[string]interface{}{}, &finish)); err != nil {
		return err
	}
	if err := emit(UsageChunk(id, model, usage)); err != nil {
		return err
	}
	_, err := w.Write([]byte(DoneEvent))
	if err == nil && flush != nil {
		flush()
	}
	return err
}

func splitIntoChunks(text string, chunkSize int) []string {
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}
