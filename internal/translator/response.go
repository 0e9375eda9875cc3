package translator

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"k2api-go/internal/upstream"

	"github.com/google/uuid"
)

var (
	thinkBlockRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	answerTagRe  = regexp.MustCompile(`(?s)<answer>(.*?)</answer>`)
	detailsRe    = regexp.MustCompile(`(?s)<details[^>]*>(.*?)</details>`)
	summaryRe    = regexp.MustCompile(`(?s)<summary[^>]*>.*?</summary>`)
)

// ExtractAnswer normalizes raw upstream content. The upstream wraps its
// reasoning in <think> or <details> tags and the final reply in <answer>
// tags. With thinking enabled the reasoning survives as a <think> block;
// otherwise only the answer remains.
func ExtractAnswer(raw string, outputThinking bool) string {
	reasoning := extractReasoning(raw)
	answer := raw
	if m := answerTagRe.FindStringSubmatch(raw); m != nil {
		answer = m[1]
	} else {
		answer = thinkBlockRe.ReplaceAllString(answer, "")
		answer = detailsRe.ReplaceAllString(answer, "")
	}
	answer = strings.TrimSpace(answer)

	if outputThinking && reasoning != "" {
		return "<think>\n" + reasoning + "\n</think>\n\n" + answer
	}
	return answer
}

func extractReasoning(raw string) string {
	if m := thinkBlockRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := detailsRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(summaryRe.ReplaceAllString(m[1], ""))
	}
	return ""
}

// CompletionResponse builds an OpenAI chat.completion body. content may be
// nil, which the OpenAI shape requires when tool calls are present.
func CompletionResponse(model string, content *string, toolCalls []ToolCall, usage upstream.Usage) []byte {
	finish := "stop"
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	}

	message := map[string]interface{}{
		"role":    "assistant",
		"content": content,
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	body := map[string]interface{}{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       message,
			"finish_reason": finish,
		}},
		"usage": usage,
	}
	out, _ := json.Marshal(body)
	return out
}

// ModelList is the /v1/models response: the served model and its nothink
// alias.
func ModelList() []byte {
	now := time.Now().Unix()
	entry := func(id string) map[string]interface{} {
		return map[string]interface{}{
			"id":       id,
			"object":   "model",
			"created":  now,
			"owned_by": ModelOwner,
			"root":     ModelID,
		}
	}
	out, _ := json.Marshal(map[string]interface{}{
		"object": "list",
		"data":   []map[string]interface{}{entry(ModelID), entry(ModelIDNoThink)},
	})
	return out
}
