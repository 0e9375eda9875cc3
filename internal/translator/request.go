// Package translator converts between the OpenAI chat completions format and
// the K2Think chat payload, including the prompt-level tool calling protocol.
package translator

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	// ModelID is the only model the upstream actually serves. Requests for
	// other model names are routed to it unchanged.
	ModelID = "MBZUAI-IFM/K2-Think"
	// ModelIDNoThink is the alias that suppresses reasoning output.
	ModelIDNoThink = ModelID + "-nothink"

	ModelOwner = "MBZUAI-IFM"
)

// Meta captures request-level decisions the handlers need after translation.
type Meta struct {
	Model          string
	Stream         bool
	OutputThinking bool
	HasTools       bool
}

// BuildRequest converts an OpenAI chat completions request body into a
// K2Think payload. toolSupport gates the prompt-level tool protocol.
func BuildRequest(rawJSON []byte, toolSupport bool) ([]byte, Meta, error) {
	model := gjson.GetBytes(rawJSON, "model").String()
	meta := Meta{
		Model:          model,
		Stream:         gjson.GetBytes(rawJSON, "stream").Bool(),
		OutputThinking: !strings.HasSuffix(model, "-nothink"),
		HasTools:       hasTools(rawJSON, toolSupport),
	}

	messages := flattenMessages(rawJSON)
	if meta.HasTools {
		messages = injectToolPrompt(messages, rawJSON)
	}

	chatID := uuid.NewString()
	payload := map[string]interface{}{
		"stream":       meta.Stream,
		"model":        ModelID,
		"messages":     messages,
		"params":       map[string]interface{}{},
		"tool_servers": []interface{}{},
		"features": map[string]bool{
			"image_generation": false,
			"code_interpreter": false,
			"web_search":       false,
		},
		"variables": datetimeVariables(time.Now()),
		"model_item": map[string]interface{}{
			"id":              ModelID,
			"object":          "model",
			"owned_by":        ModelOwner,
			"root":            ModelID,
			"parent":          nil,
			"status":          "active",
			"connection_type": "external",
			"name":            ModelID,
		},
		"background_tasks": map[string]bool{
			"title_generation": true,
			"tags_generation":  true,
		},
		"chat_id":    chatID,
		"id":         uuid.NewString(),
		"session_id": uuid.NewString(),
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, meta, err
	}
	return out, meta, nil
}

func hasTools(rawJSON []byte, toolSupport bool) bool {
	if !toolSupport {
		return false
	}
	tools := gjson.GetBytes(rawJSON, "tools")
	if !tools.IsArray() || len(tools.Array()) == 0 {
		return false
	}
	return gjson.GetBytes(rawJSON, "tool_choice").String() != "none"
}

// flattenMessages normalizes each message to a plain-text content string.
// Multimodal content arrays collapse to their text parts; tool result
// messages become user-visible text so the upstream sees a coherent
// transcript.
func flattenMessages(rawJSON []byte) []map[string]string {
	var out []map[string]string
	gjson.GetBytes(rawJSON, "messages").ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := flattenContent(msg.Get("content"))

		switch role {
		case "tool":
			name := msg.Get("name").String()
			if name == "" {
				name = msg.Get("tool_call_id").String()
			}
			out = append(out, map[string]string{
				"role":    "user",
				"content": "Tool result from " + name + ":\n" + content,
			})
			return true
		case "assistant":
			if calls := msg.Get("tool_calls"); calls.IsArray() && content == "" {
				content = describeToolCalls(calls)
			}
		case "":
			role = "user"
		}
		out = append(out, map[string]string{"role": role, "content": content})
		return true
	})
	return out
}

func flattenContent(content gjson.Result) string {
	if !content.IsArray() {
		return content.String()
	}
	var parts []string
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, part.Get("text").String())
		case "image_url":
			parts = append(parts, "[image omitted]")
		}
		return true
	})
	return strings.Join(parts, "\n")
}

func describeToolCalls(calls gjson.Result) string {
	var lines []string
	calls.ForEach(func(_, call gjson.Result) bool {
		lines = append(lines, "Called "+call.Get("function.name").String()+
			" with arguments: "+call.Get("function.arguments").String())
		return true
	})
	return strings.Join(lines, "\n")
}

func datetimeVariables(now time.Time) map[string]string {
	return map[string]string{
		"{{CURRENT_DATETIME}}": now.Format("2006-01-02 15:04:05"),
		"{{CURRENT_DATE}}":     now.Format("2006-01-02"),
		"{{CURRENT_TIME}}":     now.Format("15:04:05"),
		"{{CURRENT_WEEKDAY}}":  now.Weekday().String(),
		"{{CURRENT_TIMEZONE}}": now.Location().String(),
		"{{USER_LANGUAGE}}":    "en-US",
	}
}
