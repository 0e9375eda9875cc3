package translator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// The upstream has no native tool calling, so tools ride on the prompt: the
// model is told to answer with a fenced JSON block and the gateway lifts that
// block back out into OpenAI tool_calls.

const toolPromptHeader = `You have access to the following tools. When you decide to call one or more tools, respond with ONLY a fenced JSON code block in this exact format and nothing else:

` + "```json" + `
{"tool_calls": [{"name": "<tool name>", "arguments": {<arguments>}}]}
` + "```" + `

If no tool is needed, answer normally.

Available tools:
`

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\}|\\[.*?\\])\\s*```")

// ToolCall is the OpenAI tool_calls entry shape.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// injectToolPrompt prepends a system message describing the request's tools
// and the fenced-JSON reply protocol.
func injectToolPrompt(messages []map[string]string, rawJSON []byte) []map[string]string {
	var b strings.Builder
	b.WriteString(toolPromptHeader)

	gjson.GetBytes(rawJSON, "tools").ForEach(func(_, tool gjson.Result) bool {
		fn := tool.Get("function")
		b.WriteString("\n- ")
		b.WriteString(fn.Get("name").String())
		if desc := fn.Get("description").String(); desc != "" {
			b.WriteString(": ")
			b.WriteString(desc)
		}
		if params := fn.Get("parameters"); params.Exists() {
			b.WriteString("\n  Parameters schema: ")
			b.WriteString(params.Raw)
		}
		return true
	})

	if choice := gjson.GetBytes(rawJSON, "tool_choice"); choice.IsObject() {
		if name := choice.Get("function.name").String(); name != "" {
			b.WriteString("\n\nYou MUST call the tool named " + name + ".")
		}
	}

	prompt := map[string]string{"role": "system", "content": b.String()}
	return append([]map[string]string{prompt}, messages...)
}

// ExtractToolCalls finds the model's fenced tool call block and converts it
// to OpenAI tool_calls. Returns nil when the content carries none.
func ExtractToolCalls(content string) []ToolCall {
	for _, match := range fencedJSONRe.FindAllStringSubmatch(content, -1) {
		if calls := parseToolBlock(match[1]); len(calls) > 0 {
			return calls
		}
	}
	return nil
}

func parseToolBlock(block string) []ToolCall {
	parsed := gjson.Parse(block)

	var entries []gjson.Result
	switch {
	case parsed.IsArray():
		entries = parsed.Array()
	case parsed.Get("tool_calls").IsArray():
		entries = parsed.Get("tool_calls").Array()
	case parsed.Get("name").Exists():
		entries = []gjson.Result{parsed}
	default:
		return nil
	}

	var calls []ToolCall
	for _, e := range entries {
		name := e.Get("name").String()
		if name == "" {
			name = e.Get("function.name").String()
		}
		if name == "" {
			continue
		}
		args := e.Get("arguments")
		if !args.Exists() {
			args = e.Get("function.arguments")
		}
		calls = append(calls, ToolCall{
			ID:   "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
			Type: "function",
			Function: ToolFunction{
				Name:      name,
				Arguments: argumentsJSON(args),
			},
		})
	}
	return calls
}

// argumentsJSON renders tool arguments as a JSON string, which is what the
// OpenAI shape expects even for object arguments.
func argumentsJSON(args gjson.Result) string {
	if !args.Exists() {
		return "{}"
	}
	if args.IsObject() || args.IsArray() {
		return args.Raw
	}
	if args.Type == gjson.String {
		s := args.String()
		if gjson.Valid(s) {
			return s
		}
	}
	out, _ := json.Marshal(args.Value())
	return string(out)
}

// RemoveToolJSON strips fenced tool call blocks from content, leaving any
// surrounding prose.
func RemoveToolJSON(content string) string {
	cleaned := fencedJSONRe.ReplaceAllStringFunc(content, func(match string) string {
		sub := fencedJSONRe.FindStringSubmatch(match)
		if len(sub) > 1 && len(parseToolBlock(sub[1])) > 0 {
			return ""
		}
		return match
	})
	return strings.TrimSpace(cleaned)
}
