package translator

import (
	"testing"

	"k2api-go/internal/upstream"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBuildRequestBasics(t *testing.T) {
	raw := []byte(`{
		"model": "MBZUAI-IFM/K2-Think",
		"stream": true,
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hello"}
		]
	}`)

	payload, meta, err := BuildRequest(raw, false)
	require.NoError(t, err)
	require.True(t, meta.Stream)
	require.True(t, meta.OutputThinking)
	require.False(t, meta.HasTools)
	require.Equal(t, "MBZUAI-IFM/K2-Think", meta.Model)

	p := gjson.ParseBytes(payload)
	require.Equal(t, ModelID, p.Get("model").String())
	require.True(t, p.Get("stream").Bool())
	require.Len(t, p.Get("messages").Array(), 2)
	require.Equal(t, "be brief", p.Get("messages.0.content").String())
	require.NotEmpty(t, p.Get("chat_id").String())
	require.NotEmpty(t, p.Get("session_id").String())
	require.False(t, p.Get("features.web_search").Bool())
	require.NotEmpty(t, p.Get("variables").Map())
}

func TestBuildRequestNothinkAlias(t *testing.T) {
	raw := []byte(`{"model": "MBZUAI-IFM/K2-Think-nothink", "messages": [{"role":"user","content":"hi"}]}`)

	payload, meta, err := BuildRequest(raw, false)
	require.NoError(t, err)
	require.False(t, meta.OutputThinking)
	// The alias still routes to the real upstream model.
	require.Equal(t, ModelID, gjson.GetBytes(payload, "model").String())
}

func TestBuildRequestFlattensMultimodalContent(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4",
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "describe this"},
			{"type": "image_url", "image_url": {"url": "data:image/png;base64,xxx"}},
			{"type": "text", "text": "in detail"}
		]}]
	}`)

	payload, _, err := BuildRequest(raw, false)
	require.NoError(t, err)
	content := gjson.GetBytes(payload, "messages.0.content").String()
	require.Contains(t, content, "describe this")
	require.Contains(t, content, "[image omitted]")
	require.Contains(t, content, "in detail")
}

func TestBuildRequestToolMessagesBecomeTranscript(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4",
		"messages": [
			{"role": "user", "content": "weather?"},
			{"role": "assistant", "content": "", "tool_calls": [
				{"function": {"name": "get_weather", "arguments": "{\"city\":\"Abu Dhabi\"}"}}
			]},
			{"role": "tool", "name": "get_weather", "content": "sunny, 41C"}
		]
	}`)

	payload, _, err := BuildRequest(raw, false)
	require.NoError(t, err)
	msgs := gjson.GetBytes(payload, "messages").Array()
	require.Len(t, msgs, 3)
	require.Contains(t, msgs[1].Get("content").String(), "get_weather")
	require.Equal(t, "user", msgs[2].Get("role").String())
	require.Contains(t, msgs[2].Get("content").String(), "sunny, 41C")
}

func TestBuildRequestInjectsToolPrompt(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4",
		"messages": [{"role": "user", "content": "weather in Abu Dhabi?"}],
		"tools": [{"type": "function", "function": {
			"name": "get_weather",
			"description": "Look up current weather",
			"parameters": {"type": "object", "properties": {"city": {"type": "string"}}}
		}}]
	}`)

	payload, meta, err := BuildRequest(raw, true)
	require.NoError(t, err)
	require.True(t, meta.HasTools)

	msgs := gjson.GetBytes(payload, "messages").Array()
	require.Len(t, msgs, 2)
	require.Equal(t, "system", msgs[0].Get("role").String())
	require.Contains(t, msgs[0].Get("content").String(), "get_weather")
	require.Contains(t, msgs[0].Get("content").String(), "Look up current weather")
	require.Contains(t, msgs[0].Get("content").String(), "```json")
}

func TestBuildRequestToolChoiceNoneDisablesTools(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4",
		"messages": [{"role": "user", "content": "hi"}],
		"tools": [{"type": "function", "function": {"name": "f"}}],
		"tool_choice": "none"
	}`)

	_, meta, err := BuildRequest(raw, true)
	require.NoError(t, err)
	require.False(t, meta.HasTools)
}

func TestBuildRequestToolSupportDisabled(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4",
		"messages": [{"role": "user", "content": "hi"}],
		"tools": [{"type": "function", "function": {"name": "f"}}]
	}`)

	_, meta, err := BuildRequest(raw, false)
	require.NoError(t, err)
	require.False(t, meta.HasTools)
}

func TestExtractToolCallsFencedBlock(t *testing.T) {
	content := "Let me check.\n```json\n{\"tool_calls\": [{\"name\": \"get_weather\", \"arguments\": {\"city\": \"Abu Dhabi\"}}]}\n```"

	calls := ExtractToolCalls(content)
	require.Len(t, calls, 1)
	require.Equal(t, "function", calls[0].Type)
	require.Equal(t, "get_weather", calls[0].Function.Name)
	require.JSONEq(t, `{"city": "Abu Dhabi"}`, calls[0].Function.Arguments)
	require.True(t, len(calls[0].ID) > 5)
}

func TestExtractToolCallsBareObjectAndArray(t *testing.T) {
	calls := ExtractToolCalls("```json\n{\"name\": \"f\", \"arguments\": {}}\n```")
	require.Len(t, calls, 1)
	require.Equal(t, "f", calls[0].Function.Name)

	calls = ExtractToolCalls("```\n[{\"name\": \"a\", \"arguments\": {}}, {\"name\": \"b\", \"arguments\": {\"x\": 1}}]\n```")
	require.Len(t, calls, 2)
	require.Equal(t, "b", calls[1].Function.Name)
}

func TestExtractToolCallsIgnoresPlainJSON(t *testing.T) {
	require.Nil(t, ExtractToolCalls("```json\n{\"result\": 42}\n```"))
	require.Nil(t, ExtractToolCalls("no fences here"))
}

func TestRemoveToolJSON(t *testing.T) {
	content := "Checking now.\n```json\n{\"tool_calls\": [{\"name\": \"f\", \"arguments\": {}}]}\n```\nDone."
	require.Equal(t, "Checking now.\n\nDone.", RemoveToolJSON(content))

	// Non-tool fenced JSON survives.
	kept := "```json\n{\"result\": 42}\n```"
	require.Equal(t, kept, RemoveToolJSON(kept))
}

func TestExtractAnswerThinkingEnabled(t *testing.T) {
	raw := "<think>step one, step two</think>\n<answer>final reply</answer>"
	out := ExtractAnswer(raw, true)
	require.Contains(t, out, "<think>")
	require.Contains(t, out, "step one, step two")
	require.Contains(t, out, "final reply")
}

func TestExtractAnswerThinkingDisabled(t *testing.T) {
	raw := "<think>hidden reasoning</think>\n<answer>final reply</answer>"
	out := ExtractAnswer(raw, false)
	require.Equal(t, "final reply", out)
}

func TestExtractAnswerDetailsBlock(t *testing.T) {
	raw := "<details type=\"reasoning\"><summary>Thought</summary>deep thoughts</details>visible answer"
	require.Equal(t, "visible answer", ExtractAnswer(raw, false))

	out := ExtractAnswer(raw, true)
	require.Contains(t, out, "deep thoughts")
	require.Contains(t, out, "visible answer")
}

func TestExtractAnswerPlainContentPassesThrough(t *testing.T) {
	require.Equal(t, "just text", ExtractAnswer("just text", true))
	require.Equal(t, "just text", ExtractAnswer("just text", false))
}

func TestCompletionResponseShape(t *testing.T) {
	content := "hello"
	body := CompletionResponse("MBZUAI-IFM/K2-Think", &content, nil,
		upstream.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7})

	p := gjson.ParseBytes(body)
	require.Equal(t, "chat.completion", p.Get("object").String())
	require.Contains(t, p.Get("id").String(), "chatcmpl-")
	require.Equal(t, "hello", p.Get("choices.0.message.content").String())
	require.Equal(t, "stop", p.Get("choices.0.finish_reason").String())
	require.EqualValues(t, 7, p.Get("usage.total_tokens").Int())
}

func TestCompletionResponseWithToolCalls(t *testing.T) {
	calls := []ToolCall{{
		ID:       "call_abc",
		Type:     "function",
		Function: ToolFunction{Name: "f", Arguments: "{}"},
	}}
	body := CompletionResponse("gpt-4", nil, calls, upstream.Usage{})

	p := gjson.ParseBytes(body)
	require.Equal(t, "tool_calls", p.Get("choices.0.finish_reason").String())
	require.Equal(t, gjson.Null, p.Get("choices.0.message.content").Type)
	require.Equal(t, "f", p.Get("choices.0.message.tool_calls.0.function.name").String())
}

func TestModelList(t *testing.T) {
	p := gjson.ParseBytes(ModelList())
	require.Equal(t, "list", p.Get("object").String())
	ids := []string{
		p.Get("data.0.id").String(),
		p.Get("data.1.id").String(),
	}
	require.Contains(t, ids, ModelID)
	require.Contains(t, ids, ModelIDNoThink)
}
