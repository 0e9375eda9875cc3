package errors

import "encoding/json"

// ExtractUpstreamMessage pulls a human-readable message out of an upstream
// error body. It understands OpenAI-style {"error":{"message":...}} and
// FastAPI-style {"detail":...} envelopes and falls back to the raw body,
// truncated to keep log lines and client messages bounded.
func ExtractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var jsonErr map[string]interface{}
	if err := json.Unmarshal(body, &jsonErr); err == nil {
		if errObj, ok := jsonErr["error"].(map[string]interface{}); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if msg, ok := jsonErr["detail"].(string); ok && msg != "" {
			return msg
		}
	}
	msg := string(body)
	if len(msg) > 200 {
		return msg[:200] + "..."
	}
	return msg
}
