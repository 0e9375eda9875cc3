package openai

import "github.com/tidwall/sjson"

func setStreamFlag(payload []byte, stream bool) ([]byte, error) {
	return sjson.SetBytes(payload, "stream", stream)
}
