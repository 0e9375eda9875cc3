package openai

import (
	"context"
	"errors"
	"io"
	"net/http"

	"k2api-go/internal/handlers/common"
	"k2api-go/internal/streaming"
	"k2api-go/internal/token"
	"k2api-go/internal/translator"
	"k2api-go/internal/upstream"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const refreshNotice = "Token refresh has been started, please retry shortly."

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 10<<20))
	if err != nil {
		common.AbortBadRequest(c, "failed to read request body")
		return
	}
	if !gjson.ValidBytes(body) {
		common.AbortBadRequest(c, "request body is not valid JSON")
		return
	}
	if msgs := gjson.GetBytes(body, "messages"); !msgs.IsArray() || len(msgs.Array()) == 0 {
		common.AbortBadRequest(c, "messages must be a non-empty array")
		return
	}

	payload, meta, err := translator.BuildRequest(body, h.cfg.ToolSupport)
	if err != nil {
		common.AbortBadRequest(c, "failed to translate request: "+err.Error())
		return
	}
	c.Set("model", meta.Model)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RequestTimeout())
	defer cancel()

	if meta.Stream {
		h.streamCompletion(c, ctx, payload, meta)
		return
	}
	h.completion(c, ctx, payload, meta)
}

func (h *Handler) completion(c *gin.Context, ctx context.Context, payload []byte, meta translator.Meta) {
	var raw string
	var usage upstream.Usage

	err := h.orch.Do(ctx, func(ctx context.Context, tok *token.Token) error {
		content, u, err := h.client.Call(ctx, payload, tok.Value)
		if err != nil {
			return err
		}
		raw, usage = content, u
		return nil
	})
	if errors.Is(err, upstream.ErrRefreshStarted) {
		notice := refreshNotice
		c.Data(http.StatusOK, "application/json",
			translator.CompletionResponse(meta.Model, &notice, nil, upstream.Usage{CompletionTokens: 10, TotalTokens: 10}))
		return
	}
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	answer := translator.ExtractAnswer(raw, meta.OutputThinking)
	content, toolCalls := resolveToolCalls(answer, meta.HasTools)
	c.Data(http.StatusOK, "application/json",
		translator.CompletionResponse(meta.Model, content, toolCalls, usage))
}

// resolveToolCalls lifts tool invocations out of the answer text. With tool
// calls present the content must be null; otherwise the tool JSON is removed
// from the prose.
func resolveToolCalls(answer string, hasTools bool) (*string, []translator.ToolCall) {
	if !hasTools {
		return &answer, nil
	}
	if calls := translator.ExtractToolCalls(answer); len(calls) > 0 {
		return nil, calls
	}
	if cleaned := translator.RemoveToolJSON(answer); cleaned != "" {
		return &cleaned, nil
	}
	return &answer, nil
}

func (h *Handler) streamCompletion(c *gin.Context, ctx context.Context, payload []byte, meta translator.Meta) {
	// Tool requests need the complete answer before anything can stream, so
	// they go through the simulated path.
	if meta.HasTools {
		h.simulatedStream(c, ctx, payload, meta)
		return
	}

	var body io.ReadCloser
	var tokValue string
	err := h.orch.DoStream(ctx, func(ctx context.Context, tok *token.Token) error {
		rc, err := h.client.Stream(ctx, payload, tok.Value)
		if err != nil {
			return err
		}
		body, tokValue = rc, tok.Value
		return nil
	})
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	defer body.Close()

	common.SetSSEHeaders(c)
	flush := func() { c.Writer.Flush() }

	_, _, relayErr := streaming.Relay(body, c.Writer, flush, meta.Model, meta.OutputThinking)
	if relayErr != nil {
		// The response already started, so the failure only counts against
		// token health and surfaces as an inline event.
		log.WithError(relayErr).Warn("stream broke after start")
		h.pool.ReportFailure(tokValue, relayErr.Error())
		_, _ = c.Writer.Write(streaming.ErrorEvent(meta.Model, relayErr.Error()))
		_, _ = c.Writer.Write([]byte(streaming.DoneEvent))
		flush()
	}
}

// simulatedStream fetches the complete response and replays it as SSE
// deltas.
func (h *Handler) simulatedStream(c *gin.Context, ctx context.Context, payload []byte, meta translator.Meta) {
	var raw string
	var usage upstream.Usage

	// The upstream call itself is non-stream here.
	nonStream, _ := setStreamFlag(payload, false)
	err := h.orch.DoStream(ctx, func(ctx context.Context, tok *token.Token) error {
		content, u, err := h.client.Call(ctx, nonStream, tok.Value)
		if err != nil {
			return err
		}
		raw, usage = content, u
		return nil
	})
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	answer := translator.ExtractAnswer(raw, meta.OutputThinking)
	content, toolCalls := resolveToolCalls(answer, meta.HasTools)

	text := ""
	if content != nil {
		text = *content
	}
	var callsArg interface{}
	if len(toolCalls) > 0 {
		callsArg = toolCalls
	}

	common.SetSSEHeaders(c)
	cfg := streaming.SimulateConfig{
		ChunkSize:  h.cfg.StreamChunkSize,
		ChunkDelay: h.cfg.StreamDelay(),
	}
	if err := streaming.Simulate(ctx, c.Writer, func() { c.Writer.Flush() },
		meta.Model, text, callsArg, usage, cfg); err != nil {
		log.WithError(err).Debug("simulated stream aborted")
	}
}
