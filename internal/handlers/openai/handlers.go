// Package openai implements the OpenAI-compatible surface: chat completions
// with real and simulated streaming, and the model listing.
package openai

import (
	"context"
	"io"

	"k2api-go/internal/config"
	"k2api-go/internal/token"
	"k2api-go/internal/upstream"
)

// upstreamClient captures the subset of the upstream client the handlers
// use, so tests can swap it out.
type upstreamClient interface {
	Call(ctx context.Context, payload []byte, tok string) (string, upstream.Usage, error)
	Stream(ctx context.Context, payload []byte, tok string) (io.ReadCloser, error)
}

var _ upstreamClient = (*upstream.Client)(nil)

// Handler aggregates shared dependencies for the OpenAI-compatible
// endpoints.
type Handler struct {
	cfg    *config.Config
	pool   *token.Pool
	orch   *upstream.Orchestrator
	client upstreamClient
}

// New constructs the handler set.
func New(cfg *config.Config, pool *token.Pool, orch *upstream.Orchestrator, client upstreamClient) *Handler {
	if client == nil {
		client = upstream.New(cfg)
	}
	return &Handler{cfg: cfg, pool: pool, orch: orch, client: client}
}
