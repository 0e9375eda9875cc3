// Package upstream talks to the K2Think chat endpoint and drives the retry
// loop that rotates pool tokens across attempts.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"k2api-go/internal/config"
	apierrors "k2api-go/internal/errors"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	siteOrigin       = "https://www.k2think.ai"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxErrorBody = 2048
)

// UpstreamError carries the HTTP status and body of a failed upstream call.
// Its text includes the numeric status so failure classification can match
// auth errors by substring.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, body)
}

// Usage is the OpenAI-style token accounting block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Client is an HTTP client for the K2Think chat completions endpoint.
type Client struct {
	cfg *config.Config
	cli *http.Client
}

// New constructs a Client with pooled connections. Per-request deadlines come
// from the caller's context, not the http.Client.
func New(cfg *config.Config) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{cfg: cfg, cli: &http.Client{Transport: tr, Timeout: 0}}
}

func (c *Client) newRequest(ctx context.Context, payload []byte, token string, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UpstreamURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	accept := "application/json"
	if stream {
		accept = "text/event-stream"
	}
	chatID := gjson.GetBytes(payload, "chat_id").String()

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Origin", siteOrigin)
	req.Header.Set("Referer", siteOrigin+"/c/"+chatID)
	req.Header.Set("User-Agent", defaultUserAgent)
	return req, nil
}

// Call sends a non-stream request and returns the raw assistant content plus
// usage. A non-2xx response becomes an *UpstreamError.
func (c *Client) Call(ctx context.Context, payload []byte, token string) (string, Usage, error) {
	req, err := c.newRequest(ctx, payload, token, false)
	if err != nil {
		return "", Usage{}, err
	}

	resp, err := c.cli.Do(req)
	if err != nil {
		return "", Usage{}, apierrors.MapNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", Usage{}, fmt.Errorf("read upstream response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", Usage{}, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	content := extractContent(body)
	if content == "" {
		log.WithField("status", resp.StatusCode).Warn("upstream response carried no content")
	}
	return content, extractUsage(body, content), nil
}

// Stream opens a streaming request and hands back the response body once the
// upstream has committed to a 2xx. The caller owns the reader.
func (c *Client) Stream(ctx context.Context, payload []byte, token string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, payload, token, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.cli.Do(req)
	if err != nil {
		return nil, apierrors.MapNetworkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

// extractContent pulls the assistant text out of the upstream response,
// trying the shapes K2Think has been observed to return.
func extractContent(body []byte) string {
	for _, path := range []string{
		"choices.0.message.content",
		"data.content",
		"content",
	} {
		if v := gjson.GetBytes(body, path); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// extractUsage reads the usage block when present and falls back to a rough
// character-based estimate otherwise.
func extractUsage(body []byte, content string) Usage {
	if u := gjson.GetBytes(body, "usage"); u.Exists() {
		return Usage{
			PromptTokens:     int(u.Get("prompt_tokens").Int()),
			CompletionTokens: int(u.Get("completion_tokens").Int()),
			TotalTokens:      int(u.Get("total_tokens").Int()),
		}
	}
	return EstimateUsage("", content)
}

// EstimateUsage approximates token counts at four characters per token.
func EstimateUsage(prompt, completion string) Usage {
	p := len(strings.TrimSpace(prompt)) / 4
	c := len(strings.TrimSpace(completion)) / 4
	return Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}
