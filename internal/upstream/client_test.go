package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"k2api-go/internal/config"
	"k2api-go/internal/token"

	"github.com/stretchr/testify/require"
)

func newClientFor(url string) *Client {
	cfg := config.Default()
	cfg.UpstreamURL = url
	return New(cfg)
}

func TestCallParsesContentAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		require.Equal(t, siteOrigin, r.Header.Get("Origin"))
		require.Equal(t, siteOrigin+"/c/chat-42", r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "hello there"}}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`))
	}))
	defer srv.Close()

	c := newClientFor(srv.URL)
	content, usage, err := c.Call(context.Background(), []byte(`{"chat_id":"chat-42"}`), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "hello there", content)
	require.Equal(t, Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}, usage)
}

func TestCallFallsBackToTopLevelContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content": "plain body"}`))
	}))
	defer srv.Close()

	c := newClientFor(srv.URL)
	content, usage, err := c.Call(context.Background(), []byte(`{}`), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "plain body", content)
	require.Positive(t, usage.CompletionTokens)
}

func TestCallNon2xxBecomesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail": "token expired"}`))
	}))
	defer srv.Close()

	c := newClientFor(srv.URL)
	_, _, err := c.Call(context.Background(), []byte(`{}`), "tok-1")

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, 401, ue.StatusCode)
	require.Contains(t, ue.Body, "token expired")

	// The classifier keys off the error text, so the status must appear in it.
	require.True(t, token.IsAuthError(err.Error()))
}

func TestCall5xxNotClassifiedAsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream hiccup`))
	}))
	defer srv.Close()

	c := newClientFor(srv.URL)
	_, _, err := c.Call(context.Background(), []byte(`{}`), "tok-1")

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, 502, ue.StatusCode)
	require.False(t, token.IsAuthError(err.Error()))
}

func TestStreamReturnsBodyOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"content\":\"hi\"}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := newClientFor(srv.URL)
	body, err := c.Stream(context.Background(), []byte(`{"chat_id":"c1"}`), "tok-1")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Contains(t, string(data), "[DONE]")
}

func TestStreamNon2xxClosesBodyAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`unauthorized`))
	}))
	defer srv.Close()

	c := newClientFor(srv.URL)
	body, err := c.Stream(context.Background(), []byte(`{}`), "tok-1")
	require.Nil(t, body)

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, 401, ue.StatusCode)
}

func TestEstimateUsage(t *testing.T) {
	u := EstimateUsage("12345678", "1234")
	require.Equal(t, 2, u.PromptTokens)
	require.Equal(t, 1, u.CompletionTokens)
	require.Equal(t, 3, u.TotalTokens)
}
