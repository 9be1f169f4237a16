package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openmind/core-gateway/internal/config"
	"github.com/openmind/core-gateway/internal/registry"
	"github.com/openmind/core-gateway/pkg/api"
)

func poolFor(baseURL, apiKey string) (*Pool, *registry.ProviderSpec) {
	p := NewPool([]config.ProviderConfig{
		{
			ID:       "openai",
			Dialect:  "openai",
			BaseURL:  baseURL,
			APIKey:   apiKey,
			Prefixes: []string{"gpt-4o"},
			Enabled:  true,
		},
	}, 5*time.Second)

	spec := &registry.ProviderSpec{
		ID:        "openai",
		Prefixes:  []string{"gpt-4o"},
		BaseURL:   baseURL,
		Dialect:   registry.DialectOpenAI,
		Streaming: true,
	}
	return p, spec
}

func chatReq() *api.ChatRequest {
	return &api.ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []api.ChatMessage{
			{Role: "user", Content: api.Content{Text: "Hello"}},
		},
	}
}

func TestSend_Unary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body api.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		// streaming flag is forced off on the unary path
		assert.False(t, body.Stream)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`)
	}))
	defer srv.Close()

	p, spec := poolFor(srv.URL, "sk-test")

	resp, gwErr := p.Send(context.Background(), spec, chatReq())
	assert.Nil(t, gwErr)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hi there", resp.Choices[0].Message.Content.Flatten())
	assert.Equal(t, 11, resp.Usage.TotalTokens)
}

func TestSend_AuthFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, spec := poolFor(srv.URL, "sk-bad")

	_, gwErr := p.Send(context.Background(), spec, chatReq())
	assert.NotNil(t, gwErr)
	assert.Equal(t, api.KindUpstreamUnavailable, gwErr.Kind)
}

func TestSend_ServerErrorIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, spec := poolFor(srv.URL, "sk-test")

	_, gwErr := p.Send(context.Background(), spec, chatReq())
	assert.NotNil(t, gwErr)
	assert.Equal(t, api.KindUpstreamError, gwErr.Kind)
}

func TestSend_EmptyChoicesIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"chatcmpl-1","choices":[]}`)
	}))
	defer srv.Close()

	p, spec := poolFor(srv.URL, "sk-test")

	_, gwErr := p.Send(context.Background(), spec, chatReq())
	assert.NotNil(t, gwErr)
	assert.Equal(t, api.KindUpstreamError, gwErr.Kind)
}

func TestSend_MissingKeyNeverDials(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	p, spec := poolFor(srv.URL, "")

	_, gwErr := p.Send(context.Background(), spec, chatReq())
	assert.NotNil(t, gwErr)
	assert.Equal(t, api.KindUpstreamUnavailable, gwErr.Kind)
	assert.Equal(t, "openai API key not configured", gwErr.Message)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestSend_UnknownProvider(t *testing.T) {
	p := NewPool(nil, time.Second)

	_, gwErr := p.Send(context.Background(), &registry.ProviderSpec{ID: "ghost"}, chatReq())
	assert.NotNil(t, gwErr)
	assert.Equal(t, "ghost API key not configured", gwErr.Message)
}

func TestSend_ConnectionRefusedIsUnavailable(t *testing.T) {
	// Grab a port nobody is listening on
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()

	p, spec := poolFor(dead, "sk-test")

	_, gwErr := p.Send(context.Background(), spec, chatReq())
	assert.NotNil(t, gwErr)
	assert.Equal(t, api.KindUpstreamUnavailable, gwErr.Kind)
}

func TestStream_RelaysChunksAndCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body api.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		frames := []string{
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p, spec := poolFor(srv.URL, "sk-test")

	ch, gwErr := p.Stream(context.Background(), spec, chatReq())
	assert.Nil(t, gwErr)

	var content string
	var results int
	for res := range ch {
		assert.Nil(t, res.Err)
		results++
		for _, c := range res.Response.Choices {
			if c.Delta != nil {
				content += c.Delta.Content.Flatten()
			}
		}
	}
	assert.Equal(t, 2, results)
	assert.Equal(t, "Hello", content)
}

func TestStream_PreflightFailureIsSynchronous(t *testing.T) {
	p, spec := poolFor("http://localhost:1", "")

	ch, gwErr := p.Stream(context.Background(), spec, chatReq())
	assert.Nil(t, ch)
	assert.NotNil(t, gwErr)
	assert.Equal(t, api.KindUpstreamUnavailable, gwErr.Kind)
}

func TestStream_UpstreamRejectionIsTerminalResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, spec := poolFor(srv.URL, "sk-test")

	ch, gwErr := p.Stream(context.Background(), spec, chatReq())
	assert.Nil(t, gwErr)

	var terminal error
	for res := range ch {
		if res.Err != nil {
			terminal = res.Err
		}
	}
	assert.NotNil(t, terminal)
	assert.Equal(t, api.KindUpstreamError, api.Normalize(terminal).Kind)
}

func TestStream_CallerCancelStopsQuietly(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n\n")
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p, spec := poolFor(srv.URL, "sk-test")

	ctx, cancel := context.WithCancel(context.Background())
	ch, gwErr := p.Stream(ctx, spec, chatReq())
	assert.Nil(t, gwErr)

	// Consume the first chunk, then walk away
	res := <-ch
	assert.Nil(t, res.Err)
	cancel()

	for res := range ch {
		// a cancelled stream must not surface an error result
		assert.Nil(t, res.Err)
	}
}

func TestNormalizeTransportError(t *testing.T) {
	assert.Equal(t, api.KindUpstreamUnavailable,
		normalizeTransportError("p", &UpstreamError{StatusCode: 401}).Kind)
	assert.Equal(t, api.KindUpstreamUnavailable,
		normalizeTransportError("p", &UpstreamError{StatusCode: 403}).Kind)
	assert.Equal(t, api.KindUpstreamError,
		normalizeTransportError("p", &UpstreamError{StatusCode: 429}).Kind)
	assert.Equal(t, api.KindUpstreamError,
		normalizeTransportError("p", &UpstreamError{StatusCode: 500}).Kind)
	assert.Equal(t, api.KindUpstreamUnavailable,
		normalizeTransportError("p", context.DeadlineExceeded).Kind)
	assert.Equal(t, api.KindUpstreamError,
		normalizeTransportError("p", fmt.Errorf("decode failure")).Kind)
}
