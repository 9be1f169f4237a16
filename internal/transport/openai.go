package transport

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openmind/core-gateway/pkg/api"
)

// OpenAI-compatible dialect. Covers openai itself plus the deepseek, xai
// and nearai aggregator endpoints, which all speak the same wire format.

func openaiSend(ctx context.Context, c *client, req *api.ChatRequest) (*api.ChatResponse, error) {
	out := *req
	out.Stream = false
	out.StreamOptions = nil

	url := strings.TrimRight(c.baseURL, "/") + "/chat/completions"
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}

	var resp api.ChatResponse
	if err := sendJSON(ctx, c.http, "POST", url, headers, &out, &resp); err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, &UpstreamError{StatusCode: 200, Body: []byte("empty choices"), URL: url}
	}

	return &resp, nil
}

func openaiStream(ctx context.Context, c *client, req *api.ChatRequest, ch chan<- api.StreamResult) error {
	out := *req
	out.Stream = true
	out.StreamOptions = &api.StreamOptions{IncludeUsage: true}

	url := strings.TrimRight(c.baseURL, "/") + "/chat/completions"
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}

	return streamJSON(ctx, c.http, "POST", url, headers, &out, func(line string) error {
		if !strings.HasPrefix(line, "data: ") {
			return nil
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var chunk api.ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// skip malformed keep-alive noise, the terminal error path
			// catches a dead stream
			return nil
		}

		select {
		case ch <- api.StreamResult{Response: &chunk}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}
