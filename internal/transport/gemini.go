package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openmind/core-gateway/pkg/api"
)

// Gemini dialect: translates the OpenAI-shaped request to
// generateContent / streamGenerateContent and maps candidates back.

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
}

func geminiShape(req *api.ChatRequest) geminiRequest {
	gr := geminiRequest{}

	for _, m := range req.Messages {
		if m.Role == string(api.System) {
			gr.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: m.Content.Flatten()}},
			}
			continue
		}

		role := api.User
		if m.Role == string(api.Assistant) {
			role = api.ModelAssistant
		}
		gr.Contents = append(gr.Contents, geminiContent{
			Role:  string(role),
			Parts: []geminiPart{{Text: m.Content.Flatten()}},
		})
	}

	cfg := &geminiGenerationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxTokens,
	}
	if req.Stop != nil {
		cfg.StopSequences = req.Stop.Val
	}
	gr.GenerationConfig = cfg

	return gr
}

func geminiFinishReason(reason string) string {
	switch reason {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return strings.ToLower(reason)
	}
}

func geminiUsageToAPI(u *geminiUsage) *api.ResponseUsage {
	if u == nil {
		return nil
	}
	return &api.ResponseUsage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}

func geminiSend(ctx context.Context, c *client, req *api.ChatRequest) (*api.ChatResponse, error) {
	shape := geminiShape(req)

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(c.baseURL, "/"), req.Model, c.apiKey)

	var gResp geminiResponse
	if err := sendJSON(ctx, c.http, "POST", url, nil, shape, &gResp); err != nil {
		return nil, err
	}

	if len(gResp.Candidates) == 0 {
		return nil, &UpstreamError{StatusCode: 200, Body: []byte("no candidates"), URL: url}
	}

	text := ""
	for _, p := range gResp.Candidates[0].Content.Parts {
		text += p.Text
	}

	return &api.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []api.Choice{{
			Index: 0,
			Message: &api.ChatMessage{
				Role:    string(api.Assistant),
				Content: api.Content{Text: text},
			},
			FinishReason: geminiFinishReason(gResp.Candidates[0].FinishReason),
		}},
		Usage: geminiUsageToAPI(gResp.UsageMetadata),
	}, nil
}

func geminiStream(ctx context.Context, c *client, req *api.ChatRequest, ch chan<- api.StreamResult) error {
	shape := geminiShape(req)

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s&alt=sse",
		strings.TrimRight(c.baseURL, "/"), req.Model, c.apiKey)

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	return streamJSON(ctx, c.http, "POST", url, nil, shape, func(line string) error {
		if !strings.HasPrefix(line, "data: ") {
			return nil
		}
		data := strings.TrimPrefix(line, "data: ")

		var gResp geminiResponse
		if err := json.Unmarshal([]byte(data), &gResp); err != nil {
			return nil
		}

		chunk := &api.ChatResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Usage:   geminiUsageToAPI(gResp.UsageMetadata),
		}

		if len(gResp.Candidates) > 0 {
			text := ""
			for _, p := range gResp.Candidates[0].Content.Parts {
				text += p.Text
			}
			finish := ""
			if gResp.Candidates[0].FinishReason != "" {
				finish = geminiFinishReason(gResp.Candidates[0].FinishReason)
			}
			chunk.Choices = []api.Choice{{
				Delta: &api.ChatMessage{
					Role:    string(api.Assistant),
					Content: api.Content{Text: text},
				},
				FinishReason: finish,
			}}
		}

		if len(chunk.Choices) == 0 && chunk.Usage == nil {
			return nil
		}

		select {
		case ch <- api.StreamResult{Response: chunk}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}
