package api

type ChatResponse struct {
	ID      string         `json:"id"`
	Choices []Choice       `json:"choices"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Object  string         `json:"object"` // "chat.completion" or "chat.completion.chunk"
	Usage   *ResponseUsage `json:"usage,omitempty"`
}

type Choice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"` // For non-streaming
	Delta        *ChatMessage `json:"delta,omitempty"`   // For streaming
	FinishReason string       `json:"finish_reason"`
}

type ResponseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorResponse is the wire shape for every failure leaving the gateway.
type ErrorResponse struct {
	Message string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return e.Message
}

// StreamResult carries one streaming chunk or a terminal error.
// A closed channel with no Err marks normal completion.
type StreamResult struct {
	Response *ChatResponse
	Err      error
}

// ProviderInfo describes one registry entry on the models listing surface.
type ProviderInfo struct {
	ID        string   `json:"id"`
	Prefixes  []string `json:"model_prefixes"`
	Streaming bool     `json:"streaming"`
}

type ProviderList struct {
	Object string         `json:"object"` // "list"
	Data   []ProviderInfo `json:"data"`
}
