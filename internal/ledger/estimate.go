package ledger

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/openmind/core-gateway/pkg/api"
)

// Reservation heuristic: prompt tokens are counted with the cl100k
// encoding (close enough across vendors for an estimate that commit
// reconciles anyway), plus the requested completion budget. One usage
// unit covers 1000 estimated tokens.

const (
	perMessageOverhead    = 4
	defaultCompletionHint = 256
	tokensPerUnit         = 1000
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	return codec
}

func countTokens(text string) int {
	if c := getCodec(); c != nil {
		if n, err := c.Count(text); err == nil {
			return n
		}
	}
	// rough fallback: ~4 chars per token
	return (len(text) + 3) / 4
}

// EstimateUnits computes the optimistic reservation for a request before
// actual usage is known.
func EstimateUnits(req *api.ChatRequest) int64 {
	tokens := 0
	for _, m := range req.Messages {
		tokens += countTokens(m.Content.Flatten()) + perMessageOverhead
	}

	completion := req.MaxTokens
	if completion <= 0 {
		completion = defaultCompletionHint
	}
	tokens += completion

	return UnitsForTokens(tokens)
}

// UnitsForTokens converts a token count to usage units, minimum one.
func UnitsForTokens(tokens int) int64 {
	units := int64((tokens + tokensPerUnit - 1) / tokensPerUnit)
	if units < 1 {
		units = 1
	}
	return units
}
