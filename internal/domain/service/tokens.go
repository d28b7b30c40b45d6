package service

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kirogate/kirogate/internal/domain/chat"
)

// --- Token accounting ---
// The upstream reports a context-usage percentage rather than token counts,
// so counts are reconstructed: completion tokens are always counted locally,
// prompt tokens come from the percentage when present and from a local
// estimate otherwise.

// DefaultMaxInputTokens is the context window assumed when deriving totals
// from the usage percentage.
const DefaultMaxInputTokens = 200000

// estimateCorrection compensates for the upstream tokenizer counting slightly
// higher than cl100k_base on identical text.
const estimateCorrection = 1.15

// Usage is the reconstructed token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// CreditsUsed carries the upstream "usage" metering value verbatim when
	// one was emitted. Its unit is not documented upstream.
	CreditsUsed *float64
}

var (
	encodingOnce sync.Once
	encodingInst *tiktoken.Tiktoken
)

func encoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		encodingInst, _ = tiktoken.GetEncoding("cl100k_base")
	})
	return encodingInst
}

// CountTokens counts tokens with cl100k_base, falling back to a ~4 chars per
// token heuristic when the encoding is unavailable.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// EstimateRequestTokens approximates the prompt size of a canonical request:
// system prompt, message text, tool-call arguments, and tool definitions,
// scaled by the correction factor.
func EstimateRequestTokens(req *chat.Request) int {
	total := CountTokens(req.System)
	for _, msg := range req.Messages {
		total += CountTokens(msg.PlainText())
		for _, call := range msg.ToolCalls {
			total += CountTokens(call.Name) + CountTokens(call.Arguments)
		}
		if !msg.IsText() {
			for _, b := range msg.Blocks {
				if b.Type == chat.BlockToolResult {
					total += CountTokens(b.Content)
				}
			}
		}
	}
	for _, tool := range req.Tools {
		total += CountTokens(tool.Name) + CountTokens(tool.Description)
		if schema, err := json.Marshal(tool.InputSchema); err == nil {
			total += CountTokens(string(schema))
		}
	}
	return int(float64(total) * estimateCorrection)
}

// ComputeUsage reconstructs token counts for a finished completion.
// contextPct > 0 pins totalTokens = floor(pct/100 × maxInputTokens) and
// derives promptTokens from it; contextPct = 0 falls back to local
// estimation.
func ComputeUsage(req *chat.Request, completion string, contextPct float64, maxInputTokens int, credits *float64) Usage {
	if maxInputTokens <= 0 {
		maxInputTokens = DefaultMaxInputTokens
	}
	completionTokens := CountTokens(completion)

	var promptTokens, totalTokens int
	if contextPct > 0 {
		totalTokens = int(contextPct / 100 * float64(maxInputTokens))
		promptTokens = totalTokens - completionTokens
		if promptTokens < 0 {
			promptTokens = 0
		}
	} else {
		promptTokens = EstimateRequestTokens(req)
		totalTokens = promptTokens + completionTokens
	}

	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
		CreditsUsed:      credits,
	}
}
