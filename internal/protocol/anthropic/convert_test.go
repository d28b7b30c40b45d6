package anthropic

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/domain/service"
)

func mustCanonical(t *testing.T, body string) *chat.Request {
	t.Helper()
	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	canonical, err := ToCanonical(&req, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("to canonical: %v", err)
	}
	return canonical
}

func TestToCanonicalSystemForms(t *testing.T) {
	fromString := mustCanonical(t, `{
		"model": "claude-sonnet-4-5", "max_tokens": 100,
		"system": "Be brief.",
		"messages": [{"role": "user", "content": "Hi"}]
	}`)
	if fromString.System != "Be brief." {
		t.Errorf("system = %q", fromString.System)
	}

	fromBlocks := mustCanonical(t, `{
		"model": "claude-sonnet-4-5", "max_tokens": 100,
		"system": [{"type": "text", "text": "Be brief."}, {"type": "text", "text": "Be kind."}],
		"messages": [{"role": "user", "content": "Hi"}]
	}`)
	if fromBlocks.System != "Be brief.\nBe kind." {
		t.Errorf("system = %q", fromBlocks.System)
	}
}

func TestToCanonicalToolUseAndResult(t *testing.T) {
	canonical := mustCanonical(t, `{
		"model": "claude-sonnet-4-5", "max_tokens": 100,
		"messages": [
			{"role": "user", "content": "weather?"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "t1", "name": "get_weather", "input": {"city": "NYC"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "t1", "content": "sunny", "is_error": false}
			]}
		]
	}`)

	assistant := canonical.Messages[1]
	var use *chat.Block
	for i := range assistant.Blocks {
		if assistant.Blocks[i].Type == chat.BlockToolUse {
			use = &assistant.Blocks[i]
		}
	}
	if use == nil || use.ID != "t1" || use.Name != "get_weather" || use.Input["city"] != "NYC" {
		t.Fatalf("tool_use = %+v", use)
	}

	last := canonical.Messages[2]
	if last.Role != chat.RoleUser || len(last.Blocks) != 1 {
		t.Fatalf("last = %+v", last)
	}
	result := last.Blocks[0]
	if result.Type != chat.BlockToolResult || result.ToolUseID != "t1" || result.Content != "sunny" {
		t.Errorf("tool_result = %+v", result)
	}
}

func TestToCanonicalToolResultBlockArray(t *testing.T) {
	canonical := mustCanonical(t, `{
		"model": "claude-sonnet-4-5", "max_tokens": 100,
		"messages": [
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "t1", "content": [
					{"type": "text", "text": "line one"},
					{"type": "text", "text": "line two"}
				], "is_error": true}
			]}
		]
	}`)

	block := canonical.Messages[0].Blocks[0]
	if block.Content != "line one\nline two" {
		t.Errorf("content = %q", block.Content)
	}
	if !block.IsError {
		t.Error("is_error lost")
	}
}

func TestToCanonicalMaxTokensAndStops(t *testing.T) {
	canonical := mustCanonical(t, `{
		"model": "claude-sonnet-4-5", "max_tokens": 321,
		"stop_sequences": ["END"],
		"messages": [{"role": "user", "content": "Hi"}]
	}`)
	if canonical.MaxTokens != 321 {
		t.Errorf("max_tokens = %d", canonical.MaxTokens)
	}
	if len(canonical.Stop) != 1 || canonical.Stop[0] != "END" {
		t.Errorf("stop = %v", canonical.Stop)
	}
}

func TestBuildResponseStopReasons(t *testing.T) {
	usage := service.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}

	plain := BuildResponse("m", &service.Result{Text: "hi"}, usage)
	if plain.StopReason != "end_turn" {
		t.Errorf("stop_reason = %q", plain.StopReason)
	}
	if len(plain.Content) != 1 || plain.Content[0].Type != "text" || plain.Content[0].Text != "hi" {
		t.Errorf("content = %+v", plain.Content)
	}
	if plain.Usage.InputTokens != 7 || plain.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", plain.Usage)
	}

	tooled := BuildResponse("m", &service.Result{
		Text:      "checking",
		ToolCalls: []chat.ToolCall{{ID: "t1", Name: "f", Arguments: `{"a":1}`}},
	}, usage)
	if tooled.StopReason != "tool_use" {
		t.Errorf("stop_reason = %q", tooled.StopReason)
	}
	if len(tooled.Content) != 2 || tooled.Content[1].Type != "tool_use" {
		t.Fatalf("content = %+v", tooled.Content)
	}
	if tooled.Content[1].Input["a"] != float64(1) {
		t.Errorf("input = %+v", tooled.Content[1].Input)
	}
}
