package openai

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/domain/service"
	"github.com/kirogate/kirogate/internal/infrastructure/upstream"
	apperrors "github.com/kirogate/kirogate/pkg/errors"
)

func frames(t *testing.T, raw string) []string {
	t.Helper()
	var out []string
	for _, frame := range strings.Split(raw, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame != "" {
			out = append(out, frame)
		}
	}
	return out
}

func decodeChunk(t *testing.T, frame string) ChatChunk {
	t.Helper()
	if !strings.HasPrefix(frame, "data: ") {
		t.Fatalf("frame missing data prefix: %q", frame)
	}
	var chunk ChatChunk
	if err := json.Unmarshal([]byte(frame[len("data: "):]), &chunk); err != nil {
		t.Fatalf("decode %q: %v", frame, err)
	}
	return chunk
}

func TestStreamWriterSimpleChat(t *testing.T) {
	var buf strings.Builder
	w := NewStreamWriter(&buf, "claude-sonnet-4-5")

	if err := w.OnEvent(upstream.Event{Kind: upstream.EventContent, Content: "Hello"}); err != nil {
		t.Fatal(err)
	}
	if err := w.OnEvent(upstream.Event{Kind: upstream.EventContent, Content: " there"}); err != nil {
		t.Fatal(err)
	}
	usage := service.Usage{PromptTokens: 995, CompletionTokens: 5, TotalTokens: 1000}
	if err := w.Finish(&service.Result{Text: "Hello there"}, usage); err != nil {
		t.Fatal(err)
	}

	got := frames(t, buf.String())
	if len(got) != 4 {
		t.Fatalf("expected 4 frames, got %d:\n%s", len(got), buf.String())
	}

	first := decodeChunk(t, got[0])
	if first.Choices[0].Delta.Role != "assistant" || *first.Choices[0].Delta.Content != "Hello" {
		t.Errorf("first delta = %+v", first.Choices[0].Delta)
	}

	second := decodeChunk(t, got[1])
	if second.Choices[0].Delta.Role != "" || *second.Choices[0].Delta.Content != " there" {
		t.Errorf("second delta = %+v", second.Choices[0].Delta)
	}

	final := decodeChunk(t, got[2])
	if final.Choices[0].FinishReason == nil || *final.Choices[0].FinishReason != "stop" {
		t.Errorf("finish = %v", final.Choices[0].FinishReason)
	}
	if final.Usage == nil || final.Usage.TotalTokens != 1000 {
		t.Errorf("usage = %+v", final.Usage)
	}

	if got[3] != "data: [DONE]" {
		t.Errorf("terminator = %q", got[3])
	}
}

func TestStreamWriterToolCalls(t *testing.T) {
	var buf strings.Builder
	w := NewStreamWriter(&buf, "m")

	usage := service.Usage{}
	result := &service.Result{
		ToolCalls: []chat.ToolCall{
			{ID: "t1", Name: "f", Arguments: `{"a":1}`},
			{ID: "t2", Name: "g", Arguments: "{}"},
		},
	}
	if err := w.Finish(result, usage); err != nil {
		t.Fatal(err)
	}

	got := frames(t, buf.String())
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d:\n%s", len(got), buf.String())
	}

	toolChunk := decodeChunk(t, got[0])
	calls := toolChunk.Choices[0].Delta.ToolCalls
	if len(calls) != 2 {
		t.Fatalf("tool calls = %+v", calls)
	}
	if calls[0].Index == nil || *calls[0].Index != 0 || calls[1].Index == nil || *calls[1].Index != 1 {
		t.Errorf("indices = %+v", calls)
	}
	if calls[0].Function.Name != "f" || calls[0].Function.Arguments != `{"a":1}` {
		t.Errorf("call 0 = %+v", calls[0])
	}

	final := decodeChunk(t, got[1])
	if final.Choices[0].FinishReason == nil || *final.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish = %v", final.Choices[0].FinishReason)
	}
}

func TestStreamWriterErrorFrameHasNoDone(t *testing.T) {
	var buf strings.Builder
	w := NewStreamWriter(&buf, "m")

	w.WriteError(apperrors.NewUpstreamError(502, "upstream unavailable"))
	out := buf.String()
	if strings.Contains(out, "[DONE]") {
		t.Errorf("error output contains [DONE]: %q", out)
	}
	if !strings.Contains(out, `"error"`) {
		t.Errorf("missing error body: %q", out)
	}
}
