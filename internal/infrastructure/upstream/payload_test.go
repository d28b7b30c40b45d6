package upstream

import (
	"testing"

	"github.com/kirogate/kirogate/internal/domain/chat"
)

func TestBuildPayloadSimple(t *testing.T) {
	req := &chat.Request{
		Model: "claude-sonnet-4-5",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Text: "Hi"},
		},
	}
	p := BuildPayload(req, "conv-1", "arn:profile")

	state := p.ConversationState
	if state.ChatTriggerType != "MANUAL" {
		t.Errorf("chatTriggerType = %q", state.ChatTriggerType)
	}
	if state.ConversationID != "conv-1" {
		t.Errorf("conversationId = %q", state.ConversationID)
	}
	if p.ProfileArn != "arn:profile" {
		t.Errorf("profileArn = %q", p.ProfileArn)
	}
	if len(state.History) != 0 {
		t.Errorf("unexpected history: %+v", state.History)
	}

	current := state.CurrentMessage.UserInputMessage
	if current == nil {
		t.Fatal("current message is not user-side")
	}
	if current.Content != "Hi" {
		t.Errorf("content = %q", current.Content)
	}
	if current.ModelID != "CLAUDE_SONNET_4_5_20250929_V1_0" {
		t.Errorf("modelId = %q", current.ModelID)
	}
	if current.Origin != "AI_EDITOR" {
		t.Errorf("origin = %q", current.Origin)
	}
}

func TestBuildPayloadHistorySplit(t *testing.T) {
	req := &chat.Request{
		Model: "claude-sonnet-4",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Text: "one"},
			{Role: chat.RoleAssistant, Text: "two"},
			{Role: chat.RoleUser, Text: "three"},
		},
	}
	p := BuildPayload(req, "c", "")

	state := p.ConversationState
	if len(state.History) != 2 {
		t.Fatalf("history length = %d", len(state.History))
	}
	if state.History[0].UserInputMessage == nil || state.History[0].UserInputMessage.Content != "one" {
		t.Errorf("history[0] = %+v", state.History[0])
	}
	if state.History[1].AssistantResponseMessage == nil || state.History[1].AssistantResponseMessage.Content != "two" {
		t.Errorf("history[1] = %+v", state.History[1])
	}
	if state.CurrentMessage.UserInputMessage.Content != "three" {
		t.Errorf("current = %+v", state.CurrentMessage)
	}
}

func TestBuildPayloadAssistantLastGetsContinue(t *testing.T) {
	req := &chat.Request{
		Model: "auto",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Text: "hello"},
			{Role: chat.RoleAssistant, Text: "partial answer"},
		},
	}
	p := BuildPayload(req, "c", "")

	state := p.ConversationState
	if len(state.History) != 2 {
		t.Fatalf("history length = %d", len(state.History))
	}
	if state.History[1].AssistantResponseMessage == nil {
		t.Fatalf("history[1] should be assistant: %+v", state.History[1])
	}
	if state.CurrentMessage.UserInputMessage.Content != "Continue" {
		t.Errorf("current content = %q", state.CurrentMessage.UserInputMessage.Content)
	}
}

func TestBuildPayloadSystemPromptPlacement(t *testing.T) {
	// With history, the system prompt lands on the first user history entry.
	req := &chat.Request{
		Model:  "claude-sonnet-4-5",
		System: "You are terse.",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Text: "one"},
			{Role: chat.RoleAssistant, Text: "two"},
			{Role: chat.RoleUser, Text: "three"},
		},
	}
	p := BuildPayload(req, "c", "")
	first := p.ConversationState.History[0].UserInputMessage
	if first.Content != "You are terse.\n\none" {
		t.Errorf("history[0] content = %q", first.Content)
	}
	if p.ConversationState.CurrentMessage.UserInputMessage.Content != "three" {
		t.Errorf("current mutated: %q", p.ConversationState.CurrentMessage.UserInputMessage.Content)
	}

	// Without history, it lands on the current message.
	req2 := &chat.Request{
		Model:    "claude-sonnet-4-5",
		System:   "You are terse.",
		Messages: []chat.Message{{Role: chat.RoleUser, Text: "one"}},
	}
	p2 := BuildPayload(req2, "c", "")
	if got := p2.ConversationState.CurrentMessage.UserInputMessage.Content; got != "You are terse.\n\none" {
		t.Errorf("current content = %q", got)
	}
}

func TestBuildPayloadToolsAndResults(t *testing.T) {
	req := &chat.Request{
		Model: "claude-sonnet-4-5",
		Tools: []chat.Tool{{
			Name:        "get_weather",
			Description: "weather lookup",
			InputSchema: map[string]interface{}{"type": "object"},
		}},
		Messages: []chat.Message{
			{Role: chat.RoleUser, Text: "weather?"},
			{
				Role:      chat.RoleAssistant,
				Text:      "checking",
				ToolCalls: []chat.ToolCall{{ID: "t1", Name: "get_weather", Arguments: `{"city":"NYC"}`}},
			},
			{
				Role: chat.RoleUser,
				Blocks: []chat.Block{
					{Type: chat.BlockToolResult, ToolUseID: "t1", Content: "sunny"},
				},
			},
		},
	}
	p := BuildPayload(req, "c", "")

	assistant := p.ConversationState.History[1].AssistantResponseMessage
	if len(assistant.ToolUses) != 1 {
		t.Fatalf("tool uses = %+v", assistant.ToolUses)
	}
	if assistant.ToolUses[0].ToolUseID != "t1" || assistant.ToolUses[0].Input["city"] != "NYC" {
		t.Errorf("tool use = %+v", assistant.ToolUses[0])
	}

	ctx := p.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext
	if ctx == nil {
		t.Fatal("missing message context")
	}
	if len(ctx.Tools) != 1 || ctx.Tools[0].ToolSpecification.Name != "get_weather" {
		t.Errorf("tools = %+v", ctx.Tools)
	}
	if len(ctx.ToolResults) != 1 {
		t.Fatalf("tool results = %+v", ctx.ToolResults)
	}
	result := ctx.ToolResults[0]
	if result.ToolUseID != "t1" || result.Status != "success" {
		t.Errorf("result = %+v", result)
	}
	if result.Content[0]["text"] != "sunny" {
		t.Errorf("result content = %+v", result.Content)
	}
}

func TestBuildPayloadImages(t *testing.T) {
	req := &chat.Request{
		Model: "claude-sonnet-4-5",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Blocks: []chat.Block{
				{Type: chat.BlockText, Text: "what is this?"},
				{Type: chat.BlockImage, MediaType: "image/jpeg", Data: "aGVsbG8="},
			}},
		},
	}
	p := BuildPayload(req, "c", "")

	current := p.ConversationState.CurrentMessage.UserInputMessage
	if current.Content != "what is this?" {
		t.Errorf("content = %q", current.Content)
	}
	if len(current.Images) != 1 {
		t.Fatalf("images = %+v", current.Images)
	}
	if current.Images[0].Format != "jpeg" || current.Images[0].Source.Bytes != "aGVsbG8=" {
		t.Errorf("image = %+v", current.Images[0])
	}
}

func TestBuildPayloadUnknownModelPassthrough(t *testing.T) {
	req := &chat.Request{
		Model:    "some-future-model",
		Messages: []chat.Message{{Role: chat.RoleUser, Text: "hi"}},
	}
	p := BuildPayload(req, "c", "")
	if got := p.ConversationState.CurrentMessage.UserInputMessage.ModelID; got != "some-future-model" {
		t.Errorf("modelId = %q", got)
	}
}
