package chat

import (
	"testing"
)

func TestCanonicalizeExtractsSystem(t *testing.T) {
	system, out := Canonicalize([]Message{
		{Role: RoleSystem, Text: "You are terse."},
		{Role: RoleSystem, Text: "Answer in English."},
		{Role: RoleUser, Text: "hi"},
	})
	if system != "You are terse.\nAnswer in English." {
		t.Errorf("system = %q", system)
	}
	if len(out) != 1 || out[0].Role != RoleUser {
		t.Fatalf("out = %+v", out)
	}
}

func TestCanonicalizeMergesAdjacentRoles(t *testing.T) {
	_, out := Canonicalize([]Message{
		{Role: RoleUser, Text: "first"},
		{Role: RoleUser, Text: "second"},
		{Role: RoleAssistant, Text: "reply"},
		{Role: RoleAssistant, Text: "more"},
		{Role: RoleUser, Text: "third"},
	})
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if out[0].Text != "first\nsecond" {
		t.Errorf("merged user text = %q", out[0].Text)
	}
	if out[1].Text != "reply\nmore" {
		t.Errorf("merged assistant text = %q", out[1].Text)
	}
	for i := 1; i < len(out); i++ {
		if out[i].Role == out[i-1].Role {
			t.Errorf("adjacent messages %d and %d share role %s", i-1, i, out[i].Role)
		}
	}
}

func TestCanonicalizeGroupsToolRun(t *testing.T) {
	_, out := Canonicalize([]Message{
		{Role: RoleUser, Text: "run both"},
		{Role: RoleAssistant, Text: "", ToolCalls: []ToolCall{
			{ID: "call_1", Name: "a", Arguments: "{}"},
			{ID: "call_2", Name: "b", Arguments: "{}"},
		}},
		{Role: RoleTool, ToolCallID: "call_1", Text: "out-a"},
		{Role: RoleTool, ToolCallID: "call_2", Text: "out-b"},
		{Role: RoleUser, Text: "thanks"},
	})
	if len(out) != 4 {
		t.Fatalf("len(out) = %d, want 4: %+v", len(out), out)
	}
	results := out[2]
	if results.Role != RoleUser {
		t.Fatalf("tool run promoted to role %q", results.Role)
	}
	if len(results.Blocks) != 2 {
		t.Fatalf("tool result blocks = %d, want 2", len(results.Blocks))
	}
	for i, id := range []string{"call_1", "call_2"} {
		b := results.Blocks[i]
		if b.Type != BlockToolResult || b.ToolUseID != id {
			t.Errorf("block %d = %+v", i, b)
		}
	}
	for _, msg := range out {
		if msg.Role == RoleTool {
			t.Error("tool role survived canonicalization")
		}
	}
}

func TestCanonicalizeToolRunMergesWithFollowingUser(t *testing.T) {
	// A tool run followed directly by a user message collapses into one
	// user message: blocks first, then the text.
	_, out := Canonicalize([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c", Name: "f", Arguments: "{}"}}},
		{Role: RoleTool, ToolCallID: "c", Text: "42"},
		{Role: RoleUser, Text: "and now?"},
	})
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	merged := out[1]
	if merged.Role != RoleUser || len(merged.Blocks) != 2 {
		t.Fatalf("merged = %+v", merged)
	}
	if merged.Blocks[0].Type != BlockToolResult {
		t.Errorf("first block = %+v", merged.Blocks[0])
	}
	if merged.Blocks[1].Type != BlockText || merged.Blocks[1].Text != "and now?" {
		t.Errorf("second block = %+v", merged.Blocks[1])
	}
}

func TestCanonicalizeKeepsExistingToolResultBlock(t *testing.T) {
	_, out := Canonicalize([]Message{
		{Role: RoleUser, Text: "go"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "f", Arguments: "{}"}}},
		{Role: RoleTool, Blocks: []Block{
			{Type: BlockToolResult, ToolUseID: "c1", Content: "boom", IsError: true},
		}},
	})
	b := out[2].Blocks[0]
	if !b.IsError {
		t.Error("is_error lost on pre-built tool_result block")
	}
	if b.Content != "boom" {
		t.Errorf("content = %v", b.Content)
	}
}

func TestCanonicalizeMergePreservesToolCalls(t *testing.T) {
	_, out := Canonicalize([]Message{
		{Role: RoleAssistant, Text: "calling"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "f", Arguments: "{}"}}},
	})
	if len(out) != 1 {
		t.Fatalf("len(out) = %d", len(out))
	}
	if len(out[0].ToolCalls) != 1 || out[0].ToolCalls[0].ID != "c1" {
		t.Errorf("tool calls = %+v", out[0].ToolCalls)
	}
}

func TestCanonicalizeEmptyInput(t *testing.T) {
	system, out := Canonicalize(nil)
	if system != "" || len(out) != 0 {
		t.Errorf("system = %q, out = %+v", system, out)
	}
}
