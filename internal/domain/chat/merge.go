package chat

import "strings"

// Canonicalize enforces the canonical message-sequence invariants:
//
//  1. System messages are removed; their text is concatenated (newline-joined)
//     into the returned system prompt.
//  2. Tool-role messages are promoted into synthesized user messages carrying
//     tool_result blocks. A run of consecutive tool messages becomes a single
//     synthesized user message.
//  3. Adjacent messages sharing a role are merged.
//
// After Canonicalize no two adjacent messages share a role and no message has
// role "tool".
func Canonicalize(messages []Message) (system string, out []Message) {
	var sysParts []string
	var work []Message

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case RoleSystem:
			if text := msg.PlainText(); text != "" {
				sysParts = append(sysParts, text)
			}
		case RoleTool:
			// Group the whole run of tool messages into one user message.
			blocks := []Block{toolResultBlock(msg)}
			for i+1 < len(messages) && messages[i+1].Role == RoleTool {
				i++
				blocks = append(blocks, toolResultBlock(messages[i]))
			}
			work = append(work, Message{Role: RoleUser, Blocks: blocks})
		default:
			work = append(work, msg)
		}
	}

	for _, msg := range work {
		if len(out) > 0 && out[len(out)-1].Role == msg.Role {
			out[len(out)-1] = mergeMessages(out[len(out)-1], msg)
			continue
		}
		out = append(out, msg)
	}

	return strings.Join(sysParts, "\n"), out
}

func toolResultBlock(msg Message) Block {
	// A tool message may already carry a tool_result block from the
	// Anthropic dialect; reuse it so is_error survives.
	if !msg.IsText() {
		for _, b := range msg.Blocks {
			if b.Type == BlockToolResult {
				return b
			}
		}
	}
	return Block{
		Type:      BlockToolResult,
		ToolUseID: msg.ToolCallID,
		Content:   msg.PlainText(),
	}
}

// mergeMessages joins two same-role messages: string+string newline-joins,
// array+array concatenates, mixed promotes both sides to blocks. Assistant
// tool_calls arrays are concatenated.
func mergeMessages(a, b Message) Message {
	merged := Message{Role: a.Role}
	switch {
	case a.IsText() && b.IsText():
		if a.Text == "" {
			merged.Text = b.Text
		} else if b.Text == "" {
			merged.Text = a.Text
		} else {
			merged.Text = a.Text + "\n" + b.Text
		}
	case !a.IsText() && !b.IsText():
		merged.Blocks = append(append([]Block{}, a.Blocks...), b.Blocks...)
	default:
		merged.Blocks = append(asBlocks(a), asBlocks(b)...)
	}
	merged.ToolCalls = append(append([]ToolCall{}, a.ToolCalls...), b.ToolCalls...)
	if merged.ToolCalls != nil && len(merged.ToolCalls) == 0 {
		merged.ToolCalls = nil
	}
	return merged
}

func asBlocks(m Message) []Block {
	if !m.IsText() {
		return m.Blocks
	}
	if m.Text == "" {
		return nil
	}
	return []Block{{Type: BlockText, Text: m.Text}}
}
