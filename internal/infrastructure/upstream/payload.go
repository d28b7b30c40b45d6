package upstream

import (
	"encoding/json"
	"strings"

	"github.com/kirogate/kirogate/internal/domain/chat"
)

const (
	chatTriggerManual = "MANUAL"
	originAIEditor    = "AI_EDITOR"

	// Injected user turn when the dialog would otherwise end on an assistant
	// message or with empty content.
	continuePrompt = "Continue"
)

// BuildPayload projects a canonical request onto the upstream conversation
// envelope. All messages but the last become history; the last becomes the
// current message. A dialog ending on an assistant turn gets a synthetic
// "Continue" user turn so the current message is always user-side. The system
// prompt is prepended to the first user turn in history, or to the current
// message when there is no history.
func BuildPayload(req *chat.Request, conversationID, profileArn string) *Payload {
	modelID := chat.ResolveModelID(req.Model)

	messages := req.Messages
	var current chat.Message
	var past []chat.Message
	if len(messages) == 0 {
		current = chat.Message{Role: chat.RoleUser, Text: continuePrompt}
	} else if messages[len(messages)-1].Role == chat.RoleAssistant {
		past = messages
		current = chat.Message{Role: chat.RoleUser, Text: continuePrompt}
	} else {
		past = messages[:len(messages)-1]
		current = messages[len(messages)-1]
	}

	system := req.System
	history := make([]TurnMessage, 0, len(past))
	for _, msg := range past {
		switch msg.Role {
		case chat.RoleUser:
			entry := &UserInputMessage{
				Content: msg.PlainText(),
				ModelID: modelID,
				Origin:  originAIEditor,
				Images:  imagesOf(msg),
			}
			if system != "" {
				entry.Content = prependSystem(system, entry.Content)
				system = ""
			}
			if results := toolResultsOf(msg); len(results) > 0 {
				entry.UserInputMessageContext = &MessageContext{ToolResults: results}
			}
			history = append(history, TurnMessage{UserInputMessage: entry})
		case chat.RoleAssistant:
			history = append(history, TurnMessage{
				AssistantResponseMessage: &AssistantResponseMessage{
					Content:  msg.PlainText(),
					ToolUses: toolUsesOf(msg),
				},
			})
		}
	}

	currentMsg := &UserInputMessage{
		Content: current.PlainText(),
		ModelID: modelID,
		Origin:  originAIEditor,
		Images:  imagesOf(current),
	}
	if system != "" {
		currentMsg.Content = prependSystem(system, currentMsg.Content)
	}
	if currentMsg.Content == "" {
		currentMsg.Content = continuePrompt
	}

	ctx := &MessageContext{
		Tools:       convertTools(req.Tools),
		ToolResults: toolResultsOf(current),
	}
	if len(ctx.Tools) > 0 || len(ctx.ToolResults) > 0 {
		currentMsg.UserInputMessageContext = ctx
	}

	return &Payload{
		ConversationState: ConversationState{
			ChatTriggerType: chatTriggerManual,
			ConversationID:  conversationID,
			CurrentMessage:  TurnMessage{UserInputMessage: currentMsg},
			History:         history,
		},
		ProfileArn: profileArn,
	}
}

func prependSystem(system, content string) string {
	if content == "" {
		return system
	}
	return system + "\n\n" + content
}

func convertTools(tools []chat.Tool) []Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, Tool{ToolSpecification: ToolSpecification{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: InputSchema{JSON: chat.EnsureSchema(t.InputSchema)},
		}})
	}
	return out
}

func toolUsesOf(msg chat.Message) []ToolUse {
	var uses []ToolUse
	for _, call := range msg.ToolCalls {
		uses = append(uses, ToolUse{
			Name:      call.Name,
			ToolUseID: call.ID,
			Input:     parseArguments(call.Arguments),
		})
	}
	if !msg.IsText() {
		for _, b := range msg.Blocks {
			if b.Type != chat.BlockToolUse {
				continue
			}
			input := b.Input
			if input == nil {
				input = map[string]interface{}{}
			}
			uses = append(uses, ToolUse{Name: b.Name, ToolUseID: b.ID, Input: input})
		}
	}
	return uses
}

func parseArguments(args string) map[string]interface{} {
	if strings.TrimSpace(args) == "" {
		return map[string]interface{}{}
	}
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(args), &input); err != nil || input == nil {
		return map[string]interface{}{}
	}
	return input
}

func toolResultsOf(msg chat.Message) []ToolResult {
	if msg.IsText() {
		return nil
	}
	var results []ToolResult
	for _, b := range msg.Blocks {
		if b.Type != chat.BlockToolResult {
			continue
		}
		status := "success"
		if b.IsError {
			status = "error"
		}
		content := b.Content
		if content == "" {
			content = "(no output)"
		}
		results = append(results, ToolResult{
			ToolUseID: b.ToolUseID,
			Status:    status,
			Content:   []map[string]interface{}{{"text": content}},
		})
	}
	return results
}

func imagesOf(msg chat.Message) []Image {
	if msg.IsText() {
		return nil
	}
	var images []Image
	for _, b := range msg.Blocks {
		if b.Type != chat.BlockImage || b.Data == "" {
			continue
		}
		format := "png"
		if idx := strings.IndexByte(b.MediaType, '/'); idx >= 0 {
			format = b.MediaType[idx+1:]
		}
		images = append(images, Image{Format: format, Source: ImageSource{Bytes: b.Data}})
	}
	return images
}
