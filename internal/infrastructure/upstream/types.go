package upstream

// --- Kiro / CodeWhisperer wire types ---
// The upstream takes a conversationState envelope: the whole dialog is
// replayed as alternating user/assistant history entries plus one current
// user message carrying model id, tools and tool results.

// Payload is the request body for generateAssistantResponse.
type Payload struct {
	ConversationState ConversationState `json:"conversationState"`
	ProfileArn        string            `json:"profileArn,omitempty"`
}

// ConversationState replays the dialog for a single generation call.
type ConversationState struct {
	ChatTriggerType string        `json:"chatTriggerType"` // always "MANUAL"
	ConversationID  string        `json:"conversationId"`
	CurrentMessage  TurnMessage   `json:"currentMessage"`
	History         []TurnMessage `json:"history,omitempty"`
}

// TurnMessage is one history entry; exactly one side is set.
type TurnMessage struct {
	UserInputMessage         *UserInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

// UserInputMessage is a user turn.
type UserInputMessage struct {
	Content                 string          `json:"content"`
	ModelID                 string          `json:"modelId"`
	Origin                  string          `json:"origin"` // always "AI_EDITOR"
	Images                  []Image         `json:"images,omitempty"`
	UserInputMessageContext *MessageContext `json:"userInputMessageContext,omitempty"`
}

// AssistantResponseMessage is an assistant turn.
type AssistantResponseMessage struct {
	Content  string    `json:"content"`
	ToolUses []ToolUse `json:"toolUses,omitempty"`
}

// MessageContext carries tool definitions and tool results for the current
// message.
type MessageContext struct {
	Tools       []Tool       `json:"tools,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// Tool wraps a tool specification.
type Tool struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

// ToolSpecification is the upstream-native tool shape.
type ToolSpecification struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema nests the JSON schema under a "json" key.
type InputSchema struct {
	JSON map[string]interface{} `json:"json"`
}

// ToolUse is an assistant-side tool invocation in history.
type ToolUse struct {
	Name      string                 `json:"name"`
	ToolUseID string                 `json:"toolUseId"`
	Input     map[string]interface{} `json:"input"`
}

// ToolResult reports a tool outcome back to the model.
type ToolResult struct {
	ToolUseID string                   `json:"toolUseId"`
	Status    string                   `json:"status"` // "success" | "error"
	Content   []map[string]interface{} `json:"content"`
}

// Image is an inline base64 image attachment.
type Image struct {
	Format string      `json:"format"` // media subtype, e.g. "png"
	Source ImageSource `json:"source"`
}

// ImageSource holds the base64 payload.
type ImageSource struct {
	Bytes string `json:"bytes"`
}
