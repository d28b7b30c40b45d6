package chat

// --- Canonical chat model ---
// All three client dialects are normalized into these types before the
// upstream payload is built, and translated back out of them on the way to
// the client. The canonical form is closest to the Anthropic block model
// because the upstream itself is block-shaped.

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Block types.
const (
	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
)

// Request is the canonical chat request.
type Request struct {
	Model       string
	System      string // populated by Canonicalize
	Messages    []Message
	Tools       []Tool
	ToolChoice  interface{}
	Stream      bool
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Stop        []string
}

// Message is one conversation turn. Content is either a plain string (Text)
// or an ordered block sequence (Blocks); exactly one form is populated.
type Message struct {
	Role      string
	Text      string
	Blocks    []Block
	ToolCalls []ToolCall // assistant-side calls carried for history building
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string
}

// IsText reports whether the message carries plain string content.
func (m *Message) IsText() bool {
	return m.Blocks == nil
}

// PlainText flattens the message content to text, ignoring non-text blocks.
func (m *Message) PlainText() string {
	if m.IsText() {
		return m.Text
	}
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText && b.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// Block is a polymorphic content element.
type Block struct {
	Type string

	// For type "text"
	Text string

	// For type "image": inline base64 with its media type
	MediaType string
	Data      string

	// For type "tool_use"
	ID    string
	Name  string
	Input map[string]interface{}

	// For type "tool_result"
	ToolUseID string
	Content   string
	IsError   bool

	// For type "thinking"
	Thinking string
}

// Tool is the canonical tool definition all seven inbound shapes collapse to.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ToolCall is a finalized tool invocation. Arguments is always the string
// encoding of a JSON object (possibly "{}").
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}
