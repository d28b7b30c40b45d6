package anthropic

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/domain/service"
	apperrors "github.com/kirogate/kirogate/pkg/errors"
)

// ToCanonical normalizes an Anthropic request into the canonical form.
func ToCanonical(req *Request, descriptionLimit int, log *zap.Logger) (*chat.Request, error) {
	if req.Model == "" {
		return nil, apperrors.NewValidationError("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, apperrors.NewValidationError("messages must not be empty")
	}

	messages := make([]chat.Message, 0, len(req.Messages)+1)
	if system := flattenSystem(req.System); system != "" {
		messages = append(messages, chat.Message{Role: chat.RoleSystem, Text: system})
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m, log)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	system, canonical := chat.Canonicalize(messages)

	tools := chat.NormalizeTools(req.Tools)
	tools, appendix := chat.ExtractLongDescriptions(tools, descriptionLimit)
	if appendix != "" {
		if system != "" {
			system += "\n\n"
		}
		system += appendix
	}

	return &chat.Request{
		Model:       req.Model,
		System:      system,
		Messages:    canonical,
		Tools:       tools,
		ToolChoice:  req.ToolChoice,
		Stream:      req.Stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}, nil
}

// flattenSystem accepts the system prompt as a string or a text-block array.
func flattenSystem(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var out string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

func convertMessage(m Message, log *zap.Logger) (chat.Message, error) {
	switch m.Role {
	case chat.RoleUser, chat.RoleAssistant:
	default:
		return chat.Message{}, apperrors.NewValidationError(fmt.Sprintf("unsupported role %q", m.Role))
	}

	msg := chat.Message{Role: m.Role}
	if len(m.Content) == 0 {
		return msg, nil
	}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		msg.Text = text
		return msg, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return chat.Message{}, apperrors.NewValidationError("message content must be a string or block array")
	}

	out := make([]chat.Block, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, chat.Block{Type: chat.BlockText, Text: b.Text})
		case "image":
			if b.Source == nil || b.Source.Data == "" {
				log.Warn("Skipping image block without inline data")
				continue
			}
			out = append(out, chat.Block{
				Type:      chat.BlockImage,
				MediaType: b.Source.MediaType,
				Data:      b.Source.Data,
			})
		case "tool_use":
			out = append(out, chat.Block{
				Type:  chat.BlockToolUse,
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
		case "tool_result":
			out = append(out, chat.Block{
				Type:      chat.BlockToolResult,
				ToolUseID: b.ToolUseID,
				Content:   flattenToolResult(b.Content),
				IsError:   b.IsError,
			})
		case "thinking":
			out = append(out, chat.Block{Type: chat.BlockThinking, Thinking: b.Thinking})
		default:
			log.Warn("Skipping unrecognized content block", zap.String("type", b.Type))
		}
	}
	msg.Blocks = out
	return msg, nil
}

// flattenToolResult accepts tool_result content as a string or a block array
// and returns the concatenated text.
func flattenToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	var out string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// BuildResponse shapes a finished pipeline result as a non-streaming message.
func BuildResponse(model string, result *service.Result, usage service.Usage) *Response {
	var content []OutputBlock
	if result.Text != "" {
		content = append(content, OutputBlock{Type: "text", Text: result.Text})
	}
	for _, call := range result.ToolCalls {
		content = append(content, OutputBlock{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Name,
			Input: parseInput(call.Arguments),
		})
	}

	stopReason := "end_turn"
	if len(result.ToolCalls) > 0 {
		stopReason = "tool_use"
	}

	return &Response{
		ID:         "msg_" + uuid.New().String(),
		Type:       "message",
		Role:       chat.RoleAssistant,
		Model:      model,
		Content:    content,
		StopReason: stopReason,
		Usage: Usage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
			CreditsUsed:  usage.CreditsUsed,
		},
	}
}

func parseInput(args string) map[string]interface{} {
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(args), &input); err != nil || input == nil {
		return map[string]interface{}{}
	}
	return input
}

// FormatError maps an error onto the Anthropic error envelope.
func FormatError(err error) ErrorBody {
	return ErrorBody{
		Type: "error",
		Error: ErrorDetail{
			Type:    errorType(apperrors.KindOf(err)),
			Message: err.Error(),
		},
	}
}

func errorType(kind apperrors.Kind) string {
	switch kind {
	case apperrors.KindAuthentication, apperrors.KindTokenRefresh:
		return "authentication_error"
	case apperrors.KindPermission:
		return "permission_error"
	case apperrors.KindValidation:
		return "invalid_request_error"
	case apperrors.KindRateLimit:
		return "rate_limit_error"
	case apperrors.KindTimeout:
		return "timeout_error"
	case apperrors.KindUpstream:
		return "api_error"
	default:
		return "api_error"
	}
}

// messageID builds a stream-scoped message id.
func messageID() string {
	return fmt.Sprintf("msg_%s_%d", uuid.New().String()[:8], time.Now().Unix())
}
