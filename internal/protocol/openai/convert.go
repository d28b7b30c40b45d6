package openai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/domain/service"
	apperrors "github.com/kirogate/kirogate/pkg/errors"
)

// ToCanonical normalizes an OpenAI request into the canonical form.
// descriptionLimit bounds tool descriptions before long ones are moved into
// the system prompt appendix.
func ToCanonical(req *ChatRequest, descriptionLimit int, log *zap.Logger) (*chat.Request, error) {
	if req.Model == "" {
		return nil, apperrors.NewValidationError("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, apperrors.NewValidationError("messages must not be empty")
	}

	messages := make([]chat.Message, 0, len(req.Messages))
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
		system = joinSystem(system, appendix)
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
		Stop:        stopList(req.Stop),
	}, nil
}

func convertMessage(m ChatMessage, log *zap.Logger) (chat.Message, error) {
	msg := chat.Message{Role: m.Role, ToolCallID: m.ToolCallID}
	switch m.Role {
	case chat.RoleSystem, chat.RoleUser, chat.RoleAssistant, chat.RoleTool:
	default:
		return chat.Message{}, apperrors.NewValidationError(fmt.Sprintf("unsupported role %q", m.Role))
	}

	for _, call := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, chat.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}

	if len(m.Content) == 0 || string(m.Content) == "null" {
		return msg, nil
	}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		msg.Text = text
		return msg, nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return chat.Message{}, apperrors.NewValidationError("message content must be a string or part array")
	}
	blocks := make([]chat.Block, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "text":
			blocks = append(blocks, chat.Block{Type: chat.BlockText, Text: part.Text})
		case "image_url":
			if part.ImageURL == nil {
				continue
			}
			mediaType, data, ok := parseDataURI(part.ImageURL.URL)
			if !ok {
				// Remote image URLs cannot be forwarded; the upstream only
				// accepts inline bytes.
				log.Warn("Skipping non-inline image URL")
				continue
			}
			blocks = append(blocks, chat.Block{Type: chat.BlockImage, MediaType: mediaType, Data: data})
		}
	}
	msg.Blocks = blocks
	return msg, nil
}

// parseDataURI splits "data:image/png;base64,XXXX" into media type and data.
func parseDataURI(url string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := url[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", false
	}
	meta := rest[:comma]
	data = rest[comma+1:]
	mediaType = meta
	if semi := strings.IndexByte(meta, ';'); semi >= 0 {
		mediaType = meta[:semi]
	}
	if mediaType == "" {
		mediaType = "image/png"
	}
	return mediaType, data, data != ""
}

func stopList(stop interface{}) []string {
	switch v := stop.(type) {
	case string:
		return []string{v}
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func joinSystem(system, appendix string) string {
	if system == "" {
		return appendix
	}
	return system + "\n\n" + appendix
}

// BuildResponse shapes a finished pipeline result as a non-streaming
// completion.
func BuildResponse(model string, result *service.Result, usage service.Usage) *ChatResponse {
	finish := "stop"
	var content *string
	if result.Text != "" {
		text := result.Text
		content = &text
	}
	var calls []ToolCall
	if len(result.ToolCalls) > 0 {
		finish = "tool_calls"
		calls = toolCallsOut(result.ToolCalls, false)
	}

	return &ChatResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Message:      ResponseMessage{Role: chat.RoleAssistant, Content: content, ToolCalls: calls},
			FinishReason: finish,
		}},
		Usage: usageOut(usage),
	}
}

func usageOut(u service.Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		CreditsUsed:      u.CreditsUsed,
	}
}

func toolCallsOut(calls []chat.ToolCall, withIndex bool) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for i, call := range calls {
		tc := ToolCall{
			ID:       call.ID,
			Type:     "function",
			Function: FunctionCall{Name: call.Name, Arguments: call.Arguments},
		}
		if withIndex {
			idx := i
			tc.Index = &idx
		}
		out = append(out, tc)
	}
	return out
}

// FormatError maps an error onto the OpenAI error envelope.
func FormatError(err error) ErrorBody {
	kind := apperrors.KindOf(err)
	return ErrorBody{Error: ErrorDetail{
		Message: err.Error(),
		Type:    errorType(kind),
		Code:    string(kind),
	}}
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
	default:
		return "api_error"
	}
}

// BuildModelList shapes the fixed catalog as an OpenAI model listing.
func BuildModelList(models []chat.ModelInfo) ModelList {
	now := time.Now().Unix()
	out := ModelList{Object: "list"}
	for _, m := range models {
		out.Data = append(out.Data, ModelInfo{
			ID:      m.ID,
			Object:  "model",
			Created: now,
			OwnedBy: m.OwnedBy,
		})
	}
	return out
}
