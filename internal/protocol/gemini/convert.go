package gemini

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/domain/service"
	apperrors "github.com/kirogate/kirogate/pkg/errors"
)

// ToCanonical normalizes a Gemini request into the canonical form. The model
// id arrives from the URL path; stream likewise comes from the route.
func ToCanonical(model string, req *Request, stream bool, descriptionLimit int, log *zap.Logger) (*chat.Request, error) {
	if model == "" {
		return nil, apperrors.NewValidationError("model is required")
	}
	if len(req.Contents) == 0 {
		return nil, apperrors.NewValidationError("contents must not be empty")
	}

	messages := make([]chat.Message, 0, len(req.Contents)+1)
	if req.SystemInstruction != nil {
		if text := partsText(req.SystemInstruction.Parts); text != "" {
			messages = append(messages, chat.Message{Role: chat.RoleSystem, Text: text})
		}
	}
	for _, content := range req.Contents {
		msg, err := convertContent(content, log)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	system, canonical := chat.Canonicalize(messages)

	var declarations []map[string]interface{}
	for _, block := range req.Tools {
		declarations = append(declarations, block.FunctionDeclarations...)
	}
	tools := chat.NormalizeTools(declarations)
	tools, appendix := chat.ExtractLongDescriptions(tools, descriptionLimit)
	if appendix != "" {
		if system != "" {
			system += "\n\n"
		}
		system += appendix
	}

	out := &chat.Request{
		Model:    model,
		System:   system,
		Messages: canonical,
		Tools:    tools,
		Stream:   stream,
	}
	if cfg := req.GenerationConfig; cfg != nil {
		out.Temperature = cfg.Temperature
		out.TopP = cfg.TopP
		out.MaxTokens = cfg.MaxOutputTokens
		out.Stop = cfg.StopSequences
	}
	return out, nil
}

func convertContent(content Content, log *zap.Logger) (chat.Message, error) {
	role := chat.RoleUser
	switch content.Role {
	case "", "user":
	case "model":
		role = chat.RoleAssistant
	default:
		return chat.Message{}, apperrors.NewValidationError(fmt.Sprintf("unsupported role %q", content.Role))
	}

	blocks := make([]chat.Block, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch {
		case part.Text != "":
			blocks = append(blocks, chat.Block{Type: chat.BlockText, Text: part.Text})
		case part.InlineData != nil:
			if part.InlineData.Data == "" {
				log.Warn("Skipping inlineData part without data")
				continue
			}
			blocks = append(blocks, chat.Block{
				Type:      chat.BlockImage,
				MediaType: part.InlineData.MimeType,
				Data:      part.InlineData.Data,
			})
		case part.FunctionCall != nil:
			input := part.FunctionCall.Args
			if input == nil {
				input = map[string]interface{}{}
			}
			blocks = append(blocks, chat.Block{
				Type: chat.BlockToolUse,
				// Gemini has no call ids; the function name stands in so the
				// matching functionResponse can be associated.
				ID:    part.FunctionCall.Name,
				Name:  part.FunctionCall.Name,
				Input: input,
			})
		case part.FunctionResponse != nil:
			blocks = append(blocks, chat.Block{
				Type:      chat.BlockToolResult,
				ToolUseID: part.FunctionResponse.Name,
				Content:   encodeResponse(part.FunctionResponse.Response),
			})
		}
	}
	return chat.Message{Role: role, Blocks: blocks}, nil
}

func encodeResponse(response map[string]interface{}) string {
	if response == nil {
		return ""
	}
	encoded, err := json.Marshal(response)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func partsText(parts []Part) string {
	var out string
	for _, part := range parts {
		if part.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += part.Text
	}
	return out
}

// BuildResponse shapes a finished pipeline result as a generateContent
// response.
func BuildResponse(result *service.Result, usage service.Usage) *Response {
	var parts []Part
	if result.Text != "" {
		parts = append(parts, Part{Text: result.Text})
	}
	for _, call := range result.ToolCalls {
		parts = append(parts, Part{FunctionCall: &FunctionCall{
			Name: call.Name,
			Args: parseArgs(call.Arguments),
		}})
	}
	if parts == nil {
		parts = []Part{{Text: ""}}
	}

	return &Response{
		Candidates: []Candidate{{
			Content:      Content{Role: "model", Parts: parts},
			FinishReason: "STOP",
		}},
		UsageMetadata: &UsageMetadata{
			PromptTokenCount:     usage.PromptTokens,
			CandidatesTokenCount: usage.CompletionTokens,
			TotalTokenCount:      usage.TotalTokens,
		},
	}
}

func parseArgs(args string) map[string]interface{} {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(args), &out); err != nil || out == nil {
		return map[string]interface{}{}
	}
	return out
}

// FormatError maps an error onto the Gemini error envelope.
func FormatError(err error) ErrorBody {
	status := httpStatusOf(err)
	return ErrorBody{Error: ErrorDetail{
		Code:    status,
		Message: err.Error(),
		Status:  grpcStatus(status),
	}}
}

func httpStatusOf(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return 500
}

func grpcStatus(httpStatus int) string {
	switch {
	case httpStatus == 400:
		return "INVALID_ARGUMENT"
	case httpStatus == 401:
		return "UNAUTHENTICATED"
	case httpStatus == 403:
		return "PERMISSION_DENIED"
	case httpStatus == 404:
		return "NOT_FOUND"
	case httpStatus == 429:
		return "RESOURCE_EXHAUSTED"
	case httpStatus >= 500:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}
