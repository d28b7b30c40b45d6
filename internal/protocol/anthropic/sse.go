package anthropic

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/domain/service"
	"github.com/kirogate/kirogate/internal/infrastructure/upstream"
)

// StreamWriter emits Anthropic named-event SSE frames. message_start is
// deferred until the first event so a retried first attempt never leaks
// frames; the tool_use blocks and closing frames are written at Finish.
type StreamWriter struct {
	w           io.Writer
	flusher     http.Flusher
	id          string
	model       string
	inputTokens int

	msgStarted  bool
	textStarted bool
	blockIndex  int
}

// NewStreamWriter builds a stream writer. inputTokens is the pre-computed
// prompt estimate reported in message_start.
func NewStreamWriter(w io.Writer, model string, inputTokens int) *StreamWriter {
	sw := &StreamWriter{
		w:           w,
		id:          messageID(),
		model:       model,
		inputTokens: inputTokens,
	}
	sw.flusher, _ = w.(http.Flusher)
	return sw
}

// OnEvent forwards one parsed upstream event.
func (s *StreamWriter) OnEvent(ev upstream.Event) error {
	if ev.Kind != upstream.EventContent {
		return nil
	}
	if err := s.ensureMessageStart(); err != nil {
		return err
	}
	if !s.textStarted {
		s.textStarted = true
		if err := s.writeFrame("content_block_start", map[string]interface{}{
			"type":          "content_block_start",
			"index":         s.blockIndex,
			"content_block": map[string]interface{}{"type": "text", "text": ""},
		}); err != nil {
			return err
		}
	}
	return s.writeFrame("content_block_delta", map[string]interface{}{
		"type":  "content_block_delta",
		"index": s.blockIndex,
		"delta": map[string]interface{}{"type": "text_delta", "text": ev.Content},
	})
}

// Finish closes the text block, writes tool_use blocks, and terminates the
// message.
func (s *StreamWriter) Finish(result *service.Result, usage service.Usage) error {
	if err := s.ensureMessageStart(); err != nil {
		return err
	}
	if s.textStarted {
		if err := s.writeFrame("content_block_stop", map[string]interface{}{
			"type":  "content_block_stop",
			"index": s.blockIndex,
		}); err != nil {
			return err
		}
		s.blockIndex++
	}

	for _, call := range result.ToolCalls {
		if err := s.writeToolBlock(call); err != nil {
			return err
		}
	}

	stopReason := "end_turn"
	if len(result.ToolCalls) > 0 {
		stopReason = "tool_use"
	}
	if err := s.writeFrame("message_delta", map[string]interface{}{
		"type": "message_delta",
		"delta": map[string]interface{}{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": map[string]interface{}{"output_tokens": usage.CompletionTokens},
	}); err != nil {
		return err
	}
	return s.writeFrame("message_stop", map[string]interface{}{"type": "message_stop"})
}

func (s *StreamWriter) writeToolBlock(call chat.ToolCall) error {
	if err := s.writeFrame("content_block_start", map[string]interface{}{
		"type":  "content_block_start",
		"index": s.blockIndex,
		"content_block": map[string]interface{}{
			"type":  "tool_use",
			"id":    call.ID,
			"name":  call.Name,
			"input": map[string]interface{}{},
		},
	}); err != nil {
		return err
	}
	if call.Arguments != "" && call.Arguments != "{}" {
		if err := s.writeFrame("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": s.blockIndex,
			"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": call.Arguments},
		}); err != nil {
			return err
		}
	}
	if err := s.writeFrame("content_block_stop", map[string]interface{}{
		"type":  "content_block_stop",
		"index": s.blockIndex,
	}); err != nil {
		return err
	}
	s.blockIndex++
	return nil
}

// WriteError emits a terminal error event.
func (s *StreamWriter) WriteError(err error) {
	s.writeFrame("error", FormatError(err))
}

func (s *StreamWriter) ensureMessageStart() error {
	if s.msgStarted {
		return nil
	}
	s.msgStarted = true
	return s.writeFrame("message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":            s.id,
			"type":          "message",
			"role":          chat.RoleAssistant,
			"model":         s.model,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]interface{}{
				"input_tokens":  s.inputTokens,
				"output_tokens": 0,
			},
		},
	})
}

func (s *StreamWriter) writeFrame(event string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, body); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
