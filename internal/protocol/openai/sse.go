package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kirogate/kirogate/internal/domain/chat"
	"github.com/kirogate/kirogate/internal/domain/service"
	"github.com/kirogate/kirogate/internal/infrastructure/upstream"
)

// StreamWriter emits OpenAI chat-completion chunks as SSE frames. The first
// content chunk carries the assistant role; tool calls and the finish chunk
// are written at Finish, then the [DONE] sentinel.
type StreamWriter struct {
	w       io.Writer
	flusher http.Flusher
	id      string
	model   string
	created int64
	started bool
}

// NewStreamWriter builds a stream writer over the response body.
func NewStreamWriter(w io.Writer, model string) *StreamWriter {
	sw := &StreamWriter{
		w:       w,
		id:      "chatcmpl-" + uuid.New().String(),
		model:   model,
		created: time.Now().Unix(),
	}
	sw.flusher, _ = w.(http.Flusher)
	return sw
}

// OnEvent forwards one parsed upstream event as a delta chunk.
func (s *StreamWriter) OnEvent(ev upstream.Event) error {
	if ev.Kind != upstream.EventContent {
		return nil
	}
	content := ev.Content
	delta := Delta{Content: &content}
	if !s.started {
		s.started = true
		delta.Role = chat.RoleAssistant
	}
	return s.writeFrame(s.chunk(delta, nil, nil))
}

// Finish writes the collected tool calls, the finish-reason chunk with usage,
// and the terminal [DONE] frame.
func (s *StreamWriter) Finish(result *service.Result, usage service.Usage) error {
	if len(result.ToolCalls) > 0 {
		delta := Delta{ToolCalls: toolCallsOut(result.ToolCalls, true)}
		if !s.started {
			s.started = true
			delta.Role = chat.RoleAssistant
		}
		if err := s.writeFrame(s.chunk(delta, nil, nil)); err != nil {
			return err
		}
	}

	finish := "stop"
	if len(result.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	u := usageOut(usage)
	if err := s.writeFrame(s.chunk(Delta{}, &finish, &u)); err != nil {
		return err
	}

	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

// WriteError emits a terminal error frame. No [DONE] follows an error.
func (s *StreamWriter) WriteError(err error) {
	body, marshalErr := json.Marshal(FormatError(err))
	if marshalErr != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", body)
	s.flush()
}

func (s *StreamWriter) chunk(delta Delta, finish *string, usage *Usage) ChatChunk {
	return ChatChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []ChunkChoice{{Delta: delta, FinishReason: finish}},
		Usage:   usage,
	}
}

func (s *StreamWriter) writeFrame(v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", body); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *StreamWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
