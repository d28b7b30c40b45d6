package gemini

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirogate/kirogate/internal/domain/service"
	"github.com/kirogate/kirogate/internal/infrastructure/upstream"
)

// StreamWriter emits bare data-frame SSE chunks in the Gemini shape. There is
// no terminal sentinel; the final chunk carries finishReason and usage.
type StreamWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewStreamWriter builds a stream writer over the response body.
func NewStreamWriter(w io.Writer) *StreamWriter {
	sw := &StreamWriter{w: w}
	sw.flusher, _ = w.(http.Flusher)
	return sw
}

// OnEvent forwards one parsed upstream event as a candidate chunk.
func (s *StreamWriter) OnEvent(ev upstream.Event) error {
	if ev.Kind != upstream.EventContent {
		return nil
	}
	return s.writeFrame(&Response{
		Candidates: []Candidate{{
			Content: Content{Role: "model", Parts: []Part{{Text: ev.Content}}},
		}},
	})
}

// Finish writes function-call chunks and the terminal chunk with finishReason
// and usage metadata.
func (s *StreamWriter) Finish(result *service.Result, usage service.Usage) error {
	for _, call := range result.ToolCalls {
		if err := s.writeFrame(&Response{
			Candidates: []Candidate{{
				Content: Content{Role: "model", Parts: []Part{{
					FunctionCall: &FunctionCall{Name: call.Name, Args: parseArgs(call.Arguments)},
				}}},
			}},
		}); err != nil {
			return err
		}
	}
	return s.writeFrame(&Response{
		Candidates: []Candidate{{
			Content:      Content{Role: "model", Parts: []Part{}},
			FinishReason: "STOP",
		}},
		UsageMetadata: &UsageMetadata{
			PromptTokenCount:     usage.PromptTokens,
			CandidatesTokenCount: usage.CompletionTokens,
			TotalTokenCount:      usage.TotalTokens,
		},
	})
}

// WriteError emits a terminal error frame.
func (s *StreamWriter) WriteError(err error) {
	s.writeFrame(FormatError(err))
}

func (s *StreamWriter) writeFrame(v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", body); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
