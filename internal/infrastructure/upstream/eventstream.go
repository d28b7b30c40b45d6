package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/domain/chat"
)

// --- Event stream parser ---
// The upstream body is concatenated JSON event objects interleaved with
// binary framing bytes. Rather than decoding the framing, the parser hunts
// for the known object prefixes and brace-matches each one out of the buffer.

// EventKind tags a parsed event.
type EventKind int

const (
	EventContent EventKind = iota
	EventToolStart
	EventToolInput
	EventToolStop
	EventUsage
	EventContextUsage
)

// Event is one typed object extracted from the upstream stream.
type Event struct {
	Kind           EventKind
	Content        string
	ToolID         string
	ToolName       string
	Usage          float64
	ContextPercent float64
}

var eventPrefixes = [][]byte{
	[]byte(`{"content":`),
	[]byte(`{"name":`),
	[]byte(`{"input":`),
	[]byte(`{"stop":`),
	[]byte(`{"followupPrompt":`),
	[]byte(`{"usage":`),
	[]byte(`{"contextUsagePercentage":`),
}

// maxPrefixLen is the longest recognized prefix; unmatched buffer tails
// shorter than this may still complete into a match on the next feed.
const maxPrefixLen = len(`{"contextUsagePercentage":`)

// Parser incrementally extracts events from the upstream byte stream. One
// parser per request; not safe for concurrent use.
type Parser struct {
	buf     []byte
	pending *pendingTool
	calls   []chat.ToolCall
	text    strings.Builder
	logger  *zap.Logger
}

type pendingTool struct {
	id   string
	name string
	args string
}

// NewParser builds a stream parser.
func NewParser(log *zap.Logger) *Parser {
	return &Parser{logger: log.With(zap.String("component", "event-parser"))}
}

// Feed appends a chunk and returns every complete event it unlocked.
// Incomplete trailing JSON stays buffered for the next feed.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf = append(p.buf, chunk...)

	var events []Event
	for {
		start, ok := p.nextMatch()
		if !ok {
			// Nothing recognizable; keep only a tail that could still grow
			// into a prefix.
			if len(p.buf) > maxPrefixLen {
				p.buf = append([]byte(nil), p.buf[len(p.buf)-maxPrefixLen:]...)
			}
			return events
		}
		length, complete := matchBrace(p.buf[start:])
		if !complete {
			p.buf = append([]byte(nil), p.buf[start:]...)
			return events
		}
		obj := string(p.buf[start : start+length])
		p.buf = append([]byte(nil), p.buf[start+length:]...)
		events = append(events, p.handleObject(obj)...)
	}
}

func (p *Parser) nextMatch() (int, bool) {
	best := -1
	for _, prefix := range eventPrefixes {
		if idx := bytes.Index(p.buf, prefix); idx >= 0 && (best < 0 || idx < best) {
			best = idx
		}
	}
	return best, best >= 0
}

// matchBrace returns the length of the JSON object starting at b[0] == '{'.
// The depth counter ignores braces inside string literals and honors escapes.
func matchBrace(b []byte) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case inString && c == '"':
			inString = false
		case inString:
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func (p *Parser) handleObject(raw string) []Event {
	if !gjson.Valid(raw) {
		obj, ok := ParseObjectTolerant(raw)
		if !ok {
			p.logger.Debug("Discarding unparseable event object",
				zap.Int("bytes", len(raw)))
			return nil
		}
		fixed, err := json.Marshal(obj)
		if err != nil {
			return nil
		}
		raw = string(fixed)
	}

	switch {
	case gjson.Get(raw, "followupPrompt").Exists():
		return nil

	case gjson.Get(raw, "name").Exists():
		p.finalizePending()
		p.pending = &pendingTool{
			id:   gjson.Get(raw, "toolUseId").String(),
			name: gjson.Get(raw, "name").String(),
		}
		p.attachInput(gjson.Get(raw, "input"))
		events := []Event{{Kind: EventToolStart, ToolID: p.pending.id, ToolName: p.pending.name}}
		if gjson.Get(raw, "stop").Bool() {
			p.finalizePending()
			events = append(events, Event{Kind: EventToolStop})
		}
		return events

	case gjson.Get(raw, "input").Exists():
		p.attachInput(gjson.Get(raw, "input"))
		return []Event{{Kind: EventToolInput}}

	case gjson.Get(raw, "stop").Exists():
		p.finalizePending()
		return []Event{{Kind: EventToolStop}}

	case gjson.Get(raw, "content").Exists():
		content := gjson.Get(raw, "content").String()
		p.text.WriteString(content)
		return []Event{{Kind: EventContent, Content: content}}

	case gjson.Get(raw, "usage").Exists():
		return []Event{{Kind: EventUsage, Usage: gjson.Get(raw, "usage").Float()}}

	case gjson.Get(raw, "contextUsagePercentage").Exists():
		return []Event{{Kind: EventContextUsage, ContextPercent: gjson.Get(raw, "contextUsagePercentage").Float()}}
	}
	return nil
}

// attachInput accumulates a tool_input payload: string fragments concatenate,
// object payloads deep-merge into the parsed accumulation.
func (p *Parser) attachInput(input gjson.Result) {
	if p.pending == nil || !input.Exists() {
		return
	}
	if input.IsObject() {
		merged, _ := ParseObjectTolerant(orEmptyObject(p.pending.args))
		if merged == nil {
			merged = map[string]interface{}{}
		}
		src, _ := input.Value().(map[string]interface{})
		deepMerge(merged, src)
		if encoded, err := json.Marshal(merged); err == nil {
			p.pending.args = string(encoded)
		}
		return
	}
	if input.Type == gjson.String {
		p.pending.args += input.String()
	}
}

func orEmptyObject(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	return s
}

func deepMerge(dst, src map[string]interface{}) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]interface{}); ok {
			if dstMap, ok := dst[k].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}

// finalizePending closes the open tool call. Arguments that survive a
// tolerant parse are re-serialized compact; anything else collapses to "{}".
func (p *Parser) finalizePending() {
	if p.pending == nil {
		return
	}
	pending := p.pending
	p.pending = nil

	final := "{}"
	if trimmed := strings.TrimSpace(pending.args); trimmed != "" {
		if obj, ok := ParseObjectTolerant(trimmed); ok {
			if encoded, err := json.Marshal(obj); err == nil {
				final = string(encoded)
			}
		} else {
			p.logger.Debug("Tool arguments unparseable after repairs",
				zap.String("tool", pending.name))
		}
	}

	id := pending.id
	if id == "" {
		id = fmt.Sprintf("call_%d", len(p.calls))
	}
	p.calls = append(p.calls, chat.ToolCall{ID: id, Name: pending.name, Arguments: final})
}

// Finalize closes any open tool call, recovers bracket-form calls from the
// accumulated assistant text, and returns the deduplicated tool-call list.
func (p *Parser) Finalize() []chat.ToolCall {
	p.finalizePending()
	calls := append(p.calls, recoverBracketCalls(p.text.String(), len(p.calls))...)
	return dedupeToolCalls(calls)
}

// Text returns all assistant text seen so far, concatenated.
func (p *Parser) Text() string { return p.text.String() }

const (
	bracketCallPrefix = "[Called "
	bracketArgsMarker = " with args:"
	// The argument object must begin within this many characters after the
	// marker colon; matches further out are treated as prose, not calls.
	bracketJSONLookahead = 10
)

// recoverBracketCalls scans assistant text for the degraded
// "[Called <name> with args: {...}]" form some responses fall back to.
func recoverBracketCalls(text string, nextIndex int) []chat.ToolCall {
	var calls []chat.ToolCall
	offset := 0
	for {
		start := strings.Index(text[offset:], bracketCallPrefix)
		if start < 0 {
			return calls
		}
		start += offset
		rest := text[start+len(bracketCallPrefix):]

		markerIdx := strings.Index(rest, bracketArgsMarker)
		if markerIdx < 0 {
			offset = start + len(bracketCallPrefix)
			continue
		}
		name := strings.TrimSpace(rest[:markerIdx])
		after := rest[markerIdx+len(bracketArgsMarker):]

		jsonStart := strings.IndexByte(after, '{')
		if jsonStart < 0 || jsonStart > bracketJSONLookahead {
			offset = start + len(bracketCallPrefix)
			continue
		}
		length, complete := matchBrace([]byte(after[jsonStart:]))
		if !complete || jsonStart+length >= len(after) || after[jsonStart+length] != ']' {
			offset = start + len(bracketCallPrefix)
			continue
		}

		args := "{}"
		if obj, ok := ParseObjectTolerant(after[jsonStart : jsonStart+length]); ok {
			if encoded, err := json.Marshal(obj); err == nil {
				args = string(encoded)
			}
		}
		if name != "" {
			calls = append(calls, chat.ToolCall{
				ID:        fmt.Sprintf("call_%d", nextIndex+len(calls)),
				Name:      name,
				Arguments: args,
			})
		}
		offset = start + len(bracketCallPrefix) + markerIdx + len(bracketArgsMarker) + jsonStart + length
	}
}

// dedupeToolCalls keeps, per id, the call with the longer arguments string,
// then drops exact (name, arguments) duplicates across distinct ids.
func dedupeToolCalls(calls []chat.ToolCall) []chat.ToolCall {
	if len(calls) == 0 {
		return nil
	}

	byID := make(map[string]int, len(calls))
	var unique []chat.ToolCall
	for _, call := range calls {
		if idx, ok := byID[call.ID]; ok {
			if len(call.Arguments) > len(unique[idx].Arguments) {
				unique[idx] = call
			}
			continue
		}
		byID[call.ID] = len(unique)
		unique = append(unique, call)
	}

	seen := make(map[string]bool, len(unique))
	out := unique[:0]
	for _, call := range unique {
		key := call.Name + "\x00" + call.Arguments
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, call)
	}
	return out
}
