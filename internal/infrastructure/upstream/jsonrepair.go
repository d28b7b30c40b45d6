package upstream

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// --- Tolerant JSON ---
// Model-produced JSON fragments arrive with trailing commas, unquoted keys,
// bare identifier values and half-written escapes. Repairs are applied
// progressively; the first candidate that parses wins.

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_\-]*)\s*:`)
	unquotedValueRe = regexp.MustCompile(`:\s*([A-Za-z_][A-Za-z0-9_\-]*)`)
)

// ParseObjectTolerant parses s into a JSON object, applying repairs when the
// raw text does not parse. Returns false only when no repair helps.
func ParseObjectTolerant(s string) (map[string]interface{}, bool) {
	for _, candidate := range repairCandidates(s) {
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &out); err == nil && out != nil {
			return out, true
		}
	}
	return nil, false
}

func repairCandidates(s string) []string {
	s = strings.TrimSpace(s)
	candidates := []string{s}

	repaired := trailingCommaRe.ReplaceAllString(s, "$1")
	candidates = append(candidates, repaired)

	repaired = unquotedKeyRe.ReplaceAllString(repaired, `$1"$2":`)
	repaired = unquotedValueRe.ReplaceAllStringFunc(repaired, func(m string) string {
		ident := strings.TrimSpace(strings.TrimPrefix(m, ":"))
		switch ident {
		case "true", "false", "null":
			return m
		}
		return `: "` + ident + `"`
	})
	candidates = append(candidates, repaired)

	repaired = truncateDanglingEscape(repaired)
	candidates = append(candidates, repaired)

	candidates = append(candidates, escapeControlChars(repaired))
	return candidates
}

// truncateDanglingEscape removes a lone trailing backslash or an incomplete
// \uXXXX escape at the tail of the text.
func truncateDanglingEscape(s string) string {
	// Count trailing backslashes; an odd run means the last one is dangling.
	n := 0
	for n < len(s) && s[len(s)-1-n] == '\\' {
		n++
	}
	if n%2 == 1 {
		return s[:len(s)-1]
	}

	if idx := strings.LastIndex(s, `\u`); idx >= 0 {
		hex := s[idx+2:]
		if len(hex) < 4 && isHexPrefix(hex) {
			return s[:idx]
		}
	}
	return s
}

func isHexPrefix(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// escapeControlChars replaces raw control characters inside string literals
// with their \uXXXX form. Control bytes outside strings are left alone; they
// are legal JSON whitespace or already broken beyond repair.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		switch {
		case inString && escaped:
			escaped = false
			b.WriteRune(r)
		case inString && r == '\\':
			escaped = true
			b.WriteRune(r)
		case inString && r == '"':
			inString = false
			b.WriteRune(r)
		case inString && r < 0x20:
			fmt.Fprintf(&b, `\u%04x`, r)
		case !inString && r == '"':
			inString = true
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
