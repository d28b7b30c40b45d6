package chat

import "strings"

// modelTable maps external model id prefixes to upstream internal ids.
// Longer prefixes are checked first so claude-sonnet-4-5 does not fall into
// the claude-sonnet-4 family.
var modelTable = []struct {
	prefix string
	exact  bool
	id     string
}{
	{prefix: "claude-3-7-sonnet-20250219", exact: true, id: "CLAUDE_3_7_SONNET_20250219_V1_0"},
	{prefix: "auto", exact: true, id: "claude-sonnet-4.5"},
	{prefix: "claude-opus-4-5", id: "claude-opus-4.5"},
	{prefix: "claude-sonnet-4-5", id: "CLAUDE_SONNET_4_5_20250929_V1_0"},
	{prefix: "claude-haiku-4-5", id: "claude-haiku-4.5"},
	{prefix: "claude-sonnet-4", id: "CLAUDE_SONNET_4_20250514_V1_0"},
}

// ResolveModelID maps an external model id to the upstream internal id.
// Unknown names pass through unchanged.
func ResolveModelID(external string) string {
	for _, entry := range modelTable {
		if entry.exact {
			if external == entry.prefix {
				return entry.id
			}
			continue
		}
		if strings.HasPrefix(external, entry.prefix) {
			return entry.id
		}
	}
	return external
}

// slowModels lists model families with materially higher time-to-first-token.
// Requests for these get the slow-model timeout multiplier.
var slowModels = []string{
	"claude-opus-4-5",
	"claude-opus-4-5-20251101",
	"claude-3-opus",
	"claude-3-opus-20240229",
}

// IsSlowModel reports whether the model name belongs to a slow family.
func IsSlowModel(model string) bool {
	for _, slow := range slowModels {
		if strings.Contains(model, slow) {
			return true
		}
	}
	return false
}

// ModelInfo is one catalog entry for the /v1/models listing.
type ModelInfo struct {
	ID      string
	OwnedBy string
}

// Catalog returns the fixed external model catalog.
func Catalog() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-opus-4-5", OwnedBy: "anthropic"},
		{ID: "claude-sonnet-4-5", OwnedBy: "anthropic"},
		{ID: "claude-sonnet-4", OwnedBy: "anthropic"},
		{ID: "claude-haiku-4-5", OwnedBy: "anthropic"},
		{ID: "claude-3-7-sonnet-20250219", OwnedBy: "anthropic"},
		{ID: "auto", OwnedBy: "kiro"},
	}
}
