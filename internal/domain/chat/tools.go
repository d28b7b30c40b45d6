package chat

import (
	"fmt"
	"strings"
)

// NormalizeTool projects any of the inbound tool shapes onto the canonical
// {name, description, inputSchema} form. Shapes are recognized by structure:
//
//   - {type:"function", function:{name, description, parameters}}  (OpenAI)
//   - {toolSpecification:{name, description, inputSchema:{json}}}  (upstream-native)
//   - {name, description, input_schema|schema}                     (Anthropic)
//   - {name, description, inputSchema}                              (canonical re-entry)
//   - {name, description, parameters}                              (Gemini declarations)
//   - {id, parameters, description?}
//   - {id, schema, description?}
//   - {name, description?}                                         (schema defaults empty)
//
// Search tools (web_search / websearch) are dropped; the upstream has no
// server-side search. The second return is false when the tool is rejected.
func NormalizeTool(raw map[string]interface{}) (Tool, bool) {
	var tool Tool

	switch {
	case getMap(raw, "function") != nil:
		fn := getMap(raw, "function")
		tool = Tool{
			Name:        getString(fn, "name"),
			Description: getString(fn, "description"),
			InputSchema: getMap(fn, "parameters"),
		}
	case getMap(raw, "toolSpecification") != nil:
		spec := getMap(raw, "toolSpecification")
		tool = Tool{
			Name:        getString(spec, "name"),
			Description: getString(spec, "description"),
		}
		if schema := getMap(spec, "inputSchema"); schema != nil {
			tool.InputSchema = getMap(schema, "json")
		}
	case getString(raw, "name") != "" && getMap(raw, "input_schema") != nil:
		tool = Tool{
			Name:        getString(raw, "name"),
			Description: getString(raw, "description"),
			InputSchema: getMap(raw, "input_schema"),
		}
	case getString(raw, "name") != "" && getMap(raw, "inputSchema") != nil:
		// Canonical output shape; accepting it keeps normalization idempotent.
		tool = Tool{
			Name:        getString(raw, "name"),
			Description: getString(raw, "description"),
			InputSchema: getMap(raw, "inputSchema"),
		}
	case getString(raw, "name") != "" && getMap(raw, "schema") != nil:
		tool = Tool{
			Name:        getString(raw, "name"),
			Description: getString(raw, "description"),
			InputSchema: getMap(raw, "schema"),
		}
	case getString(raw, "name") != "" && getMap(raw, "parameters") != nil:
		tool = Tool{
			Name:        getString(raw, "name"),
			Description: getString(raw, "description"),
			InputSchema: getMap(raw, "parameters"),
		}
	case getString(raw, "id") != "" && getMap(raw, "parameters") != nil:
		tool = Tool{
			Name:        getString(raw, "id"),
			Description: getString(raw, "description"),
			InputSchema: getMap(raw, "parameters"),
		}
	case getString(raw, "id") != "" && getMap(raw, "schema") != nil:
		tool = Tool{
			Name:        getString(raw, "id"),
			Description: getString(raw, "description"),
			InputSchema: getMap(raw, "schema"),
		}
	case getString(raw, "name") != "":
		tool = Tool{
			Name:        getString(raw, "name"),
			Description: getString(raw, "description"),
		}
	default:
		return Tool{}, false
	}

	if tool.Name == "" {
		return Tool{}, false
	}
	switch strings.ToLower(tool.Name) {
	case "web_search", "websearch":
		return Tool{}, false
	}

	tool.InputSchema = EnsureSchema(tool.InputSchema)
	return tool, true
}

// NormalizeTools normalizes a batch, silently dropping unrecognized entries.
func NormalizeTools(raws []map[string]interface{}) []Tool {
	var tools []Tool
	for _, raw := range raws {
		if tool, ok := NormalizeTool(raw); ok {
			tools = append(tools, tool)
		}
	}
	return tools
}

// EnsureSchema guarantees a usable JSON-schema object: nil becomes an empty
// object schema, a missing "type" defaults to "object".
func EnsureSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}
	result := make(map[string]interface{}, len(schema)+1)
	for k, v := range schema {
		result[k] = v
	}
	if _, ok := result["type"]; !ok {
		result["type"] = "object"
	}
	return result
}

// ExtractLongDescriptions moves oversized tool descriptions into a system
// prompt appendix. A tool whose description exceeds limit keeps only a
// cross-reference marker; the full text lands under "## Tool: <name>" in the
// returned appendix. limit <= 0 disables extraction. The appendix is empty
// when nothing was extracted, otherwise it starts with the documentation
// header and is meant to be appended to the system prompt verbatim.
func ExtractLongDescriptions(tools []Tool, limit int) ([]Tool, string) {
	if limit <= 0 {
		return tools, ""
	}

	var sections []string
	out := make([]Tool, len(tools))
	for i, tool := range tools {
		out[i] = tool
		if len(tool.Description) <= limit {
			continue
		}
		sections = append(sections, fmt.Sprintf("## Tool: %s\n%s", tool.Name, tool.Description))
		out[i].Description = fmt.Sprintf("See '## Tool: %s' in the Tool Documentation section of the system prompt.", tool.Name)
	}

	if len(sections) == 0 {
		return out, ""
	}
	return out, "---\n# Tool Documentation\n" + strings.Join(sections, "\n\n")
}

func getString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]interface{})
	return v
}
