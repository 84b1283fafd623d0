package generate

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/LlamaEdge/llama-api-server/api"
)

var (
	toolCallBlockRe = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)
	functionTagRe   = regexp.MustCompile(`(?s)<function=([^>]+)>(.*?)</function>`)
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// rawCall is the shape tool-capable models emit; some families say
// "arguments", others "parameters".
type rawCall struct {
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
}

func (c rawCall) toCall() (api.ToolCall, bool) {
	if c.Name == "" {
		return api.ToolCall{}, false
	}

	args := c.Arguments
	if args == nil {
		args = c.Parameters
	}

	text := string(args)
	// Arguments may arrive either as a JSON object or as a quoted
	// JSON string of an object.
	var quoted string
	if json.Unmarshal(args, &quoted) == nil {
		text = quoted
	}

	return api.ToolCall{
		ID:   "call_" + uuid.NewString(),
		Type: "function",
		Function: api.ToolCallFunc{
			Name:      c.Name,
			Arguments: text,
		},
	}, true
}

// parseToolCalls extracts function calls from generated text. It
// understands the delimiters the supported tool templates train their
// models to emit: bare JSON (single object or array), [TOOL_CALLS]
// prefixes, <tool_call> blocks, <function=name>args</function> tags,
// and json code fences.
func parseToolCalls(text string) ([]api.ToolCall, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	if m := functionTagRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		var calls []api.ToolCall
		for _, match := range m {
			calls = append(calls, api.ToolCall{
				ID:   "call_" + uuid.NewString(),
				Type: "function",
				Function: api.ToolCallFunc{
					Name:      strings.TrimSpace(match[1]),
					Arguments: strings.TrimSpace(match[2]),
				},
			})
		}
		return calls, true
	}

	if m := toolCallBlockRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		var calls []api.ToolCall
		for _, match := range m {
			if call, ok := parseRawJSON(match[1]); ok {
				calls = append(calls, call...)
			}
		}
		return calls, len(calls) > 0
	}

	text = strings.TrimPrefix(text, "[TOOL_CALLS]")
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	calls, ok := parseRawJSON(text)
	return calls, ok
}

func parseRawJSON(text string) ([]api.ToolCall, bool) {
	text = strings.TrimSpace(text)

	var one rawCall
	if err := json.Unmarshal([]byte(text), &one); err == nil {
		if call, ok := one.toCall(); ok {
			return []api.ToolCall{call}, true
		}
		return nil, false
	}

	var many []rawCall
	if err := json.Unmarshal([]byte(text), &many); err == nil {
		var calls []api.ToolCall
		for _, raw := range many {
			if call, ok := raw.toCall(); ok {
				calls = append(calls, call)
			}
		}
		return calls, len(calls) > 0
	}

	return nil, false
}
