package prompt

import (
	"encoding/json"
	"strings"

	"github.com/LlamaEdge/llama-api-server/api"
)

// splitSystem peels a leading system message off the history. Only the
// first message is considered; later system messages are rendered as
// ordinary turns by templates that support them.
func splitSystem(messages api.Messages) (string, api.Messages) {
	if len(messages) == 0 {
		return "", messages
	}

	if sys, ok := messages[0].(api.SystemMessage); ok {
		return strings.TrimSpace(sys.Content), messages[1:]
	}
	return "", messages
}

// userText flattens a user message to plain text, joining text parts
// with newlines. Non-text parts are rejected; vision templates render
// parts themselves.
func userText(u api.UserMessage) (string, error) {
	if !u.Content.IsParts() {
		return strings.TrimSpace(u.Content.Text), nil
	}

	var texts []string
	for _, part := range u.Content.Parts {
		p, ok := part.(api.TextPart)
		if !ok {
			return "", ErrUnsupportedContent
		}
		texts = append(texts, p.Text)
	}
	return strings.TrimSpace(strings.Join(texts, "\n")), nil
}

// assistantText returns the assistant turn's text. A non-empty tool
// call list wins over content; the first call's function is emitted as
// compact JSON.
func assistantText(a api.AssistantMessage) (string, error) {
	if len(a.ToolCalls) > 0 {
		b, err := json.Marshal(a.ToolCalls[0].Function)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	if a.Content == "" {
		return "", ErrNoAssistantMessage
	}
	return strings.TrimSpace(a.Content), nil
}

// toolsJSON serializes the available tools as pretty-printed JSON for
// splicing into tool-aware system prompts.
func toolsJSON(tools []api.Tool) string {
	b, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

// toolsJSONCompact serializes the available tools on a single line.
func toolsJSONCompact(tools []api.Tool) string {
	b, err := json.Marshal(tools)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// lastUserIndex returns the index of the last user message, or -1.
func lastUserIndex(messages api.Messages) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if _, ok := messages[i].(api.UserMessage); ok {
			return i
		}
	}
	return -1
}
