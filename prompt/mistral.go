package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LlamaEdge/llama-api-server/api"
)

// mistralInstruct renders the plain [INST] scheme. System prompts are
// folded into the first user turn.
type mistralInstruct struct{}

func (mistralInstruct) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)

	var b strings.Builder
	first := true
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			if first && system != "" {
				fmt.Fprintf(&b, "<s>[INST] %s\n\n%s [/INST]", system, text)
			} else {
				fmt.Fprintf(&b, "<s>[INST] %s [/INST]", text)
			}
			first = false
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "%s</s>", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "<s>[INST] %s [/INST]", strings.TrimSpace(msg.Content))
		}
	}

	return b.String(), nil
}

// mistralLite renders the prompter/assistant scheme used by the
// MistralLite fine-tune.
type mistralLite struct{}

func (mistralLite) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	_, rest := splitSystem(messages)

	var b strings.Builder
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|prompter|>%s</s>", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|assistant|>%s</s>", text)
		}
	}

	b.WriteString("<|assistant|>")
	return b.String(), nil
}

// mistralTool renders Mistral's v3 function calling scheme. The
// available-tools block is attached to the last user turn only.
type mistralTool struct{}

func (mistralTool) Build(messages api.Messages) (string, error) {
	return mistralTool{}.BuildWithTools(messages, nil)
}

func (mistralTool) BuildWithTools(messages api.Messages, tools []api.Tool) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	_, rest := splitSystem(messages)
	last := lastUserIndex(rest)

	var b strings.Builder
	b.WriteString("<s>")
	for i, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			if i == last && len(tools) > 0 {
				fmt.Fprintf(&b, "[AVAILABLE_TOOLS] %s [/AVAILABLE_TOOLS][INST] %s[/INST]", toolsJSONCompact(tools), text)
			} else {
				fmt.Fprintf(&b, "[INST] %s[/INST]", text)
			}
		case api.AssistantMessage:
			if len(msg.ToolCalls) > 0 {
				call, err := json.Marshal(msg.ToolCalls[0].Function)
				if err != nil {
					return "", err
				}
				fmt.Fprintf(&b, "[TOOL_CALLS] [%s]</s>", call)
				continue
			}
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			// The model is echoed only the first line of its previous
			// answer here; kept as-is from the original scheme.
			if idx := strings.Index(text, "\n"); idx >= 0 {
				text = text[:idx]
			}
			fmt.Fprintf(&b, " %s</s>", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "[TOOL_RESULTS]%s[/TOOL_RESULTS]", strings.TrimSpace(msg.Content))
		}
	}

	return b.String(), nil
}

// mistralSmallChat renders the Mistral Small scheme with its explicit
// [SYSTEM_PROMPT] block.
type mistralSmallChat struct{}

const mistralSmallDefaultSystem = "You are a helpful assistant."

func (mistralSmallChat) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = mistralSmallDefaultSystem
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<s>[SYSTEM_PROMPT]%s[/SYSTEM_PROMPT]", system)
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "[INST]%s[/INST]", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "%s</s>", text)
		}
	}

	return b.String(), nil
}

// mistralSmallTool adds the function calling contract on top of
// mistralSmallChat; the tools block precedes the last user turn.
type mistralSmallTool struct{}

func (mistralSmallTool) Build(messages api.Messages) (string, error) {
	return mistralSmallChat{}.Build(messages)
}

func (mistralSmallTool) BuildWithTools(messages api.Messages, tools []api.Tool) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}
	if len(tools) == 0 {
		return mistralSmallChat{}.Build(messages)
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = mistralSmallDefaultSystem
	}

	last := lastUserIndex(rest)

	var b strings.Builder
	fmt.Fprintf(&b, "<s>[SYSTEM_PROMPT]%s[/SYSTEM_PROMPT]", system)
	for i, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			if i == last {
				fmt.Fprintf(&b, "[AVAILABLE_TOOLS]%s[/AVAILABLE_TOOLS][INST]%s[/INST]", toolsJSONCompact(tools), text)
			} else {
				fmt.Fprintf(&b, "[INST]%s[/INST]", text)
			}
		case api.AssistantMessage:
			if len(msg.ToolCalls) > 0 {
				call, err := json.Marshal(msg.ToolCalls[0].Function)
				if err != nil {
					return "", err
				}
				fmt.Fprintf(&b, "[TOOL_CALLS][%s]</s>", call)
				continue
			}
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "%s</s>", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "[TOOL_RESULTS]%s[/TOOL_RESULTS]", strings.TrimSpace(msg.Content))
		}
	}

	return b.String(), nil
}
