package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LlamaEdge/llama-api-server/api"
)

const chatMLDefaultSystem = "You are a helpful assistant."

// chatML renders the <|im_start|>/<|im_end|> scheme shared by Qwen,
// Yi, Hermes and many other fine-tunes.
type chatML struct{}

func (chatML) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = chatMLDefaultSystem
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<|im_start|>system\n%s<|im_end|>", system)

	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n<|im_start|>user\n%s<|im_end|>", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n<|im_start|>assistant\n%s<|im_end|>", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "\n<|im_start|>user\n%s<|im_end|>", strings.TrimSpace(msg.Content))
		}
	}

	b.WriteString("\n<|im_start|>assistant\n")
	return b.String(), nil
}

// chatMLToolGuidance is the tool preface appended to the system block
// by the ChatML-family tool templates.
func chatMLToolGuidance(tools []api.Tool) string {
	var lines []string
	for _, t := range tools {
		b, err := json.Marshal(t)
		if err != nil {
			continue
		}
		lines = append(lines, string(b))
	}

	return "\n\n# Tools\n\nYou may call one or more functions to assist with the user query.\n\n" +
		"You are provided with function signatures within <tools></tools> XML tags:\n" +
		"<tools>\n" + strings.Join(lines, "\n") + "\n</tools>\n\n" +
		"For each function call, return a json object with function name and arguments within <tool_call></tool_call> XML tags:\n" +
		"<tool_call>\n{\"name\": <function-name>, \"arguments\": <args-json-object>}\n</tool_call>"
}

type chatMLTool struct{}

func (chatMLTool) Build(messages api.Messages) (string, error) {
	return chatML{}.Build(messages)
}

func (chatMLTool) BuildWithTools(messages api.Messages, tools []api.Tool) (string, error) {
	return buildChatMLTool(messages, tools, "")
}

// qwen3NoThink is the ChatML tool scheme with thinking disabled: an
// empty think block is pre-filled after the assistant opener.
type qwen3NoThink struct{}

func (qwen3NoThink) Build(messages api.Messages) (string, error) {
	return buildChatMLTool(messages, nil, "<think>\n\n</think>\n\n")
}

func (qwen3NoThink) BuildWithTools(messages api.Messages, tools []api.Tool) (string, error) {
	return buildChatMLTool(messages, tools, "<think>\n\n</think>\n\n")
}

func buildChatMLTool(messages api.Messages, tools []api.Tool, opener string) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = chatMLDefaultSystem
	}
	if len(tools) > 0 {
		system += chatMLToolGuidance(tools)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<|im_start|>system\n%s<|im_end|>", system)

	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n<|im_start|>user\n%s<|im_end|>", text)
		case api.AssistantMessage:
			if len(msg.ToolCalls) > 0 {
				call, err := assistantText(msg)
				if err != nil {
					return "", err
				}
				fmt.Fprintf(&b, "\n<|im_start|>assistant\n<tool_call>\n%s\n</tool_call><|im_end|>", call)
				continue
			}
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n<|im_start|>assistant\n%s<|im_end|>", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "\n<|im_start|>user\n<tool_response>\n%s\n</tool_response><|im_end|>", strings.TrimSpace(msg.Content))
		}
	}

	b.WriteString("\n<|im_start|>assistant\n")
	b.WriteString(opener)
	return b.String(), nil
}

// qwen2Vision is ChatML with Qwen2-VL vision pads. Image parts render
// in order with no separators between consecutive images.
type qwen2Vision struct{}

func (qwen2Vision) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = chatMLDefaultSystem
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<|im_start|>system\n%s<|im_end|>", system)

	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := qwen2UserContent(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n<|im_start|>user\n%s<|im_end|>", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n<|im_start|>assistant\n%s<|im_end|>", text)
		}
	}

	b.WriteString("\n<|im_start|>assistant\n")
	return b.String(), nil
}

func qwen2UserContent(u api.UserMessage) (string, error) {
	if !u.Content.IsParts() {
		return strings.TrimSpace(u.Content.Text), nil
	}

	var images strings.Builder
	var texts []string
	for _, part := range u.Content.Parts {
		switch p := part.(type) {
		case api.TextPart:
			texts = append(texts, p.Text)
		case api.ImagePart:
			images.WriteString("<|vision_start|><|image_pad|><|vision_end|>")
		default:
			return "", ErrUnsupportedContent
		}
	}

	return images.String() + strings.TrimSpace(strings.Join(texts, "\n")), nil
}

// internLM2Tool is ChatML with InternLM2's <|plugin|> system blocks.
type internLM2Tool struct{}

func (internLM2Tool) Build(messages api.Messages) (string, error) {
	return chatML{}.Build(messages)
}

func (internLM2Tool) BuildWithTools(messages api.Messages, tools []api.Tool) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = chatMLDefaultSystem
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<|im_start|>system\n%s<|im_end|>", system)
	if len(tools) > 0 {
		fmt.Fprintf(&b, "\n<|im_start|>system name=<|plugin|>\n%s<|im_end|>", toolsJSONCompact(tools))
	}

	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n<|im_start|>user\n%s<|im_end|>", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n<|im_start|>assistant\n%s<|im_end|>", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "\n<|im_start|>environment name=<|plugin|>\n%s<|im_end|>", strings.TrimSpace(msg.Content))
		}
	}

	b.WriteString("\n<|im_start|>assistant\n")
	return b.String(), nil
}
