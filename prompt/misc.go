package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LlamaEdge/llama-api-server/api"
)

// gptOss renders the harmony channel scheme.
type gptOss struct{}

func (gptOss) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = "You are a helpful assistant."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<|start|>system<|message|>%s<|end|>", system)
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|start|>user<|message|>%s<|end|>", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|start|>assistant<|channel|>final<|message|>%s<|end|>", text)
		}
	}

	b.WriteString("<|start|>assistant")
	return b.String(), nil
}

type openChat struct{}

func (openChat) Build(messages api.Messages) (string, error) {
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
			fmt.Fprintf(&b, "GPT4 User: %s<|end_of_turn|>", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "GPT4 Assistant: %s<|end_of_turn|>", text)
		}
	}

	b.WriteString("GPT4 Assistant:")
	return b.String(), nil
}

type zephyr struct{}

const zephyrDefaultSystem = "You are a friendly chatbot."

func (zephyr) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = zephyrDefaultSystem
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<|system|>\n%s</s>", system)
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n<|user|>\n%s</s>", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n<|assistant|>\n%s</s>", text)
		}
	}

	b.WriteString("\n<|assistant|>")
	return b.String(), nil
}

type stableLMZephyr struct{}

func (stableLMZephyr) Build(messages api.Messages) (string, error) {
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
			fmt.Fprintf(&b, "<|user|>\n%s<|endoftext|>\n", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|assistant|>\n%s<|endoftext|>\n", text)
		}
	}

	b.WriteString("<|assistant|>")
	return b.String(), nil
}

type deepSeekChat struct{}

func (deepSeekChat) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)

	var b strings.Builder
	b.WriteString("<｜begin▁of▁sentence｜>")
	if system != "" {
		fmt.Fprintf(&b, "%s\n\n", system)
	}
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "User: %s\n\n", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "Assistant: %s<｜end▁of▁sentence｜>", text)
		}
	}

	b.WriteString("Assistant:")
	return b.String(), nil
}

type deepSeekChat3 struct{}

func (deepSeekChat3) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)

	var b strings.Builder
	b.WriteString("<｜begin▁of▁sentence｜>")
	if system != "" {
		b.WriteString(system)
	}
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<｜User｜>%s", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<｜Assistant｜>%s<｜end▁of▁sentence｜>", text)
		}
	}

	b.WriteString("<｜Assistant｜>")
	return b.String(), nil
}

type deepSeekCoder struct{}

const deepSeekCoderDefaultSystem = "You are an AI programming assistant, utilizing the DeepSeek Coder model, developed by DeepSeek Company, and you only answer questions related to computer science."

func (deepSeekCoder) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = deepSeekCoderDefaultSystem
	}

	var b strings.Builder
	b.WriteString(system)
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n### Instruction:\n%s", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n### Response:\n%s\n<|EOT|>", text)
		}
	}

	b.WriteString("\n### Response:\n")
	return b.String(), nil
}

type solarInstruct struct{}

func (solarInstruct) Build(messages api.Messages) (string, error) {
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
			fmt.Fprintf(&b, "### User:\n%s\n\n", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "### Assistant:\n%s</s>\n\n", text)
		}
	}

	b.WriteString("### Assistant:\n")
	return b.String(), nil
}

type intelNeural struct{}

func (intelNeural) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)

	var b strings.Builder
	if system != "" {
		fmt.Fprintf(&b, "### System:\n%s\n", system)
	}
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "### User:\n%s\n", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "### Assistant:\n%s\n", text)
		}
	}

	b.WriteString("### Assistant:\n")
	return b.String(), nil
}

type humanAssistant struct{}

func (humanAssistant) Build(messages api.Messages) (string, error) {
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
			fmt.Fprintf(&b, "Human: %s\n", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "Assistant: %s\n", text)
		}
	}

	b.WriteString("Assistant:")
	return b.String(), nil
}

type wizardCoder struct{}

const wizardCoderDefaultSystem = "Below is an instruction that describes a task. Write a response that appropriately completes the request."

func (wizardCoder) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = wizardCoderDefaultSystem
	}

	// Single-turn scheme: only the last user message is rendered.
	idx := lastUserIndex(rest)
	if idx < 0 {
		return "", ErrNoUserMessage
	}

	text, err := userText(rest[idx].(api.UserMessage))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s\n\n### Instruction:\n%s\n\n### Response:", system, text), nil
}

type glm4Chat struct{}

func (glm4Chat) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)

	var b strings.Builder
	b.WriteString("[gMASK]<sop>")
	if system != "" {
		fmt.Fprintf(&b, "<|system|>\n%s", system)
	}
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|user|>\n%s", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|assistant|>\n%s", text)
		}
	}

	b.WriteString("<|assistant|>")
	return b.String(), nil
}

type octopus struct{}

const octopusDefaultSystem = "Below is the query from the users, please choose the correct function and generate the parameters to call the function."

func (octopus) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = octopusDefaultSystem
	}

	var b strings.Builder
	b.WriteString(system)
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			// the trailing space before the newlines is expected by
			// the fine-tune; do not normalize
			fmt.Fprintf(&b, "\n\nQuery: %s \n\nResponse:", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, " %s", text)
		}
	}

	return b.String(), nil
}

type nemotronChat struct{}

func (nemotronChat) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)

	var b strings.Builder
	fmt.Fprintf(&b, "<extra_id_0>System\n%s\n\n", system)
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<extra_id_1>User\n%s\n", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<extra_id_1>Assistant\n%s\n", text)
		}
	}

	b.WriteString("<extra_id_1>Assistant\n")
	return b.String(), nil
}

type nemotronTool struct{}

func (nemotronTool) Build(messages api.Messages) (string, error) {
	return nemotronChat{}.Build(messages)
}

func (nemotronTool) BuildWithTools(messages api.Messages, tools []api.Tool) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)

	var sys strings.Builder
	sys.WriteString(system)
	for _, t := range tools {
		spec, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sys, "\n<tool> %s </tool>", spec)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<extra_id_0>System\n%s\n\n", strings.TrimSpace(sys.String()))
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<extra_id_1>User\n%s\n", text)
		case api.AssistantMessage:
			if len(msg.ToolCalls) > 0 {
				call, err := assistantText(msg)
				if err != nil {
					return "", err
				}
				fmt.Fprintf(&b, "<extra_id_1>Assistant\n<toolcall> %s </toolcall>\n", call)
				continue
			}
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<extra_id_1>Assistant\n%s\n", text)
		case api.ToolMessage:
			fmt.Fprintf(&b, "<extra_id_1>Tool\n%s\n", strings.TrimSpace(msg.Content))
		}
	}

	b.WriteString("<extra_id_1>Assistant\n")
	return b.String(), nil
}
