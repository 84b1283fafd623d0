package prompt

import (
	"fmt"
	"strings"

	"github.com/LlamaEdge/llama-api-server/api"
)

// phi2Instruct renders the bare Instruct/Output scheme.
type phi2Instruct struct{}

func (phi2Instruct) Build(messages api.Messages) (string, error) {
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
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "Instruct: %s", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\nOutput: %s", text)
		}
	}

	b.WriteString("\nOutput:")
	return b.String(), nil
}

// phi3Chat renders the <|user|>/<|assistant|> scheme of Phi-3.
type phi3Chat struct{}

func (phi3Chat) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)

	var b strings.Builder
	if system != "" {
		fmt.Fprintf(&b, "<|system|>\n%s<|end|>", system)
	}

	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "<|user|>\n%s<|end|>", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\n<|assistant|>\n%s<|end|>", text)
		}
	}

	b.WriteString("\n<|assistant|>")
	return b.String(), nil
}

// phi4Chat renders Phi-4's im_sep variant of ChatML.
type phi4Chat struct{}

func (phi4Chat) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = chatMLDefaultSystem
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<|im_start|>system<|im_sep|>%s<|im_end|>", system)

	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := userText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|im_start|>user<|im_sep|>%s<|im_end|>", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<|im_start|>assistant<|im_sep|>%s<|im_end|>", text)
		}
	}

	b.WriteString("<|im_start|>assistant<|im_sep|>")
	return b.String(), nil
}
