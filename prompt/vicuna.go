package prompt

import (
	"fmt"
	"strings"

	"github.com/LlamaEdge/llama-api-server/api"
)

const vicunaDefaultSystem = "A chat between a curious user and an artificial intelligence assistant. The assistant gives helpful, detailed, and polite answers to the user's questions."

// vicunaChat renders the vicuna v1.0 space-separated scheme.
type vicunaChat struct{}

func (vicunaChat) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = vicunaDefaultSystem
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
			fmt.Fprintf(&b, " USER: %s", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, " ASSISTANT: %s</s>", text)
		}
	}

	b.WriteString(" ASSISTANT:")
	return b.String(), nil
}

// vicuna11Chat renders the v1.1 newline-separated scheme without a
// system preamble.
type vicuna11Chat struct{}

func (vicuna11Chat) Build(messages api.Messages) (string, error) {
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
			fmt.Fprintf(&b, "USER: %s\n", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "ASSISTANT: %s</s>\n", text)
		}
	}

	b.WriteString("ASSISTANT:")
	return b.String(), nil
}

// vicunaLlava renders the llava vision scheme: inline images become
// data-URI img elements, remote ones an <image> placeholder. Images
// precede the text, in order, with nothing between them.
type vicunaLlava struct{}

func (vicunaLlava) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)
	if system == "" {
		system = vicunaDefaultSystem
	}

	var b strings.Builder
	b.WriteString(system)
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := llavaUserContent(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\nUSER:%s", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "\nASSISTANT: %s</s>", text)
		}
	}

	b.WriteString("\nASSISTANT:")
	return b.String(), nil
}

func llavaUserContent(u api.UserMessage) (string, error) {
	if !u.Content.IsParts() {
		return " " + strings.TrimSpace(u.Content.Text), nil
	}

	var images strings.Builder
	var texts []string
	for _, part := range u.Content.Parts {
		switch p := part.(type) {
		case api.TextPart:
			texts = append(texts, p.Text)
		case api.ImagePart:
			embed, err := imageEmbed(p)
			if err != nil {
				return "", err
			}
			images.WriteString(embed)
		default:
			return "", ErrUnsupportedContent
		}
	}

	return images.String() + "\n" + strings.TrimSpace(strings.Join(texts, "\n")), nil
}
