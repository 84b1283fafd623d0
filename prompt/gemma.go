package prompt

import (
	"fmt"
	"strings"

	"github.com/LlamaEdge/llama-api-server/api"
)

// gemmaInstruct renders the start_of_turn scheme. Gemma has no system
// role; a leading system message is folded into the first user turn.
type gemmaInstruct struct{}

func (gemmaInstruct) Build(messages api.Messages) (string, error) {
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
				text = system + "\n\n" + text
			}
			first = false
			fmt.Fprintf(&b, "<start_of_turn>user\n%s<end_of_turn>\n", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<start_of_turn>model\n%s<end_of_turn>\n", text)
		}
	}

	b.WriteString("<start_of_turn>model\n")
	return b.String(), nil
}

// gemma3 adds vision support: image parts become <start_of_image>
// placeholders, in order, with nothing between consecutive images.
// Audio parts are not supported by the model family.
type gemma3 struct{}

func (gemma3) Build(messages api.Messages) (string, error) {
	if len(messages) == 0 {
		return "", ErrNoMessages
	}

	system, rest := splitSystem(messages)

	var b strings.Builder
	first := true
	for _, msg := range rest {
		switch msg := msg.(type) {
		case api.UserMessage:
			text, err := gemma3UserContent(msg)
			if err != nil {
				return "", err
			}
			if first && system != "" {
				text = system + "\n\n" + text
			}
			first = false
			fmt.Fprintf(&b, "<start_of_turn>user\n%s<end_of_turn>\n", text)
		case api.AssistantMessage:
			text, err := assistantText(msg)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "<start_of_turn>model\n%s<end_of_turn>\n", text)
		}
	}

	b.WriteString("<start_of_turn>model\n")
	return b.String(), nil
}

func gemma3UserContent(u api.UserMessage) (string, error) {
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
			images.WriteString("<start_of_image>")
		default:
			return "", ErrUnsupportedContent
		}
	}

	return images.String() + strings.TrimSpace(strings.Join(texts, "\n")), nil
}
