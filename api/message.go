package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message is one element of a chat history. Concrete types are
// SystemMessage, UserMessage, AssistantMessage and ToolMessage. On the
// wire every variant shares the same shape with a "role" discriminator.
type Message interface {
	Role() string
}

type SystemMessage struct {
	Content string
	Name    string
}

func (SystemMessage) Role() string { return "system" }

type UserMessage struct {
	Content Content
	Name    string
}

func (UserMessage) Role() string { return "user" }

// AssistantMessage carries either text content or tool calls. When
// ToolCalls is non-empty the content is treated as empty.
type AssistantMessage struct {
	Content   string
	Name      string
	ToolCalls []ToolCall
}

func (AssistantMessage) Role() string { return "assistant" }

type ToolMessage struct {
	Content    string
	ToolCallID string
}

func (ToolMessage) Role() string { return "tool" }

// Content is either a plain string or an ordered list of parts. It
// serializes untagged: a JSON string decodes to Text, a JSON array to
// Parts.
type Content struct {
	Text  string
	Parts []ContentPart
}

func (c Content) IsParts() bool { return c.Parts != nil }

func (c *Content) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		c.Text = s
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.New("invalid content: expected string or array of parts")
	}

	c.Parts = make([]ContentPart, 0, len(raw))
	for _, r := range raw {
		p, err := unmarshalPart(r)
		if err != nil {
			return err
		}
		c.Parts = append(c.Parts, p)
	}

	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		parts := make([]json.RawMessage, 0, len(c.Parts))
		for _, p := range c.Parts {
			b, err := marshalPart(p)
			if err != nil {
				return nil, err
			}
			parts = append(parts, b)
		}
		return json.Marshal(parts)
	}

	return json.Marshal(c.Text)
}

// ContentPart is one element of a multi-part user message. Concrete
// types are TextPart, ImagePart and AudioPart, discriminated by a
// "type" field on the wire.
type ContentPart interface {
	partType() string
}

type TextPart struct {
	Text string
}

func (TextPart) partType() string { return "text" }

type ImagePart struct {
	// URL is either a remote URL or a data URI with base64 payload.
	URL    string
	Detail string
}

func (ImagePart) partType() string { return "image_url" }

type AudioPart struct {
	// Data is a base64 encoded audio payload.
	Data   string
	Format string
}

func (AudioPart) partType() string { return "input_audio" }

func unmarshalPart(b []byte) (ContentPart, error) {
	var probe struct {
		Type string `json:"type"`
		Text string `json:"text"`

		ImageURL json.RawMessage `json:"image_url"`

		InputAudio struct {
			Data   string `json:"data"`
			Format string `json:"format"`
		} `json:"input_audio"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, err
	}

	switch probe.Type {
	case "text":
		return TextPart{Text: probe.Text}, nil
	case "image_url":
		// accept both {"url": "..."} and a bare string
		var obj struct {
			URL    string `json:"url"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(probe.ImageURL, &obj); err == nil && obj.URL != "" {
			return ImagePart{URL: obj.URL, Detail: obj.Detail}, nil
		}
		var s string
		if err := json.Unmarshal(probe.ImageURL, &s); err == nil {
			return ImagePart{URL: s}, nil
		}
		return nil, errors.New("invalid image_url part")
	case "input_audio":
		return AudioPart{Data: probe.InputAudio.Data, Format: probe.InputAudio.Format}, nil
	default:
		return nil, fmt.Errorf("unknown content part type %q", probe.Type)
	}
}

func marshalPart(p ContentPart) ([]byte, error) {
	switch p := p.(type) {
	case TextPart:
		return json.Marshal(map[string]any{"type": "text", "text": p.Text})
	case ImagePart:
		img := map[string]any{"url": p.URL}
		if p.Detail != "" {
			img["detail"] = p.Detail
		}
		return json.Marshal(map[string]any{"type": "image_url", "image_url": img})
	case AudioPart:
		return json.Marshal(map[string]any{"type": "input_audio", "input_audio": map[string]any{"data": p.Data, "format": p.Format}})
	default:
		return nil, fmt.Errorf("unknown content part type %T", p)
	}
}

// Messages decodes a heterogeneous message list, dispatching on the
// role discriminator.
type Messages []Message

func (m *Messages) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var probe struct {
			Role string `json:"role"`
		}
		if err := json.Unmarshal(r, &probe); err != nil {
			return err
		}

		switch probe.Role {
		case "system":
			var v struct {
				Content string `json:"content"`
				Name    string `json:"name,omitempty"`
			}
			if err := json.Unmarshal(r, &v); err != nil {
				return err
			}
			out = append(out, SystemMessage{Content: v.Content, Name: v.Name})
		case "user":
			var v struct {
				Content Content `json:"content"`
				Name    string  `json:"name,omitempty"`
			}
			if err := json.Unmarshal(r, &v); err != nil {
				return err
			}
			out = append(out, UserMessage{Content: v.Content, Name: v.Name})
		case "assistant":
			var v struct {
				Content   string     `json:"content"`
				Name      string     `json:"name,omitempty"`
				ToolCalls []ToolCall `json:"tool_calls,omitempty"`
			}
			if err := json.Unmarshal(r, &v); err != nil {
				return err
			}
			out = append(out, AssistantMessage{Content: v.Content, Name: v.Name, ToolCalls: v.ToolCalls})
		case "tool":
			var v struct {
				Content    string `json:"content"`
				ToolCallID string `json:"tool_call_id"`
			}
			if err := json.Unmarshal(r, &v); err != nil {
				return err
			}
			out = append(out, ToolMessage{Content: v.Content, ToolCallID: v.ToolCallID})
		default:
			return fmt.Errorf("unknown message role %q", probe.Role)
		}
	}

	*m = out
	return nil
}

func (m Messages) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(m))
	for _, msg := range m {
		var v any
		switch msg := msg.(type) {
		case SystemMessage:
			v = struct {
				Role    string `json:"role"`
				Content string `json:"content"`
				Name    string `json:"name,omitempty"`
			}{"system", msg.Content, msg.Name}
		case UserMessage:
			v = struct {
				Role    string  `json:"role"`
				Content Content `json:"content"`
				Name    string  `json:"name,omitempty"`
			}{"user", msg.Content, msg.Name}
		case AssistantMessage:
			v = struct {
				Role      string     `json:"role"`
				Content   string     `json:"content,omitempty"`
				Name      string     `json:"name,omitempty"`
				ToolCalls []ToolCall `json:"tool_calls,omitempty"`
			}{"assistant", msg.Content, msg.Name, msg.ToolCalls}
		case ToolMessage:
			v = struct {
				Role       string `json:"role"`
				Content    string `json:"content"`
				ToolCallID string `json:"tool_call_id"`
			}{"tool", msg.Content, msg.ToolCallID}
		default:
			return nil, fmt.Errorf("unknown message type %T", msg)
		}

		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}

	return json.Marshal(raw)
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}
