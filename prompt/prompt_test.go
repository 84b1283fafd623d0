package prompt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LlamaEdge/llama-api-server/api"
)

func text(s string) api.Content {
	return api.Content{Text: s}
}

func TestLlama3Chat(t *testing.T) {
	prompt, err := Build(TemplateLlama3Chat, api.Messages{
		api.SystemMessage{Content: "You are a helpful assistant."},
		api.UserMessage{Content: text("Hello!")},
	})
	require.NoError(t, err)

	assert.Equal(t,
		"<|begin_of_text|>"+
			"<|start_header_id|>system<|end_header_id|>\n\nYou are a helpful assistant.<|eot_id|>"+
			"<|start_header_id|>user<|end_header_id|>\n\nHello!<|eot_id|>"+
			"<|start_header_id|>assistant<|end_header_id|>",
		prompt)
}

func TestLlama3ChatMultiTurn(t *testing.T) {
	prompt, err := Build(TemplateLlama3Chat, api.Messages{
		api.UserMessage{Content: text("Hi")},
		api.AssistantMessage{Content: "Hello! How can I help?"},
		api.UserMessage{Content: text("Tell me a joke.")},
	})
	require.NoError(t, err)

	assert.NotContains(t, prompt, "system<|end_header_id|>")
	assert.Contains(t, prompt, "<|start_header_id|>assistant<|end_header_id|>\n\nHello! How can I help?<|eot_id|>")

	// Generation starts right after the final assistant header. A
	// trailing newline here derails most fine-tunes.
	require.True(t, len(prompt) > 0)
	assert.Equal(t, "<|start_header_id|>assistant<|end_header_id|>", prompt[len(prompt)-len("<|start_header_id|>assistant<|end_header_id|>"):])
}

func TestMistralToolAvailableTools(t *testing.T) {
	tools := []api.Tool{{
		Type: "function",
		Function: api.ToolFunction{
			Name:        "get_current_weather",
			Description: "Get the current weather in a given location",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}`),
		},
	}}

	prompt, err := BuildWithTools(TemplateMistralTool, api.Messages{
		api.UserMessage{Content: text("Weather in Paris?")},
	}, tools)
	require.NoError(t, err)

	spec, err := json.Marshal(tools)
	require.NoError(t, err)

	assert.Equal(t, "<s>[AVAILABLE_TOOLS] "+string(spec)+" [/AVAILABLE_TOOLS][INST] Weather in Paris?[/INST]", prompt)
}

func TestMistralToolLastUserTurnOnly(t *testing.T) {
	tools := []api.Tool{{Type: "function", Function: api.ToolFunction{Name: "lookup"}}}

	prompt, err := BuildWithTools(TemplateMistralTool, api.Messages{
		api.UserMessage{Content: text("first question")},
		api.AssistantMessage{Content: "first answer\nwith a second line"},
		api.UserMessage{Content: text("second question")},
	}, tools)
	require.NoError(t, err)

	assert.Contains(t, prompt, "[INST] first question[/INST]")
	assert.NotContains(t, prompt, "[AVAILABLE_TOOLS] [{\"type\":\"function\",\"function\":{\"name\":\"lookup\"}}] [/AVAILABLE_TOOLS][INST] first question")
	assert.Contains(t, prompt, "[AVAILABLE_TOOLS] [{\"type\":\"function\",\"function\":{\"name\":\"lookup\"}}] [/AVAILABLE_TOOLS][INST] second question[/INST]")

	// Only the first line of the previous answer is echoed back.
	assert.Contains(t, prompt, " first answer</s>")
	assert.NotContains(t, prompt, "with a second line")
}

func TestMistralToolCallAndResult(t *testing.T) {
	prompt, err := Build(TemplateMistralTool, api.Messages{
		api.UserMessage{Content: text("Weather in Paris?")},
		api.AssistantMessage{ToolCalls: []api.ToolCall{{
			ID:   "call_1",
			Type: "function",
			Function: api.ToolCallFunc{
				Name:      "get_current_weather",
				Arguments: `{"location":"Paris"}`,
			},
		}}},
		api.ToolMessage{Content: `{"temperature":21}`, ToolCallID: "call_1"},
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, `[TOOL_CALLS] [{"name":"get_current_weather","arguments":"{\"location\":\"Paris\"}"}]</s>`)
	assert.Contains(t, prompt, `[TOOL_RESULTS]{"temperature":21}[/TOOL_RESULTS]`)
}

func TestBuildDeterministic(t *testing.T) {
	history := api.Messages{
		api.SystemMessage{Content: "Be terse."},
		api.UserMessage{Content: text("What's 2+2?")},
		api.AssistantMessage{Content: "4"},
		api.UserMessage{Content: text("And 3+3?")},
	}

	for _, tt := range Types() {
		tt := tt
		t.Run(string(tt), func(t *testing.T) {
			first, err := Build(tt, history)
			require.NoError(t, err)
			require.NotEmpty(t, first)

			second, err := Build(tt, history)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestBuildEmptyHistory(t *testing.T) {
	for _, tt := range Types() {
		_, err := Build(tt, nil)
		assert.ErrorIs(t, err, ErrNoMessages, "template %q", tt)
	}
}

func TestBuildWithToolsRejectsChatTemplates(t *testing.T) {
	tools := []api.Tool{{Type: "function", Function: api.ToolFunction{Name: "lookup"}}}
	messages := api.Messages{api.UserMessage{Content: text("hi")}}

	for _, tt := range []TemplateType{TemplateChatML, TemplateLlama2Chat, TemplateVicunaChat} {
		_, err := BuildWithTools(tt, messages, tools)
		assert.ErrorIs(t, err, ErrNoAvailableTools, "template %q", tt)
	}

	// Empty tools fall through to the plain renderer.
	prompt, err := BuildWithTools(TemplateChatML, messages, nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "<|im_start|>user")
}

func TestParse(t *testing.T) {
	tt, err := Parse("llama-3-chat")
	require.NoError(t, err)
	assert.Equal(t, TemplateLlama3Chat, tt)

	tt, err = Parse("embedding")
	require.NoError(t, err)
	assert.Equal(t, TemplateEmbedding, tt)

	_, err = Parse("llama3-chat")
	require.ErrorIs(t, err, ErrUnknownTemplateType)
	assert.Contains(t, err.Error(), `did you mean "llama-3-chat"?`)

	_, err = Parse("completely-bogus-template-tag")
	require.ErrorIs(t, err, ErrUnknownTemplateType)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestGemma3RejectsAudioParts(t *testing.T) {
	_, err := Build(TemplateGemma3, api.Messages{
		api.UserMessage{Content: api.Content{Parts: []api.ContentPart{
			api.AudioPart{Data: "UklGRg==", Format: "wav"},
			api.TextPart{Text: "Transcribe this."},
		}}},
	})
	assert.ErrorIs(t, err, ErrUnsupportedContent)
}

// 1x1 transparent png
const tinyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

func TestVicunaLlavaInlineImage(t *testing.T) {
	prompt, err := Build(TemplateVicunaLlava, api.Messages{
		api.UserMessage{Content: api.Content{Parts: []api.ContentPart{
			api.ImagePart{URL: "data:image/png;base64," + tinyPNG},
			api.TextPart{Text: "What is in this image?"},
		}}},
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, `<img src="data:image/png;base64,`+tinyPNG+`">`)
	assert.Contains(t, prompt, "What is in this image?")
}

func TestVicunaLlavaRemoteImage(t *testing.T) {
	prompt, err := Build(TemplateVicunaLlava, api.Messages{
		api.UserMessage{Content: api.Content{Parts: []api.ContentPart{
			api.ImagePart{URL: "https://example.com/cat.png"},
			api.TextPart{Text: "Describe the picture."},
		}}},
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, "<image>")
	assert.NotContains(t, prompt, "example.com")
}

func TestSniffImageFormat(t *testing.T) {
	cases := []struct {
		name   string
		data   []byte
		format string
	}{
		{"hdr", []byte("#?RADIANCE\nFORMAT=32-bit_rle_rgbe\n"), "hdr"},
		{"pnm", []byte("P6\n1 1\n255\n\x00\x00\x00"), "pnm"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			format, err := sniffImageFormat(tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.format, format)
		})
	}

	_, err := sniffImageFormat([]byte("not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedContent)
}

func TestAssistantToolCallWinsOverContent(t *testing.T) {
	got, err := assistantText(api.AssistantMessage{
		Content: "ignored",
		ToolCalls: []api.ToolCall{{
			Function: api.ToolCallFunc{Name: "f", Arguments: "{}"},
		}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"f","arguments":"{}"}`, got)

	_, err = assistantText(api.AssistantMessage{})
	assert.ErrorIs(t, err, ErrNoAssistantMessage)
}
