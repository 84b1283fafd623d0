package generate

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LlamaEdge/llama-api-server/api"
	"github.com/LlamaEdge/llama-api-server/prompt"
	"github.com/LlamaEdge/llama-api-server/registry"
	"github.com/LlamaEdge/llama-api-server/runtime/runtimetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGenerator(t *testing.T, template runtimetest.Fake) (*Generator, *runtimetest.Fake) {
	t.Helper()

	builder := &runtimetest.Builder{Template: template}
	reg := registry.New(builder)

	meta := registry.DefaultGgmlMetadata()
	meta.ModelName = "test-model"
	meta.ModelAlias = "default"
	meta.PromptTemplate = prompt.TemplateLlama3Chat
	require.NoError(t, reg.Init([]registry.GgmlMetadata{meta}, nil))

	require.Len(t, builder.Built, 1)
	return New(reg, testLogger()), builder.Built[0]
}

func userRequest(text string) *api.ChatCompletionRequest {
	return &api.ChatCompletionRequest{
		Messages: api.Messages{api.UserMessage{Content: api.Content{Text: text}}},
	}
}

func collect(t *testing.T, g *Generator, req *api.ChatCompletionRequest) []api.ChatCompletionChunk {
	t.Helper()

	var chunks []api.ChatCompletionChunk
	err := g.ChatStream(context.Background(), req, func(c api.ChatCompletionChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	return chunks
}

func content(chunks []api.ChatCompletionChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		for _, choice := range c.Choices {
			b.WriteString(choice.Delta.Content)
		}
	}
	return b.String()
}

func TestChat(t *testing.T) {
	g, fake := newGenerator(t, runtimetest.Fake{
		Outputs:   map[int][]byte{0: []byte("  Hello from the model.  ")},
		TokenInfo: []byte(`{"input_tokens":12,"output_tokens":5}`),
	})

	obj, err := g.Chat(context.Background(), userRequest("Hi"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(obj.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", obj.Object)
	assert.Equal(t, "test-model", obj.Model)
	require.Len(t, obj.Choices, 1)
	assert.Equal(t, "assistant", obj.Choices[0].Message.Role)
	assert.Equal(t, "Hello from the model.", obj.Choices[0].Message.Content)
	assert.Equal(t, api.FinishReasonStop, *obj.Choices[0].FinishReason)
	assert.Equal(t, api.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17}, obj.Usage)

	// The rendered prompt went to tensor #0.
	w, ok := fake.LastWrite(0)
	require.True(t, ok)
	assert.Contains(t, string(w.Data), "<|start_header_id|>user<|end_header_id|>\n\nHi<|eot_id|>")
	assert.True(t, strings.HasSuffix(string(w.Data), "<|start_header_id|>assistant<|end_header_id|>"))
}

func TestChatEmptyTokenInfo(t *testing.T) {
	g, _ := newGenerator(t, runtimetest.Fake{
		Outputs: map[int][]byte{0: []byte("ok")},
	})

	obj, err := g.Chat(context.Background(), userRequest("Hi"))
	require.NoError(t, err)
	assert.Equal(t, api.Usage{}, obj.Usage)
}

func TestChatOverrideRestored(t *testing.T) {
	g, fake := newGenerator(t, runtimetest.Fake{
		Outputs: map[int][]byte{0: []byte("ok")},
	})

	temp := 0.2
	req := userRequest("Hi")
	req.Temperature = &temp

	_, err := g.Chat(context.Background(), req)
	require.NoError(t, err)

	// The last metadata write is the restore back to the default.
	w, ok := fake.LastWrite(1)
	require.True(t, ok)
	assert.Contains(t, string(w.Data), `"temp":1`)
	assert.NotContains(t, string(w.Data), `"temp":0.2`)
}

func TestChatToolCalls(t *testing.T) {
	g, _ := newGenerator(t, runtimetest.Fake{
		Outputs: map[int][]byte{0: []byte(`{"name":"get_current_weather","arguments":{"location":"Paris"}}`)},
	})

	req := userRequest("Weather in Paris?")
	req.Tools = []api.Tool{{Type: "function", Function: api.ToolFunction{Name: "get_current_weather"}}}

	obj, err := g.Chat(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, obj.Choices, 1)
	assert.Equal(t, api.FinishReasonToolCalls, *obj.Choices[0].FinishReason)
	require.Len(t, obj.Choices[0].Message.ToolCalls, 1)
	call := obj.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, "get_current_weather", call.Function.Name)
	assert.JSONEq(t, `{"location":"Paris"}`, call.Function.Arguments)
	assert.Empty(t, obj.Choices[0].Message.Content)
}

func TestChatModeGating(t *testing.T) {
	builder := &runtimetest.Builder{}
	reg := registry.New(builder)
	meta := registry.DefaultGgmlMetadata()
	meta.ModelName = "embed"
	require.NoError(t, reg.Init(nil, []registry.GgmlMetadata{meta}))

	g := New(reg, testLogger())
	_, err := g.Chat(context.Background(), userRequest("Hi"))
	assert.ErrorIs(t, err, registry.ErrModeMismatch)
}

func TestChatStream(t *testing.T) {
	g, fake := newGenerator(t, runtimetest.Fake{
		Tokens:    [][]byte{[]byte("Hello"), []byte(" world"), []byte("!")},
		TokenInfo: []byte(`{"input_tokens":3,"output_tokens":3}`),
	})

	chunks := collect(t, g, userRequest("Hi"))
	require.NotEmpty(t, chunks)

	assert.Equal(t, "Hello world!", content(chunks))
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	for _, c := range chunks[1:] {
		for _, choice := range c.Choices {
			assert.Empty(t, choice.Delta.Role)
		}
	}

	last := chunks[len(chunks)-1]
	require.Len(t, last.Choices, 1)
	require.NotNil(t, last.Choices[0].FinishReason)
	assert.Equal(t, api.FinishReasonStop, *last.Choices[0].FinishReason)

	assert.Equal(t, 1, fake.FinishSingleCalls)
}

func TestChatStreamStopSequence(t *testing.T) {
	g, _ := newGenerator(t, runtimetest.Fake{
		Tokens: [][]byte{
			[]byte("Hello world"),
			[]byte("<|e"),
			[]byte("nd|> trailing junk"),
			[]byte("never emitted"),
		},
	})

	req := userRequest("Hi")
	req.Stop = api.Stop{"<|end|>"}

	chunks := collect(t, g, req)
	got := content(chunks)

	assert.Equal(t, "Hello world", got)
	assert.NotContains(t, got, "<|end|>")
	assert.NotContains(t, got, "junk")

	last := chunks[len(chunks)-1]
	assert.Equal(t, api.FinishReasonStop, *last.Choices[0].FinishReason)
}

func TestChatStreamSkipsLeadingWhitespace(t *testing.T) {
	g, _ := newGenerator(t, runtimetest.Fake{
		Tokens: [][]byte{[]byte("\n\n"), []byte("  "), []byte("Hi there")},
	})

	chunks := collect(t, g, userRequest("Hi"))
	assert.Equal(t, "Hi there", content(chunks))
}

func TestChatStreamSplitUTF8(t *testing.T) {
	// "héllo" with the two-byte é split across token boundaries.
	g, _ := newGenerator(t, runtimetest.Fake{
		Tokens: [][]byte{{'h', 0xC3}, {0xA9}, []byte("llo")},
	})

	chunks := collect(t, g, userRequest("Hi"))
	assert.Equal(t, "héllo", content(chunks))
}

func TestChatStreamIncludeUsage(t *testing.T) {
	g, _ := newGenerator(t, runtimetest.Fake{
		Tokens:    [][]byte{[]byte("ok")},
		TokenInfo: []byte(`{"input_tokens":7,"output_tokens":1}`),
	})

	req := userRequest("Hi")
	req.StreamOptions = &api.StreamOptions{IncludeUsage: true}

	chunks := collect(t, g, req)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.Empty(t, last.Choices)
	require.NotNil(t, last.Usage)
	assert.Equal(t, api.Usage{PromptTokens: 7, CompletionTokens: 1, TotalTokens: 8}, *last.Usage)
}

func TestChatStreamCancellation(t *testing.T) {
	g, fake := newGenerator(t, runtimetest.Fake{
		Tokens: [][]byte{
			[]byte("one"), []byte("two"), []byte("three"),
			[]byte("four"), []byte("five"),
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	var seen int
	err := g.ChatStream(ctx, userRequest("Hi"), func(c api.ChatCompletionChunk) error {
		seen++
		cancel()
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, seen, 5)
	assert.Equal(t, 1, fake.FinishSingleCalls)
}

func TestComplete(t *testing.T) {
	g, fake := newGenerator(t, runtimetest.Fake{
		Outputs:   map[int][]byte{0: []byte(" a completion")},
		TokenInfo: []byte(`{"input_tokens":4,"output_tokens":2}`),
	})

	obj, err := g.Complete(context.Background(), &api.CompletionRequest{
		Prompt: api.Prompt{"Once upon a time"},
	})
	require.NoError(t, err)

	assert.Equal(t, "text_completion", obj.Object)
	require.Len(t, obj.Choices, 1)
	assert.Equal(t, "a completion", obj.Choices[0].Text)
	assert.Equal(t, 6, obj.Usage.TotalTokens)

	w, ok := fake.LastWrite(0)
	require.True(t, ok)
	assert.Equal(t, "Once upon a time", string(w.Data))
}

func TestCompleteEcho(t *testing.T) {
	g, _ := newGenerator(t, runtimetest.Fake{
		Outputs: map[int][]byte{0: []byte(" and they lived happily")},
	})

	obj, err := g.Complete(context.Background(), &api.CompletionRequest{
		Prompt: api.Prompt{"Once"},
		Echo:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Onceand they lived happily", obj.Choices[0].Text)
}

func TestCompleteOverrideRestored(t *testing.T) {
	g, fake := newGenerator(t, runtimetest.Fake{
		Outputs: map[int][]byte{0: []byte("ok")},
	})

	temp := 0.2
	maxTokens := 16
	_, err := g.Complete(context.Background(), &api.CompletionRequest{
		Prompt:      api.Prompt{"Once"},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        api.Stop{"<|end|>"},
	})
	require.NoError(t, err)

	// The override landed before compute.
	require.NotEmpty(t, fake.Writes)
	var applied bool
	for _, w := range fake.Writes {
		if w.Index == 1 && strings.Contains(string(w.Data), `"temp":0.2`) {
			applied = true
			assert.Contains(t, string(w.Data), `"n-predict":16`)
			assert.Contains(t, string(w.Data), `"reverse-prompt":"<|end|>"`)
		}
	}
	assert.True(t, applied)

	// The last metadata write is the restore back to the default.
	w, ok := fake.LastWrite(1)
	require.True(t, ok)
	assert.Contains(t, string(w.Data), `"temp":1`)
	assert.NotContains(t, string(w.Data), `"temp":0.2`)
}

func TestCompleteEmptyPrompt(t *testing.T) {
	g, _ := newGenerator(t, runtimetest.Fake{
		Outputs: map[int][]byte{0: []byte("ok")},
	})

	_, err := g.Complete(context.Background(), &api.CompletionRequest{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = g.Complete(context.Background(), &api.CompletionRequest{Prompt: api.Prompt{""}})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestParseToolCalls(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string // expected function name; empty means no call
	}{
		{"bare object", `{"name":"f","arguments":{"x":1}}`, "f"},
		{"array", `[{"name":"f","arguments":{}}]`, "f"},
		{"parameters key", `{"name":"f","parameters":{"x":1}}`, "f"},
		{"tool_call block", "<tool_call>\n{\"name\":\"f\",\"arguments\":{}}\n</tool_call>", "f"},
		{"function tag", `<function=f>{"x":1}</function>`, "f"},
		{"tool_calls prefix", `[TOOL_CALLS] [{"name":"f","arguments":{}}]`, "f"},
		{"json fence", "```json\n{\"name\":\"f\",\"arguments\":{}}\n```", "f"},
		{"plain text", "The weather in Paris is sunny.", ""},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls, ok := parseToolCalls(tc.text)
			if tc.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			require.NotEmpty(t, calls)
			assert.Equal(t, tc.want, calls[0].Function.Name)
			assert.Equal(t, "function", calls[0].Type)
		})
	}
}

func TestValidUTF8Prefix(t *testing.T) {
	valid, rest := validUTF8Prefix([]byte{'a', 0xC3})
	assert.Equal(t, []byte{'a'}, valid)
	assert.Equal(t, []byte{0xC3}, rest)

	valid, rest = validUTF8Prefix([]byte("plain"))
	assert.Equal(t, []byte("plain"), valid)
	assert.Empty(t, rest)

	// A complete multi-byte rune passes through whole.
	valid, rest = validUTF8Prefix([]byte("héllo"))
	assert.Equal(t, []byte("héllo"), valid)
	assert.Empty(t, rest)
}
