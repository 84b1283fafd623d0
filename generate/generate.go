// Package generate drives chat and completion requests from prompt
// rendering through the runtime to wire responses, in both streaming
// and non-streaming modes.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LlamaEdge/llama-api-server/api"
	"github.com/LlamaEdge/llama-api-server/prompt"
	"github.com/LlamaEdge/llama-api-server/registry"
	"github.com/LlamaEdge/llama-api-server/runtime"
)

// ErrEmptyPrompt reports a completion request whose prompt is missing
// or blank.
var ErrEmptyPrompt = errors.New("prompt must not be empty")

type Generator struct {
	reg *registry.Registry
	log *slog.Logger
}

func New(reg *registry.Registry, log *slog.Logger) *Generator {
	return &Generator{reg: reg, log: log}
}

// tokenInfo is the usage record the runtime exposes on tensor #1.
type tokenInfo struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// parseUsage decodes the token-info blob. An empty or malformed blob
// yields zero usage rather than failing the whole request.
func parseUsage(b []byte) api.Usage {
	var info tokenInfo
	if len(b) == 0 || json.Unmarshal(b, &info) != nil {
		return api.Usage{}
	}
	return api.Usage{
		PromptTokens:     info.InputTokens,
		CompletionTokens: info.OutputTokens,
		TotalTokens:      info.InputTokens + info.OutputTokens,
	}
}

// session is one request's hold on a graph: the lock, any metadata
// override, and the rendered prompt already written to the input
// tensor.
type session struct {
	graph   *registry.Graph[registry.GgmlMetadata]
	meta    registry.GgmlMetadata
	restore func() error
	log     *slog.Logger
}

func (s *session) close() {
	if s.restore != nil {
		if err := s.restore(); err != nil {
			s.log.Error("restoring metadata", "model", s.graph.Name(), "error", err)
		}
	}
	s.graph.Release()
}

// begin acquires the target graph, applies per-request sampling
// overrides, renders the prompt, and writes it to the input tensor.
func (g *Generator) begin(ctx context.Context, req *api.ChatCompletionRequest) (*session, error) {
	if err := g.reg.CheckChat(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	graph, err := g.reg.ChatGraph(req.Model)
	if err != nil {
		return nil, err
	}

	if err := graph.Acquire(ctx); err != nil {
		return nil, err
	}

	s := &session{graph: graph, log: g.log}

	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	s.restore, err = chatSampling(req).apply(graph)
	if err != nil {
		return nil, err
	}
	s.meta = graph.Metadata()

	rendered, err := prompt.BuildWithTools(s.meta.PromptTemplate, req.Messages, req.Tools)
	if err != nil {
		return nil, err
	}
	g.log.Debug("rendered prompt", "model", graph.Name(), "template", s.meta.PromptTemplate, "bytes", len(rendered))

	if err := graph.SetInput(0, runtime.TensorTypeU8, []int{1}, []byte(rendered)); err != nil {
		return nil, err
	}

	ok = true
	return s, nil
}

// sampling carries the request-level fields that may override a
// graph's configured sampling metadata. Chat and completion requests
// both map onto it.
type sampling struct {
	temperature      *float64
	topP             *float64
	presencePenalty  *float64
	frequencyPenalty *float64
	maxTokens        *int
	stop             api.Stop
	jsonSchema       *string
}

func chatSampling(req *api.ChatCompletionRequest) sampling {
	s := sampling{
		temperature:      req.Temperature,
		topP:             req.TopP,
		presencePenalty:  req.PresencePenalty,
		frequencyPenalty: req.FrequencyPenalty,
		maxTokens:        req.MaxTokens,
		stop:             req.Stop,
	}
	if req.ResponseFormat != nil && req.ResponseFormat.JsonSchema != nil {
		schema := string(req.ResponseFormat.JsonSchema.Schema)
		s.jsonSchema = &schema
	}
	return s
}

func completionSampling(req *api.CompletionRequest) sampling {
	return sampling{
		temperature:      req.Temperature,
		topP:             req.TopP,
		presencePenalty:  req.PresencePenalty,
		frequencyPenalty: req.FrequencyPenalty,
		maxTokens:        req.MaxTokens,
		stop:             req.Stop,
	}
}

// apply pushes the fields that differ from the graph's configuration,
// returning the restore func (nil when nothing changed).
func (s sampling) apply(graph *registry.Graph[registry.GgmlMetadata]) (func() error, error) {
	meta := graph.Metadata()

	var muts []func(*registry.GgmlMetadata)
	if s.temperature != nil && *s.temperature != meta.Temperature {
		t := *s.temperature
		muts = append(muts, func(m *registry.GgmlMetadata) { m.Temperature = t })
	}
	if s.topP != nil && *s.topP != meta.TopP {
		p := *s.topP
		muts = append(muts, func(m *registry.GgmlMetadata) { m.TopP = p })
	}
	if s.presencePenalty != nil && *s.presencePenalty != meta.PresencePenalty {
		p := *s.presencePenalty
		muts = append(muts, func(m *registry.GgmlMetadata) { m.PresencePenalty = p })
	}
	if s.frequencyPenalty != nil && *s.frequencyPenalty != meta.FrequencyPenalty {
		p := *s.frequencyPenalty
		muts = append(muts, func(m *registry.GgmlMetadata) { m.FrequencyPenalty = p })
	}
	if s.maxTokens != nil && int64(*s.maxTokens) != meta.NPredict {
		n := int64(*s.maxTokens)
		muts = append(muts, func(m *registry.GgmlMetadata) { m.NPredict = n })
	}
	if len(s.stop) > 0 && s.stop[0] != meta.ReversePrompt {
		rp := s.stop[0]
		muts = append(muts, func(m *registry.GgmlMetadata) { m.ReversePrompt = rp })
	}
	if s.jsonSchema != nil {
		schema := *s.jsonSchema
		muts = append(muts, func(m *registry.GgmlMetadata) { m.JSONSchema = &schema })
	}

	if len(muts) == 0 {
		return nil, nil
	}

	return graph.Override(func(m *registry.GgmlMetadata) {
		for _, mut := range muts {
			mut(m)
		}
	})
}

func finishReason(r api.FinishReason) *api.FinishReason { return &r }

// Chat runs a non-streaming chat completion.
func (g *Generator) Chat(ctx context.Context, req *api.ChatCompletionRequest) (*api.ChatCompletionObject, error) {
	s, err := g.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.close()

	if err := s.graph.Compute(); err != nil {
		return nil, err
	}

	text, err := s.graph.OutputText(0)
	if err != nil {
		return nil, err
	}

	info, err := s.graph.Output(1)
	if err != nil {
		return nil, err
	}
	usage := parseUsage(info)

	message := api.ChoiceMessage{Role: "assistant", Content: text}
	finish := api.FinishReasonStop

	if len(req.Tools) > 0 {
		if calls, ok := parseToolCalls(text); ok {
			message = api.ChoiceMessage{Role: "assistant", ToolCalls: calls}
			finish = api.FinishReasonToolCalls
		}
	}
	if finish == api.FinishReasonStop && s.meta.NPredict > 0 && usage.CompletionTokens >= int(s.meta.NPredict) {
		finish = api.FinishReasonLength
	}

	return &api.ChatCompletionObject{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   s.graph.Name(),
		Choices: []api.ChatCompletionChoice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReason(finish),
		}},
		Usage: usage,
	}, nil
}

// ChatStream runs a streaming chat completion, calling emit once per
// chunk in emission order. It returns after the terminal chunk has
// been emitted or the context is canceled.
func (g *Generator) ChatStream(ctx context.Context, req *api.ChatCompletionRequest, emit func(api.ChatCompletionChunk) error) error {
	s, err := g.begin(ctx, req)
	if err != nil {
		return err
	}
	defer s.close()

	var (
		id      = "chatcmpl-" + uuid.NewString()
		created = time.Now().Unix()
		model   = s.graph.Name()
		first   = true
	)

	send := func(delta api.ChoiceMessage, finish *api.FinishReason, usage *api.Usage) error {
		chunk := api.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Usage:   usage,
		}
		if usage == nil {
			if first {
				delta.Role = "assistant"
				first = false
			}
			chunk.Choices = []api.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}}
		}
		return emit(chunk)
	}

	var (
		pending  []byte // bytes awaiting a complete UTF-8 sequence
		buffered string // decoded text held back for stop matching
		started  bool
		canceled bool
		stops    = []string(req.Stop)
		reverse  = s.meta.ReversePrompt
	)

loop:
	for {
		select {
		case <-ctx.Done():
			canceled = true
			break loop
		default:
		}

		err := s.graph.ComputeSingle()
		if errors.Is(err, runtime.ErrEndOfSequence) {
			break
		}
		if err != nil {
			g.log.Error("stream compute failed", "model", model, "error", err)
			_ = send(api.ChoiceMessage{}, finishReason(api.FinishReasonContentFilter), nil)
			return err
		}

		piece, err := s.graph.OutputSingle(0)
		if err != nil {
			g.log.Error("stream output read failed", "model", model, "error", err)
			_ = send(api.ChoiceMessage{}, finishReason(api.FinishReasonContentFilter), nil)
			return err
		}

		pending = append(pending, piece...)
		valid, rest := validUTF8Prefix(pending)
		if len(valid) == 0 {
			continue
		}
		fragment := string(valid)
		pending = append(pending[:0:0], rest...)

		if !started {
			fragment = strings.TrimLeft(fragment, " \t\r\n")
			if fragment == "" {
				continue
			}
			started = true
		}

		if reverse != "" && strings.TrimSpace(fragment) == reverse {
			break
		}

		buffered += fragment

		if len(stops) > 0 {
			if found, stop := findStop(buffered, stops); found {
				if idx := strings.Index(buffered, stop); idx > 0 {
					if err := send(api.ChoiceMessage{Content: buffered[:idx]}, nil, nil); err != nil {
						canceled = true
					}
				}
				buffered = ""
				break
			}
			hold := holdbackLen(buffered, stops)
			if emitNow := buffered[:len(buffered)-hold]; emitNow != "" {
				if err := send(api.ChoiceMessage{Content: emitNow}, nil, nil); err != nil {
					canceled = true
					break
				}
				buffered = buffered[len(buffered)-hold:]
			}
			continue
		}

		if err := send(api.ChoiceMessage{Content: buffered}, nil, nil); err != nil {
			canceled = true
			break
		}
		buffered = ""
	}

	if !canceled && buffered != "" {
		if err := send(api.ChoiceMessage{Content: buffered}, nil, nil); err != nil {
			canceled = true
		}
	}

	info, infoErr := s.graph.OutputSingle(1)

	if err := s.graph.FinishSingle(); err != nil {
		g.log.Error("finishing stream", "model", model, "error", err)
	}

	if canceled {
		return ctx.Err()
	}

	if err := send(api.ChoiceMessage{}, finishReason(api.FinishReasonStop), nil); err != nil {
		return err
	}

	if req.StreamOptions != nil && req.StreamOptions.IncludeUsage {
		if infoErr != nil {
			g.log.Error("reading token info", "model", model, "error", infoErr)
		}
		usage := parseUsage(info)
		if err := send(api.ChoiceMessage{}, nil, &usage); err != nil {
			return err
		}
	}

	return nil
}

// Complete runs a non-streaming text completion. Only the first prompt
// entry is used.
func (g *Generator) Complete(ctx context.Context, req *api.CompletionRequest) (*api.CompletionObject, error) {
	if err := g.reg.CheckChat(); err != nil {
		return nil, err
	}
	if len(req.Prompt) == 0 || req.Prompt[0] == "" {
		return nil, ErrEmptyPrompt
	}

	graph, err := g.reg.ChatGraph(req.Model)
	if err != nil {
		return nil, err
	}
	if err := graph.Acquire(ctx); err != nil {
		return nil, err
	}
	defer graph.Release()

	restore, err := completionSampling(req).apply(graph)
	if err != nil {
		return nil, err
	}
	if restore != nil {
		defer func() {
			if err := restore(); err != nil {
				g.log.Error("restoring metadata", "model", graph.Name(), "error", err)
			}
		}()
	}

	input := req.Prompt[0]
	if err := graph.SetInput(0, runtime.TensorTypeU8, []int{1}, []byte(input)); err != nil {
		return nil, err
	}
	if err := graph.Compute(); err != nil {
		return nil, err
	}

	text, err := graph.OutputText(0)
	if err != nil {
		return nil, err
	}
	if req.Echo {
		text = input + text
	}

	info, err := graph.Output(1)
	if err != nil {
		return nil, err
	}

	return &api.CompletionObject{
		ID:      "cmpl-" + uuid.NewString(),
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   graph.Name(),
		Choices: []api.CompletionChoice{{
			Index:        0,
			Text:         text,
			FinishReason: finishReason(api.FinishReasonStop),
		}},
		Usage: parseUsage(info),
	}, nil
}
