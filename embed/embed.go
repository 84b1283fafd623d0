// Package embed produces embeddings for the four OpenAI input shapes,
// driving one runtime pass per flattened input.
package embed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/LlamaEdge/llama-api-server/api"
	"github.com/LlamaEdge/llama-api-server/registry"
	"github.com/LlamaEdge/llama-api-server/runtime"
)

type Embedder struct {
	reg *registry.Registry
	log *slog.Logger
}

func New(reg *registry.Registry, log *slog.Logger) *Embedder {
	return &Embedder{reg: reg, log: log}
}

// Flatten lowers any accepted input shape to the ordered list of
// strings fed to the model: token ids become decimal strings, token
// arrays become space-joined decimal strings.
func Flatten(in api.EmbeddingInput) []string {
	switch {
	case in.Texts != nil:
		return in.Texts
	case in.Tokens != nil:
		out := make([]string, len(in.Tokens))
		for i, tok := range in.Tokens {
			out[i] = strconv.Itoa(tok)
		}
		return out
	case in.TokenArrays != nil:
		out := make([]string, len(in.TokenArrays))
		for i, arr := range in.TokenArrays {
			parts := make([]string, len(arr))
			for j, tok := range arr {
				parts[j] = strconv.Itoa(tok)
			}
			out[i] = strings.Join(parts, " ")
		}
		return out
	default:
		return []string{in.Text}
	}
}

// embeddingOutput is the JSON record the runtime writes to the output
// tensor for each embedding pass.
type embeddingOutput struct {
	NEmbedding int       `json:"n_embedding"`
	Embedding  []float64 `json:"embedding"`
}

type tokenInfo struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Embeddings runs the full pipeline for one request.
func (e *Embedder) Embeddings(ctx context.Context, req *api.EmbeddingRequest) (*api.EmbeddingResponse, error) {
	if err := e.reg.CheckEmbeddings(); err != nil {
		return nil, err
	}

	graph, err := e.reg.EmbeddingGraph(req.Model)
	if err != nil {
		return nil, err
	}

	if err := graph.Acquire(ctx); err != nil {
		return nil, err
	}
	defer graph.Release()

	// Chat graphs double as embedding extractors when the flag is
	// flipped for the duration of the request.
	if !graph.Metadata().Embeddings {
		restore, err := graph.Override(func(m *registry.GgmlMetadata) { m.Embeddings = true })
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := restore(); err != nil {
				e.log.Error("restoring embeddings flag", "model", graph.Name(), "error", err)
			}
		}()
	}

	inputs := Flatten(req.Input)
	base64Format := strings.EqualFold(req.EncodingFormat, "base64")

	var (
		data  []api.EmbeddingObject
		usage api.EmbeddingUsage
	)
	for i, input := range inputs {
		vec, err := e.one(graph, input)
		if err != nil {
			return nil, fmt.Errorf("embedding input %d: %w", i, err)
		}

		obj := api.EmbeddingObject{Index: i, Object: "embedding"}
		if base64Format {
			obj.Embedding = floatsToBase64(vec)
		} else {
			obj.Embedding = vec
		}
		data = append(data, obj)

		info, err := graph.Output(1)
		if err != nil {
			return nil, err
		}
		var ti tokenInfo
		if len(info) > 0 && json.Unmarshal(info, &ti) == nil {
			usage.PromptTokens += ti.InputTokens
			usage.TotalTokens += ti.InputTokens + ti.OutputTokens
		}
	}

	return &api.EmbeddingResponse{
		Object: "list",
		Data:   data,
		Model:  graph.Name(),
		Usage:  usage,
	}, nil
}

func (e *Embedder) one(graph *registry.Graph[registry.GgmlMetadata], input string) ([]float64, error) {
	if err := graph.SetInput(0, runtime.TensorTypeU8, []int{1}, []byte(input)); err != nil {
		return nil, err
	}
	if err := graph.Compute(); err != nil {
		return nil, err
	}

	raw, err := graph.Output(0)
	if err != nil {
		return nil, err
	}

	var out embeddingOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding embedding output: %w", err)
	}
	return out.Embedding, nil
}

// Dimension returns the vector dimensionality of the named embedding
// model, which this system equates with the model's context size.
func (e *Embedder) Dimension(name string) (uint64, error) {
	graph, err := e.reg.EmbeddingGraph(name)
	if err != nil {
		return 0, err
	}
	return graph.Metadata().CtxSize, nil
}

// floatsToBase64 encodes a vector as little-endian f32 bytes in
// base64, the OpenAI wire convention for encoding_format=base64.
func floatsToBase64(vec []float64) string {
	f32 := make([]float32, len(vec))
	for i, v := range vec {
		f32[i] = float32(v)
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, f32)
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
