package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/LlamaEdge/llama-api-server/runtime"
)

// outputBufferSize bounds a single GetOutput read. Embedding payloads
// are the largest output the plugins produce and stay well under this.
const outputBufferSize = 2 << 20

// Graph pairs one loaded execution context with its metadata and the
// lock that serializes access to it. The context keeps hidden state
// between calls, so a request holds the lock for its whole
// set input, compute, get output sequence.
type Graph[M any] struct {
	name    string
	created time.Time
	sem     *semaphore.Weighted
	rt      runtime.TensorRuntime

	// meta is the graph's current configuration. Guarded by sem.
	meta M
}

// NewGraph wraps an execution context. The metadata is written to the
// runtime immediately so the context starts from a known configuration.
func NewGraph[M any](name string, meta M, rt runtime.TensorRuntime) (*Graph[M], error) {
	g := &Graph[M]{
		name:    name,
		created: time.Now(),
		sem:     semaphore.NewWeighted(1),
		rt:      rt,
		meta:    meta,
	}
	if err := g.writeMetadata(); err != nil {
		return nil, fmt.Errorf("initializing graph %q: %w", name, err)
	}
	return g, nil
}

func (g *Graph[M]) Name() string       { return g.name }
func (g *Graph[M]) Created() time.Time { return g.created }

// Acquire takes the graph's lock, honoring ctx cancellation while
// queued behind another request.
func (g *Graph[M]) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *Graph[M]) Release() { g.sem.Release(1) }

// Metadata returns a copy of the current configuration. Callers that
// have not acquired the lock see a possibly stale snapshot.
func (g *Graph[M]) Metadata() M { return g.meta }

// UpdateMetadata replaces the configuration and pushes it to the
// runtime. Caller holds the lock.
func (g *Graph[M]) UpdateMetadata(meta M) error {
	g.meta = meta
	return g.writeMetadata()
}

// Override applies fn to a copy of the metadata, pushes the result to
// the runtime, and returns a restore func that reverts both the server
// and runtime side. Callers run restore on every exit path.
func (g *Graph[M]) Override(fn func(*M)) (restore func() error, err error) {
	orig := g.meta

	next := orig
	fn(&next)
	if err := g.UpdateMetadata(next); err != nil {
		return nil, err
	}

	return func() error {
		return g.UpdateMetadata(orig)
	}, nil
}

// writeMetadata serializes the configuration as JSON and writes it to
// tensor #1 as a U8 blob of shape [1], the convention the plugins use
// for reconfiguration without a weight reload.
func (g *Graph[M]) writeMetadata() error {
	b, err := json.Marshal(g.meta)
	if err != nil {
		return fmt.Errorf("serializing metadata: %w", err)
	}
	return g.rt.SetInput(1, runtime.TensorTypeU8, []int{1}, b)
}

// SetInput writes the request payload into the prompt tensor.
func (g *Graph[M]) SetInput(index int, ttype runtime.TensorType, dims []int, data []byte) error {
	return g.rt.SetInput(index, ttype, dims, data)
}

func (g *Graph[M]) Compute() error       { return g.rt.Compute() }
func (g *Graph[M]) ComputeSingle() error { return g.rt.ComputeSingle() }
func (g *Graph[M]) FinishSingle() error  { return g.rt.FinishSingle() }

// Output reads the full output tensor at index.
func (g *Graph[M]) Output(index int) ([]byte, error) {
	buf := make([]byte, outputBufferSize)
	n, err := g.rt.GetOutput(index, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// OutputSingle reads the latest single-token output at index.
func (g *Graph[M]) OutputSingle(index int) ([]byte, error) {
	buf := make([]byte, outputBufferSize)
	n, err := g.rt.GetOutputSingle(index, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// OutputText reads the output tensor at index as trimmed UTF-8 text.
func (g *Graph[M]) OutputText(index int) (string, error) {
	b, err := g.Output(index)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
