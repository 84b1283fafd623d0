// Package runtimetest provides a scripted in-memory TensorRuntime for
// tests: it records every tensor write and replays configured outputs.
package runtimetest

import (
	"encoding/json"
	"sync"

	"github.com/LlamaEdge/llama-api-server/runtime"
)

// Write records one SetInput call.
type Write struct {
	Index int
	Type  runtime.TensorType
	Dims  []int
	Data  []byte
}

// Fake is a scripted TensorRuntime.
//
// Outputs maps tensor index to the bytes returned by GetOutput.
// Tokens is the sequence returned one element at a time by
// GetOutputSingle(0); once exhausted, ComputeSingle returns
// ErrEndOfSequence.
type Fake struct {
	mu sync.Mutex

	Writes  []Write
	Outputs map[int][]byte
	Tokens  [][]byte

	// TokenInfo is returned from GetOutputSingle(1) and, when set,
	// from GetOutput(1) after streaming.
	TokenInfo []byte

	// Error injection, keyed by primitive.
	SetInputErr      error
	ComputeErr       error
	ComputeSingleErr error
	GetOutputErr     error

	ComputeCalls       int
	ComputeSingleCalls int
	FinishSingleCalls  int

	pos      int
	pending  bool
	finished bool
}

var _ runtime.TensorRuntime = (*Fake)(nil)

func (f *Fake) SetInput(index int, ttype runtime.TensorType, dims []int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetInputErr != nil {
		return &runtime.BackendError{Op: runtime.OpSetInput, Err: f.SetInputErr}
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	f.Writes = append(f.Writes, Write{Index: index, Type: ttype, Dims: dims, Data: cp})
	return nil
}

func (f *Fake) Compute() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ComputeCalls++
	if f.ComputeErr != nil {
		return &runtime.BackendError{Op: runtime.OpCompute, Err: f.ComputeErr}
	}
	return nil
}

func (f *Fake) ComputeSingle() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ComputeSingleCalls++
	if f.ComputeSingleErr != nil {
		return &runtime.BackendError{Op: runtime.OpCompute, Err: f.ComputeSingleErr}
	}

	if f.pos >= len(f.Tokens) {
		return runtime.ErrEndOfSequence
	}

	f.pending = true
	return nil
}

func (f *Fake) GetOutput(index int, dst []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetOutputErr != nil {
		return 0, &runtime.BackendError{Op: runtime.OpGetOutput, Err: f.GetOutputErr}
	}

	if index == 1 && f.TokenInfo != nil {
		return copy(dst, f.TokenInfo), nil
	}

	return copy(dst, f.Outputs[index]), nil
}

func (f *Fake) GetOutputSingle(index int, dst []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetOutputErr != nil {
		return 0, &runtime.BackendError{Op: runtime.OpGetOutput, Err: f.GetOutputErr}
	}

	if index == 1 {
		return copy(dst, f.TokenInfo), nil
	}

	if !f.pending || f.pos >= len(f.Tokens) {
		return 0, nil
	}

	n := copy(dst, f.Tokens[f.pos])
	f.pos++
	f.pending = false
	return n, nil
}

func (f *Fake) FinishSingle() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.FinishSingleCalls++
	f.pos = 0
	f.pending = false
	f.finished = true
	return nil
}

// LastWrite returns the most recent write to the given tensor index.
func (f *Fake) LastWrite(index int) (Write, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.Writes) - 1; i >= 0; i-- {
		if f.Writes[i].Index == index {
			return f.Writes[i], true
		}
	}
	return Write{}, false
}

// Builder returns every context it built so tests can script them.
type Builder struct {
	mu    sync.Mutex
	Built []*Fake

	// Template is copied into every built fake.
	Template Fake
}

var _ runtime.GraphBuilder = (*Builder)(nil)

func (b *Builder) build() (runtime.TensorRuntime, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f := &Fake{
		Outputs:   b.Template.Outputs,
		Tokens:    b.Template.Tokens,
		TokenInfo: b.Template.TokenInfo,
	}
	b.Built = append(b.Built, f)
	return f, nil
}

func (b *Builder) BuildFromFiles(engine runtime.EngineType, device runtime.Device, config json.RawMessage, files ...string) (runtime.TensorRuntime, error) {
	return b.build()
}

func (b *Builder) BuildFromBuffer(engine runtime.EngineType, device runtime.Device, config json.RawMessage, buffer []byte) (runtime.TensorRuntime, error) {
	return b.build()
}

func (b *Builder) BuildFromCache(engine runtime.EngineType, device runtime.Device, config json.RawMessage, alias string) (runtime.TensorRuntime, error) {
	return b.build()
}
