// Package runtime defines the narrow surface the server consumes from
// the tensor execution plugin. The plugin owns tokenization, sampling
// and weights; this package only moves bytes in and out of named
// tensors and advances computation.
package runtime

import (
	"errors"
	"fmt"
)

type TensorType int

const (
	TensorTypeU8 TensorType = iota
	TensorTypeF32
	TensorTypeI32
)

func (t TensorType) String() string {
	switch t {
	case TensorTypeU8:
		return "u8"
	case TensorTypeF32:
		return "f32"
	case TensorTypeI32:
		return "i32"
	default:
		return fmt.Sprintf("tensor type %d", int(t))
	}
}

// ErrEndOfSequence is returned by ComputeSingle when the model has
// emitted its end-of-sequence token.
var ErrEndOfSequence = errors.New("end of sequence")

// TensorRuntime is a single loaded graph's execution context. It is
// not safe for concurrent use; callers hold the owning graph's lock
// for the whole set input, compute, get output sequence.
type TensorRuntime interface {
	// SetInput writes bytes into the input tensor at index.
	SetInput(index int, ttype TensorType, dims []int, data []byte) error

	// Compute runs a full inference pass.
	Compute() error

	// ComputeSingle advances generation by one token. Returns
	// ErrEndOfSequence on clean termination.
	ComputeSingle() error

	// GetOutput reads the output tensor at index into dst and
	// returns the number of bytes written.
	GetOutput(index int, dst []byte) (int, error)

	// GetOutputSingle reads the single-token output at index.
	GetOutputSingle(index int, dst []byte) (int, error)

	// FinishSingle resets the streaming state after a token-by-token
	// generation ends or is abandoned.
	FinishSingle() error
}

// Op identifies which primitive a backend error came from.
type Op string

const (
	OpSetInput  Op = "set_input"
	OpCompute   Op = "compute"
	OpGetOutput Op = "get_output"
)

// BackendError wraps a failure from the tensor plugin with the
// primitive that produced it.
type BackendError struct {
	Op  Op
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
