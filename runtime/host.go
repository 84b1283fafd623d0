package runtime

import (
	"errors"
	"sync"
)

// ErrNoBuilder is returned when no plugin host has registered a
// GraphBuilder for this process.
var ErrNoBuilder = errors.New("no graph builder registered")

var (
	hostMu      sync.Mutex
	hostBuilder GraphBuilder
)

// RegisterBuilder installs the process-wide graph builder. Plugin
// hosts call this from their init; the last registration wins.
func RegisterBuilder(b GraphBuilder) {
	hostMu.Lock()
	defer hostMu.Unlock()
	hostBuilder = b
}

// Builder returns the registered graph builder.
func Builder() (GraphBuilder, error) {
	hostMu.Lock()
	defer hostMu.Unlock()
	if hostBuilder == nil {
		return nil, ErrNoBuilder
	}
	return hostBuilder, nil
}
