// Package decode defines the contract the pipeline consumes frames
// through. The real network/hardware decode engine lives behind the Engine
// interface; this package also ships a simulated engine for demos and
// tests.
package decode

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bryanchriswhite/DepthStreamer/internal/config"
	"github.com/bryanchriswhite/DepthStreamer/internal/frame"
)

// Status classifies the outcome of a single blocking receive.
type Status int

const (
	// StatusOK means the result carries a fresh frame set.
	StatusOK Status = iota
	// StatusTimeout means no data arrived within the receive timeout.
	// Not an error; the caller re-iterates.
	StatusTimeout
	// StatusFatal means the engine can no longer produce frames.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusFatal:
		return "fatal"
	}
	return "unknown"
}

// Result is one receive cycle's outcome. On StatusOK, Frames has one entry
// per configured decoder; entries may be nil when that decoder produced
// nothing this cycle. Frames remain valid until the next Receive call;
// holders that need them longer must Retain them.
type Result struct {
	Status Status
	Frames []*frame.Frame
	Err    error // populated on StatusFatal
}

// Engine is the decode-and-receive collaborator. Receive blocks for at
// most the engine's configured timeout. Implementations must make Receive
// return promptly once Close has been called.
type Engine interface {
	// Receive blocks until a frame set arrives, the receive timeout
	// elapses, or the engine fails.
	Receive() Result

	// Close releases decoder and network resources. Idempotent.
	Close() error

	// Name identifies the backend for diagnostics.
	Name() string
}

// Factory constructs an engine for a given network and decoder setup.
type Factory func(net config.NetConfig, decoders []config.DecoderConfig) (Engine, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes an engine backend available to Open under the given
// hardware name.
func Register(hardware string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[hardware] = f
}

// Open constructs the engine selected by the first decoder's hardware
// name. All decoders of one pipeline share a single engine, mirroring the
// one-receiver-many-decoders layout of the network decoder.
func Open(net config.NetConfig, decoders []config.DecoderConfig) (Engine, error) {
	if len(decoders) == 0 {
		return nil, fmt.Errorf("decode: no decoders configured")
	}

	factoryMu.RLock()
	f, ok := factories[decoders[0].Hardware]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decode: hardware backend %q not available (have: %v)",
			decoders[0].Hardware, registered())
	}
	return f(net, decoders)
}

func registered() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
