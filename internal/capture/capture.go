// Package capture provides installable hooks against audio APIs. A device
// forwards every completed buffer's PCM bytes to a format sink until it is
// closed.
package capture

import (
	"log/slog"
	"sync"

	"github.com/reccapture/recc/internal/wave"
)

// Device is an installed capture hook. Closing it uninstalls the hook and
// stops delivery into the sink.
type Device interface {
	Close() error
}

// Factory installs a hook for one audio API. The mutex is the agent's
// global lock; the hook acquires it around every delivery so the sink is
// never touched concurrently with the entry points.
type Factory func(mu *sync.Mutex, log *slog.Logger, sink wave.Sink) (Device, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]Factory)
)

// Register makes a capture implementation available under an API tag.
func Register(api string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[api] = f
}

// Lookup returns the factory for an API tag, or nil if unknown.
func Lookup(api string) Factory {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[api]
}
