package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
)

// ErrUnknownKind is returned by the Create methods when no factory has been
// registered under the requested engine name or source kind.
var ErrUnknownKind = errors.New("config: kind not registered")

// EngineFactory builds a transcription engine from its config entry.
type EngineFactory func(EngineEntry) (stt.Engine, error)

// DeviceFactory builds the capture device of a source.
type DeviceFactory func(SourceConfig) (audio.Device, error)

// Registry maps engine names and source kinds to their constructors.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]EngineFactory
	devices map[SourceKind]DeviceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]EngineFactory),
		devices: make(map[SourceKind]DeviceFactory),
	}
}

// RegisterEngine registers an engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEngine(name string, factory EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// RegisterDevice registers a device factory for kind.
func (r *Registry) RegisterDevice(kind SourceKind, factory DeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[kind] = factory
}

// CreateEngine instantiates the engine registered under entry.Name.
func (r *Registry) CreateEngine(entry EngineEntry) (stt.Engine, error) {
	r.mu.RLock()
	factory, ok := r.engines[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine %q", ErrUnknownKind, entry.Name)
	}
	e, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create engine %q: %w", entry.Name, err)
	}
	return e, nil
}

// CreateDevice instantiates the device registered for src.Kind.
func (r *Registry) CreateDevice(src SourceConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.devices[src.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source kind %q", ErrUnknownKind, src.Kind)
	}
	d, err := factory(src)
	if err != nil {
		return nil, fmt.Errorf("config: create source %q: %w", src.Name, err)
	}
	return d, nil
}
