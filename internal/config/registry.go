package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/versecatch/pkg/provider/detect"
)

// ErrProviderNotRegistered is returned by [Registry.CreateDetector] when no
// factory has been registered under the requested detector name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// DetectorFactory builds a detector from its configuration block.
type DetectorFactory func(DetectorEntry) (detect.Provider, error)

// Registry maps detector names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	detectors map[string]DetectorFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[string]DetectorFactory)}
}

// RegisterDetector registers a detector factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDetector(name string, factory DetectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors[name] = factory
}

// CreateDetector instantiates the detector selected by entry.Name.
func (r *Registry) CreateDetector(entry DetectorEntry) (detect.Provider, error) {
	r.mu.RLock()
	factory, ok := r.detectors[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: detector %q", ErrProviderNotRegistered, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create detector %q: %w", entry.Name, err)
	}
	return p, nil
}

// DetectorNames returns the registered detector names in sorted order.
func (r *Registry) DetectorNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.detectors))
	for n := range r.detectors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
