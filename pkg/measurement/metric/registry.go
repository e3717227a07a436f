// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metric

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// SupportedPluginVersion is the core's declared plugin ABI version. A
// source whose declared major version exceeds this by more than one is
// refused outright (spec.md §4.8).
const SupportedPluginVersion = 100 // major 1, minor 0

// Registry holds every registered metric Source, keyed by name, mirroring
// the teacher's collector registry: a flat map guarded by a mutex, with
// duplicate registration rejected.
type Registry struct {
	mu      sync.Mutex
	sources map[string]Source
	logger  logr.Logger
}

// NewRegistry creates an empty metric source registry.
func NewRegistry(logger logr.Logger) *Registry {
	return &Registry{
		sources: make(map[string]Source),
		logger:  logger.WithName("metric-registry"),
	}
}

// Register adds src to the registry. It rejects a duplicate name and a
// source whose declared plugin version is a major-version jump ahead of
// what the core supports.
func (r *Registry) Register(src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := src.Info()
	if _, exists := r.sources[info.Name]; exists {
		return fmt.Errorf("metric: source %q already registered", info.Name)
	}
	if majorVersion(info.Version) > majorVersion(SupportedPluginVersion)+1 {
		return fmt.Errorf("metric: source %q declares plugin version %d, more than one major version ahead of supported %d",
			info.Name, info.Version, SupportedPluginVersion)
	}

	r.sources[info.Name] = src
	r.logger.Info("registered metric source", "name", info.Name, "class", info.Class)
	return nil
}

func majorVersion(v int) int { return v / 100 }

// Get returns the named source, if registered.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[name]
	return s, ok
}

// All returns every registered source.
func (r *Registry) All() []Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// FinalizeAll finalizes every registered source, collecting (not
// aborting on) the first error.
func (r *Registry) FinalizeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, s := range r.sources {
		if err := s.Finalize(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("metric: finalizing source %q: %w", name, err)
		}
	}
	return firstErr
}
