// Package hooks adapts freshly loaded packages to the kernel, typically by
// routing their rendering through display events.
package hooks

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/basthon/internal/logging"
	"github.com/aretw0/basthon/pkg/ports"
)

// Adapter adapts one loaded package. pkg is the host-side package object.
type Adapter interface {
	Adapt(pkg any, display ports.DisplayFunc) error
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(pkg any, display ports.DisplayFunc) error

func (f AdapterFunc) Adapt(pkg any, display ports.DisplayFunc) error { return f(pkg, display) }

// RenderAs routes a Renderable package's output to display events of displayType.
func RenderAs(displayType string) Adapter {
	return AdapterFunc(func(pkg any, display ports.DisplayFunc) error {
		r, ok := pkg.(ports.Renderable)
		if !ok {
			return fmt.Errorf("package %T is not renderable", pkg)
		}
		r.OnRender(func(_ string, content any) {
			display(displayType, content)
		})
		return nil
	})
}

// Registry maps package names to their adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Default returns a registry adapting the renderable native packages.
func Default(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	r.Register("svg", RenderAs("svg"))
	r.Register("table", RenderAs("html"))
	r.Register("markdown", RenderAs("markdown"))
	return r
}

// Register sets the adapter for name, replacing any previous one.
func (r *Registry) Register(name string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = a
}

// Has reports whether name has an adapter.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[name]
	return ok
}

// Apply runs the adapter of every name that has one. Names without an
// adapter, or whose package cannot be found, are skipped. Adapter failures
// are logged and joined into the returned error; they never stop the others.
func (r *Registry) Apply(names []string, lookup ports.PackageLookup, display ports.DisplayFunc) error {
	var errs []error
	for _, name := range names {
		r.mu.RLock()
		a, ok := r.adapters[name]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		pkg, ok := lookup.Package(name)
		if !ok {
			r.logger.Debug("Adapted package not found", "packages", name)
			continue
		}
		if err := a.Adapt(pkg, display); err != nil {
			r.logger.Warn("Package adaptation failed", "packages", name, "err", err)
			errs = append(errs, fmt.Errorf("adapting %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
