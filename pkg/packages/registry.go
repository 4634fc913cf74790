package packages

import (
	"sort"

	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/ports"
)

// Descriptor declares an externally installable package.
type Descriptor = domain.PackageDescriptor

// Catalogue is the static set of externally installable packages, by name.
type Catalogue map[string]Descriptor

// NewCatalogue indexes descriptors by name.
func NewCatalogue(descs ...Descriptor) Catalogue {
	c := make(Catalogue, len(descs))
	for _, d := range descs {
		c[d.Name] = d
	}
	return c
}

// Names returns the catalogue names, sorted.
func (c Catalogue) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classification splits names by install path.
type Classification struct {
	Native   []string
	External []string
}

// Registry answers which catalogue a name belongs to.
type Registry struct {
	native    ports.NativeIndex
	catalogue Catalogue
}

// NewRegistry creates a registry over the runtime's native index and the
// external catalogue.
func NewRegistry(native ports.NativeIndex, catalogue Catalogue) *Registry {
	if catalogue == nil {
		catalogue = Catalogue{}
	}
	return &Registry{native: native, catalogue: catalogue}
}

// Catalogue returns the external catalogue.
func (r *Registry) Catalogue() Catalogue { return r.catalogue }

// Descriptor returns the external descriptor of name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	d, ok := r.catalogue[name]
	return d, ok
}

// Classify partitions names into native and external, preserving input order
// and dropping duplicates and unknown names.
func (r *Registry) Classify(names []string) Classification {
	var c Classification
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		switch {
		case r.native != nil && r.native.IsNative(name):
			c.Native = append(c.Native, name)
		case r.hasExternal(name):
			c.External = append(c.External, name)
		}
	}
	return c
}

func (r *Registry) dependencies(name string) []string {
	if r.native != nil && r.native.IsNative(name) {
		return r.native.Requires(name)
	}
	return r.catalogue[name].DependsOn
}

func (r *Registry) hasExternal(name string) bool {
	_, ok := r.catalogue[name]
	return ok
}

// ExpandDependencies returns names together with their transitive declared
// dependencies, external or native. Each name is followed by its own
// dependencies, depth first. Cycles are cut at the first repeated name.
func (r *Registry) ExpandDependencies(names []string) []string {
	var out []string
	seen := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
		for _, dep := range r.dependencies(name) {
			visit(dep)
		}
	}
	for _, name := range names {
		visit(name)
	}
	return out
}
