package ports

import (
	"context"

	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/stream"
)

// Value is a guest value held by the host.
type Value interface {
	// String returns the value's default textual form.
	String() string
	// Export converts the value to a plain Go value.
	Export() any
	// IsUndefined reports whether the value is the "no value produced" sentinel.
	IsUndefined() bool
	// SameAs reports whether both values are the identical guest object.
	SameAs(other Value) bool
	// Method returns a zero-argument callable for the named method, if present.
	Method(name string) (func() (Value, error), bool)
}

// Func is a host function exposed to guest code.
type Func func(args []Value) (any, error)

// Namespace is one evaluation environment.
// Implementations are not safe for concurrent use.
type Namespace interface {
	// Eval runs code and returns its completion value.
	// Cancelling ctx interrupts the running code.
	Eval(ctx context.Context, code string) (Value, error)
	// Set binds name to a host value. Maps, slices, Funcs and Values are
	// converted to guest objects.
	Set(name string, value any) error
	// Get returns the binding for name, or nil when unbound.
	Get(name string) Value
	// Close releases the namespace.
	Close() error
}

// Interpreter is the guest runtime process. It outlives namespaces.
type Interpreter interface {
	NewNamespace(ctx context.Context) (Namespace, error)
	Stdout() *stream.Channel
	Stderr() *stream.Channel
}

// InputProvider answers guest requests for a line of input.
type InputProvider interface {
	// ReadLine shows prompt and returns the line entered, without its line
	// ending. ok is false when the host has no line to give.
	ReadLine(ctx context.Context, prompt string) (line string, ok bool, err error)
}

// ImportScanner statically lists the top-level modules a snippet imports.
type ImportScanner interface {
	FindImports(code string) ([]string, error)
}

// NativeIndex answers whether a name belongs to the runtime's own catalogue.
type NativeIndex interface {
	IsNative(name string) bool
	NativePackages() []string
	// Requires lists the native packages name depends on.
	Requires(name string) []string
}

// Installer holds the runtime's package install primitives.
type Installer interface {
	// LoadNative enables a batch of runtime-native packages.
	LoadNative(ctx context.Context, names []string) error
	// InstallExternal fetches and installs a batch of external packages.
	InstallExternal(ctx context.Context, pkgs []domain.PackageDescriptor) error
}

// PackageLookup returns the host-side object of a loaded package.
type PackageLookup interface {
	Package(name string) (any, bool)
}

// Renderable is implemented by packages whose output can be shown by the host.
type Renderable interface {
	OnRender(fn func(displayType string, content any))
}

// DisplayFunc publishes a display event of the given type.
type DisplayFunc func(displayType string, content any)
