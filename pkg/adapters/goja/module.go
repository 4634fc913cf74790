package goja

import (
	"sync"

	engine "github.com/dop251/goja"
)

// Module is a native package implemented in Go.
type Module interface {
	Name() string
	// Requires lists native packages that must be enabled first.
	Requires() []string
	// Instantiate builds the package's exports for one namespace.
	Instantiate(env Env) (engine.Value, error)
}

// Env is what a native package sees of the namespace requiring it.
type Env struct {
	VM        *engine.Runtime
	Runtime   *Runtime
	Namespace *Namespace
}

// Print writes a line to the guest's stdout.
func (e Env) Print(s string) { e.Namespace.writeStdout(s + "\n") }

// Throw raises err as a guest exception.
func (e Env) Throw(err error) { panic(e.VM.NewGoError(err)) }

// DefaultModules returns the built-in native catalogue.
func DefaultModules() []Module {
	md := &markdownModule{}
	return []Module{
		installerModule{},
		pathModule{},
		fsModule{},
		yamlModule{},
		uuidModule{},
		md,
		&svgModule{},
		&tableModule{markdown: md},
	}
}

// renderHook lets the host take over a package's rendering. It implements
// ports.Renderable.
type renderHook struct {
	mu sync.RWMutex
	fn func(displayType string, content any)
}

// OnRender installs fn as the package's display function.
func (h *renderHook) OnRender(fn func(displayType string, content any)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fn = fn
}

// render hands content to the host. It reports false when no host is listening.
func (h *renderHook) render(displayType string, content any) bool {
	h.mu.RLock()
	fn := h.fn
	h.mu.RUnlock()
	if fn == nil {
		return false
	}
	fn(displayType, content)
	return true
}

// method adds a native method to obj.
func method(obj *engine.Object, name string, fn func(engine.FunctionCall) engine.Value) {
	_ = obj.Set(name, fn)
}
