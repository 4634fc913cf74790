package goja

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aretw0/basthon/pkg/ports"
	engine "github.com/dop251/goja"
)

// cellName labels evaluated snippets in stack traces.
const cellName = "<cell>"

var errClosed = errors.New("namespace closed")

type moduleRecord struct {
	gen     uint64
	exports engine.Value
}

// Namespace is one interpreter VM over a Runtime.
type Namespace struct {
	rt      *Runtime
	vm      *engine.Runtime
	modules map[string]*moduleRecord
	closed  bool
	// ctx is the context of the running evaluation.
	ctx context.Context

	objectToString engine.Value
	arrayToString  engine.Value
}

func newNamespace(rt *Runtime) (*Namespace, error) {
	vm := engine.New()
	n := &Namespace{
		rt:      rt,
		vm:      vm,
		modules: make(map[string]*moduleRecord),
	}
	var err error
	if n.objectToString, err = vm.RunString("Object.prototype.toString"); err != nil {
		return nil, err
	}
	if n.arrayToString, err = vm.RunString("Array.prototype.toString"); err != nil {
		return nil, err
	}
	if err := n.installGlobals(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Namespace) installGlobals() error {
	console := n.vm.NewObject()
	for name, ch := range map[string]func(string){
		"log":   n.writeStdout,
		"info":  n.writeStdout,
		"debug": n.writeStdout,
		"error": n.writeStderr,
		"warn":  n.writeStderr,
	} {
		if err := console.Set(name, n.printer(ch)); err != nil {
			return err
		}
	}

	process := n.vm.NewObject()
	for name, ch := range map[string]func(string){"stdout": n.writeStdout, "stderr": n.writeStderr} {
		w := n.vm.NewObject()
		write := ch
		if err := w.Set("write", func(call engine.FunctionCall) engine.Value {
			write(call.Argument(0).String())
			return n.vm.ToValue(true)
		}); err != nil {
			return err
		}
		if err := process.Set(name, w); err != nil {
			return err
		}
	}

	globals := map[string]any{
		"console": console,
		"process": process,
		"print":   n.printer(n.writeStdout),
		"input":   n.readInput,
		"prompt":  n.readInput,
		"require": n.requireFrom("/"),
	}
	for name, v := range globals {
		if err := n.vm.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (n *Namespace) writeStdout(s string) { _, _ = n.rt.stdout.WriteString(s) }
func (n *Namespace) writeStderr(s string) { _, _ = n.rt.stderr.WriteString(s) }

// printer joins its arguments with spaces and ends the line. Strings are
// printed raw, other values in their textual form.
func (n *Namespace) printer(write func(string)) func(engine.FunctionCall) engine.Value {
	return func(call engine.FunctionCall) engine.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			if s, ok := arg.Export().(string); ok {
				parts[i] = s
				continue
			}
			parts[i] = n.textOf(arg)
		}
		write(strings.Join(parts, " ") + "\n")
		return engine.Undefined()
	}
}

// readInput asks the host for a line. The guest gets null when no provider
// is set or the host has nothing to give.
func (n *Namespace) readInput(call engine.FunctionCall) engine.Value {
	p := n.rt.inputProvider()
	if p == nil {
		return engine.Null()
	}
	var prompt string
	if arg := call.Argument(0); !engine.IsUndefined(arg) && !engine.IsNull(arg) {
		prompt = arg.String()
	}
	ctx := n.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	line, ok, err := p.ReadLine(ctx, prompt)
	if err != nil {
		panic(n.vm.NewGoError(fmt.Errorf("input: %w", err)))
	}
	if !ok {
		return engine.Null()
	}
	return n.vm.ToValue(line)
}

// requireFrom builds the require function of a module living in dir.
func (n *Namespace) requireFrom(dir string) func(engine.FunctionCall) engine.Value {
	return func(call engine.FunctionCall) engine.Value {
		exports, err := n.require(call.Argument(0).String(), dir)
		if err != nil {
			panic(n.vm.NewGoError(err))
		}
		return exports
	}
}

func (n *Namespace) require(name, dir string) (engine.Value, error) {
	if name == "" {
		return nil, errors.New("require: empty module name")
	}
	if strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") || strings.HasPrefix(name, "/") {
		p := name
		if !strings.HasPrefix(name, "/") {
			p = path.Join(dir, name)
		}
		file, err := n.rt.resolveFile(p)
		if err != nil {
			return nil, err
		}
		return n.loadFile(file)
	}

	if m, ok := n.rt.natives[name]; ok {
		if !n.rt.isEnabled(name) {
			return nil, fmt.Errorf("native package %q is not loaded", name)
		}
		return n.loadNative(m)
	}

	file, err := n.rt.resolve(name)
	if err != nil {
		return nil, err
	}
	return n.loadFile(file)
}

func (n *Namespace) loadNative(m Module) (engine.Value, error) {
	key := "native:" + m.Name()
	if rec, ok := n.modules[key]; ok {
		return rec.exports, nil
	}
	exports, err := m.Instantiate(Env{VM: n.vm, Runtime: n.rt, Namespace: n})
	if err != nil {
		return nil, fmt.Errorf("instantiating %s: %w", m.Name(), err)
	}
	n.modules[key] = &moduleRecord{exports: exports}
	return exports, nil
}

// loadFile runs a CommonJS module once per file generation. The record is
// stored before the module body runs so cyclic requires see the partial
// exports.
func (n *Namespace) loadFile(file string) (engine.Value, error) {
	gen := n.rt.generation(file)
	if rec, ok := n.modules[file]; ok && rec.gen == gen {
		return rec.exports, nil
	}
	src, err := n.rt.ReadFile(file)
	if err != nil {
		return nil, err
	}

	module := n.vm.NewObject()
	exports := n.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	rec := &moduleRecord{gen: gen, exports: exports}
	n.modules[file] = rec

	wrapped := "(function (exports, require, module, __filename, __dirname) {" + string(src) + "\n})"
	fnValue, err := n.vm.RunScript(file, wrapped)
	if err != nil {
		delete(n.modules, file)
		return nil, err
	}
	fn, ok := engine.AssertFunction(fnValue)
	if !ok {
		delete(n.modules, file)
		return nil, fmt.Errorf("module %s did not compile to a function", file)
	}
	dir := path.Dir(file)
	if _, err := fn(engine.Undefined(), exports, n.vm.ToValue(n.requireFrom(dir)), module, n.vm.ToValue(file), n.vm.ToValue(dir)); err != nil {
		delete(n.modules, file)
		return nil, err
	}
	rec.exports = module.Get("exports")
	return rec.exports, nil
}

// Eval runs code as a script. Top-level declarations persist across calls.
func (n *Namespace) Eval(ctx context.Context, code string) (ports.Value, error) {
	if n.closed {
		return nil, errClosed
	}
	stop := n.watch(ctx)
	n.ctx = ctx
	v, err := n.vm.RunScript(cellName, code)
	n.ctx = nil
	stop()
	if err != nil {
		return nil, n.translate(err)
	}
	return n.wrap(v), nil
}

// watch interrupts the VM when ctx ends. The returned function must be
// called once the script is over.
func (n *Namespace) watch(ctx context.Context) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
			n.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-finished
		n.vm.ClearInterrupt()
	}
}

func (n *Namespace) translate(err error) error {
	var interrupted *engine.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return fmt.Errorf("evaluation interrupted: %w", cause)
		}
		return fmt.Errorf("evaluation interrupted: %v", interrupted.Value())
	}
	return err
}

// Set binds a host value as a global.
func (n *Namespace) Set(name string, value any) error {
	if n.closed {
		return errClosed
	}
	return n.vm.Set(name, n.toGuest(value))
}

// Get returns a global, or nil when unbound.
func (n *Namespace) Get(name string) ports.Value {
	v := n.vm.Get(name)
	if v == nil {
		return nil
	}
	return n.wrap(v)
}

// Close drops the namespace. The runtime is untouched.
func (n *Namespace) Close() error {
	n.closed = true
	n.modules = make(map[string]*moduleRecord)
	return nil
}

// toGuest converts host values. Maps and slices become plain guest objects
// and arrays, Funcs become guest functions that throw on error.
func (n *Namespace) toGuest(v any) engine.Value {
	switch t := v.(type) {
	case nil:
		return engine.Null()
	case engine.Value:
		return t
	case *value:
		return t.v
	case ports.Value:
		return n.vm.ToValue(t.Export())
	case ports.Func:
		return n.vm.ToValue(func(call engine.FunctionCall) engine.Value {
			args := make([]ports.Value, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = n.wrap(a)
			}
			res, err := t(args)
			if err != nil {
				panic(n.vm.NewGoError(err))
			}
			if res == nil {
				return engine.Undefined()
			}
			return n.toGuest(res)
		})
	case map[string]any:
		obj := n.vm.NewObject()
		for k, x := range t {
			_ = obj.Set(k, n.toGuest(x))
		}
		return obj
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return n.vm.NewArray(items...)
	case []any:
		items := make([]any, len(t))
		for i, x := range t {
			items[i] = n.toGuest(x)
		}
		return n.vm.NewArray(items...)
	default:
		return n.vm.ToValue(v)
	}
}

func (n *Namespace) wrap(v engine.Value) *value {
	return &value{ns: n, v: v}
}
