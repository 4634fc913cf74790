package kernel_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/basthon/pkg/ports"
	"github.com/aretw0/basthon/pkg/stream"
)

// fakeValue is a guest value. ref names the binding it was read from, which
// gives bindings an identity for SameAs.
type fakeValue struct {
	ref   string
	text  string
	undef bool
}

func (v *fakeValue) String() string    { return v.text }
func (v *fakeValue) Export() any       { return v.text }
func (v *fakeValue) IsUndefined() bool { return v.undef }
func (v *fakeValue) SameAs(o ports.Value) bool {
	other, ok := o.(*fakeValue)
	return ok && v.ref != "" && v.ref == other.ref
}
func (v *fakeValue) Method(string) (func() (ports.Value, error), bool) { return nil, false }

// fakeNamespace understands a tiny language:
//
//	undefined   -> the sentinel
//	Out         -> the Out binding
//	throw X     -> fault with message X
//	get NAME    -> the binding NAME
//	anything    -> a value whose text is the code
type fakeNamespace struct {
	mu       sync.Mutex
	bindings map[string]any
	closed   bool
}

func (n *fakeNamespace) Eval(ctx context.Context, code string) (ports.Value, error) {
	switch {
	case code == "undefined":
		return &fakeValue{undef: true}, nil
	case code == "Out":
		return &fakeValue{ref: "Out", text: "Out"}, nil
	case strings.HasPrefix(code, "throw "):
		return nil, errors.New(strings.TrimPrefix(code, "throw "))
	case strings.HasPrefix(code, "get "):
		return n.Get(strings.TrimPrefix(code, "get ")), nil
	}
	return &fakeValue{text: code}, nil
}

func (n *fakeNamespace) Set(name string, value any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bindings[name] = value
	return nil
}

func (n *fakeNamespace) Get(name string) ports.Value {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.bindings[name]
	if !ok {
		return nil
	}
	if pv, ok := v.(ports.Value); ok {
		return pv
	}
	return &fakeValue{ref: name, text: fmt.Sprint(v)}
}

func (n *fakeNamespace) binding(name string) any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bindings[name]
}

func (n *fakeNamespace) Close() error {
	n.closed = true
	return nil
}

type fakeInterpreter struct {
	namespaces []*fakeNamespace
	stdout     *stream.Channel
	stderr     *stream.Channel
}

func newFakeInterpreter() *fakeInterpreter {
	return &fakeInterpreter{
		stdout: stream.NewChannel("stdout", nil),
		stderr: stream.NewChannel("stderr", nil),
	}
}

func (f *fakeInterpreter) NewNamespace(context.Context) (ports.Namespace, error) {
	ns := &fakeNamespace{bindings: make(map[string]any)}
	f.namespaces = append(f.namespaces, ns)
	return ns, nil
}

func (f *fakeInterpreter) current() *fakeNamespace { return f.namespaces[len(f.namespaces)-1] }
func (f *fakeInterpreter) Stdout() *stream.Channel { return f.stdout }
func (f *fakeInterpreter) Stderr() *stream.Channel { return f.stderr }
