package goja

import (
	"strings"

	"github.com/aretw0/basthon/pkg/ports"
	engine "github.com/dop251/goja"
)

// value is a guest value bound to the namespace that produced it.
type value struct {
	ns *Namespace
	v  engine.Value
}

func (v *value) String() string { return v.ns.textOf(v.v) }

func (v *value) Export() any {
	if v.v == nil {
		return nil
	}
	return v.v.Export()
}

func (v *value) IsUndefined() bool {
	return v.v == nil || engine.IsUndefined(v.v)
}

func (v *value) SameAs(other ports.Value) bool {
	o, ok := other.(*value)
	if !ok || v.v == nil || o.v == nil {
		return false
	}
	return v.v.StrictEquals(o.v)
}

// Method returns the named zero-argument method of an object value.
func (v *value) Method(name string) (func() (ports.Value, error), bool) {
	obj, ok := v.v.(*engine.Object)
	if !ok {
		return nil, false
	}
	fn, ok := engine.AssertFunction(obj.Get(name))
	if !ok {
		return nil, false
	}
	return func() (ports.Value, error) {
		res, err := fn(obj)
		if err != nil {
			return nil, err
		}
		return v.ns.wrap(res), nil
	}, true
}

// textOf renders a value the way a REPL echoes it: strings quoted, functions
// named, objects with their own toString through it, the rest as JSON.
func (n *Namespace) textOf(v engine.Value) (text string) {
	// A throwing toString or toJSON surfaces as a Go panic.
	defer func() {
		if r := recover(); r != nil {
			text = "[object]"
		}
	}()
	switch {
	case v == nil || engine.IsUndefined(v):
		return "undefined"
	case engine.IsNull(v):
		return "null"
	}
	if s, ok := v.Export().(string); ok {
		return quote(s)
	}
	obj, ok := v.(*engine.Object)
	if !ok {
		return v.String()
	}
	switch obj.ClassName() {
	case "Function":
		if name := obj.Get("name"); name != nil && name.String() != "" {
			return "[Function: " + name.String() + "]"
		}
		return "[Function (anonymous)]"
	case "Error", "Date", "RegExp":
		return obj.String()
	}
	if ts := obj.Get("toString"); ts != nil && !ts.StrictEquals(n.objectToString) && !ts.StrictEquals(n.arrayToString) {
		return obj.String()
	}
	if b, err := obj.MarshalJSON(); err == nil {
		return string(b)
	}
	return obj.String()
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return "'" + r.Replace(s) + "'"
}
