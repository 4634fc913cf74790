package goja

import (
	"fmt"
	"path"
	"sort"

	engine "github.com/dop251/goja"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// installerModule is the bootstrap package of external installs. In the
// guest it reports what has been installed.
type installerModule struct{}

func (installerModule) Name() string       { return DefaultBootstrap }
func (installerModule) Requires() []string { return nil }

func (installerModule) Instantiate(env Env) (engine.Value, error) {
	obj := env.VM.NewObject()
	method(obj, "installed", func(engine.FunctionCall) engine.Value {
		installed := env.Runtime.Installed()
		names := make([]any, 0, len(installed))
		for name := range installed {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool { return names[i].(string) < names[j].(string) })
		return env.VM.NewArray(names...)
	})
	method(obj, "locator", func(call engine.FunctionCall) engine.Value {
		if loc, ok := env.Runtime.Installed()[call.Argument(0).String()]; ok {
			return env.VM.ToValue(loc)
		}
		return engine.Undefined()
	})
	return obj, nil
}

// pathModule manipulates guest (slash) paths.
type pathModule struct{}

func (pathModule) Name() string       { return "path" }
func (pathModule) Requires() []string { return nil }

func (pathModule) Instantiate(env Env) (engine.Value, error) {
	obj := env.VM.NewObject()
	method(obj, "join", func(call engine.FunctionCall) engine.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		return env.VM.ToValue(path.Join(parts...))
	})
	unary := map[string]func(string) string{
		"basename":  path.Base,
		"dirname":   path.Dir,
		"extname":   path.Ext,
		"normalize": path.Clean,
	}
	for name, fn := range unary {
		method(obj, name, func(call engine.FunctionCall) engine.Value {
			return env.VM.ToValue(fn(call.Argument(0).String()))
		})
	}
	_ = obj.Set("sep", "/")
	return obj, nil
}

// fsModule reads and writes the guest filesystem.
type fsModule struct{}

func (fsModule) Name() string       { return "fs" }
func (fsModule) Requires() []string { return nil }

func (fsModule) Instantiate(env Env) (engine.Value, error) {
	rt := env.Runtime
	obj := env.VM.NewObject()
	method(obj, "readFileSync", func(call engine.FunctionCall) engine.Value {
		data, err := rt.ReadFile(call.Argument(0).String())
		if err != nil {
			env.Throw(err)
		}
		return env.VM.ToValue(string(data))
	})
	method(obj, "writeFileSync", func(call engine.FunctionCall) engine.Value {
		if err := rt.WriteFile(call.Argument(0).String(), []byte(call.Argument(1).String())); err != nil {
			env.Throw(err)
		}
		return engine.Undefined()
	})
	method(obj, "existsSync", func(call engine.FunctionCall) engine.Value {
		return env.VM.ToValue(rt.Exists(call.Argument(0).String()))
	})
	method(obj, "readdirSync", func(call engine.FunctionCall) engine.Value {
		names, err := rt.ReadDir(call.Argument(0).String())
		if err != nil {
			env.Throw(err)
		}
		items := make([]any, len(names))
		for i, n := range names {
			items[i] = n
		}
		return env.VM.NewArray(items...)
	})
	method(obj, "mkdirSync", func(call engine.FunctionCall) engine.Value {
		if err := rt.Mkdir(call.Argument(0).String()); err != nil {
			env.Throw(err)
		}
		return engine.Undefined()
	})
	return obj, nil
}

// yamlModule parses and emits YAML.
type yamlModule struct{}

func (yamlModule) Name() string       { return "yaml" }
func (yamlModule) Requires() []string { return nil }

func (yamlModule) Instantiate(env Env) (engine.Value, error) {
	obj := env.VM.NewObject()
	method(obj, "parse", func(call engine.FunctionCall) engine.Value {
		var out any
		if err := yaml.Unmarshal([]byte(call.Argument(0).String()), &out); err != nil {
			env.Throw(fmt.Errorf("yaml.parse: %w", err))
		}
		return env.VM.ToValue(out)
	})
	method(obj, "stringify", func(call engine.FunctionCall) engine.Value {
		b, err := yaml.Marshal(call.Argument(0).Export())
		if err != nil {
			env.Throw(fmt.Errorf("yaml.stringify: %w", err))
		}
		return env.VM.ToValue(string(b))
	})
	return obj, nil
}

// uuidModule generates and validates UUIDs.
type uuidModule struct{}

func (uuidModule) Name() string       { return "uuid" }
func (uuidModule) Requires() []string { return nil }

func (uuidModule) Instantiate(env Env) (engine.Value, error) {
	obj := env.VM.NewObject()
	method(obj, "v4", func(engine.FunctionCall) engine.Value {
		return env.VM.ToValue(uuid.NewString())
	})
	method(obj, "validate", func(call engine.FunctionCall) engine.Value {
		_, err := uuid.Parse(call.Argument(0).String())
		return env.VM.ToValue(err == nil)
	})
	_ = obj.Set("NIL", uuid.Nil.String())
	return obj, nil
}
