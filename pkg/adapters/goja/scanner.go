package goja

import (
	"reflect"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// Scanner finds the packages a snippet requires without running it.
// Only require("name") calls with a single string literal count.
type Scanner struct{}

// FindImports returns the top-level package names required by code, in
// source order and without duplicates. Relative and absolute specifiers are
// skipped. Code that does not parse yields an error and no imports.
func (Scanner) FindImports(code string) ([]string, error) {
	prg, err := parser.ParseFile(nil, "", code, 0)
	if err != nil {
		return nil, err
	}
	var names []string
	seen := make(map[string]bool)
	walk(reflect.ValueOf(prg), make(map[visited]bool), func(call *ast.CallExpression) {
		name, ok := requiredName(call)
		if !ok || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	})
	return names, nil
}

func requiredName(call *ast.CallExpression) (string, bool) {
	callee, ok := call.Callee.(*ast.Identifier)
	if !ok || string(callee.Name) != "require" || len(call.ArgumentList) != 1 {
		return "", false
	}
	lit, ok := call.ArgumentList[0].(*ast.StringLiteral)
	if !ok {
		return "", false
	}
	return topLevel(string(lit.Value))
}

// topLevel maps a specifier to its package: "lodash/fp" is "lodash",
// "@scope/pkg/x" is "@scope/pkg".
func topLevel(spec string) (string, bool) {
	if spec == "" || strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") {
		return "", false
	}
	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") && len(parts) > 1 {
		return parts[0] + "/" + parts[1], true
	}
	return parts[0], true
}

// visited identifies a node; a struct and its first field share an address.
type visited struct {
	t reflect.Type
	p uintptr
}

// walk visits every call expression reachable through exported fields of the
// syntax tree. The goja AST has no generic visitor, so reflection it is.
func walk(v reflect.Value, seen map[visited]bool, visit func(*ast.CallExpression)) {
	switch v.Kind() {
	case reflect.Interface:
		if !v.IsNil() {
			walk(v.Elem(), seen, visit)
		}
	case reflect.Pointer:
		key := visited{v.Type(), v.Pointer()}
		if v.IsNil() || seen[key] {
			return
		}
		seen[key] = true
		if call, ok := v.Interface().(*ast.CallExpression); ok {
			visit(call)
		}
		walk(v.Elem(), seen, visit)
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).IsExported() {
				walk(v.Field(i), seen, visit)
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walk(v.Index(i), seen, visit)
		}
	}
}
