package goja_test

import (
	"testing"

	"github.com/aretw0/basthon/pkg/adapters/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanner_FindImports(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{
		{"none", "1 + 1", nil},
		{"single", `const _ = require("lodash")`, []string{"lodash"}},
		{"order and duplicates", `
			var a = require('yaml');
			var b = require("svg");
			var c = require("yaml");`, []string{"yaml", "svg"}},
		{"sub path", `require("lodash/fp")`, []string{"lodash"}},
		{"scoped", `require("@scope/pkg/deep")`, []string{"@scope/pkg"}},
		{"relative and absolute skipped", `require("./local"); require("../up"); require("/abs/x")`, nil},
		{"nested in functions", `function f() { return () => require("uuid") }`, []string{"uuid"}},
		{"dynamic specifier ignored", `var n = "x"; require(n); require("a", "b")`, nil},
		{"member call ignored", `obj.require("x")`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := goja.Scanner{}.FindImports(tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScanner_SyntaxErrorYieldsNothing(t *testing.T) {
	got, err := goja.Scanner{}.FindImports(`require("lodash"); (`)
	assert.Error(t, err)
	assert.Empty(t, got)
}
