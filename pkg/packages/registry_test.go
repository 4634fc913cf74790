package packages_test

import (
	"testing"

	"github.com/aretw0/basthon/pkg/packages"
	"github.com/stretchr/testify/assert"
)

func testRegistry() *packages.Registry {
	native := staticIndex{"installer": nil, "yaml": nil, "svg": nil, "dual": nil, "table": {"markdown"}, "markdown": nil}
	catalogue := packages.NewCatalogue(
		packages.Descriptor{Name: "chart", Locator: "https://cdn.example/chart.js", DependsOn: []string{"color", "yaml"}},
		packages.Descriptor{Name: "color", Locator: "https://cdn.example/color.js", DependsOn: []string{"chart"}},
		packages.Descriptor{Name: "lodash", Locator: "https://cdn.example/lodash.js"},
		packages.Descriptor{Name: "dual", Locator: "https://cdn.example/dual.js"},
	)
	return packages.NewRegistry(native, catalogue)
}

func TestRegistry_Classify(t *testing.T) {
	r := testRegistry()
	c := r.Classify([]string{"yaml", "lodash", "unknown", "dual", "yaml", "chart"})

	assert.Equal(t, []string{"yaml", "dual"}, c.Native, "a name in both catalogues is native")
	assert.Equal(t, []string{"lodash", "chart"}, c.External)
}

func TestRegistry_ClassifyEmpty(t *testing.T) {
	c := testRegistry().Classify(nil)
	assert.Empty(t, c.Native)
	assert.Empty(t, c.External)
}

func TestRegistry_ExpandDependencies(t *testing.T) {
	r := testRegistry()

	assert.Equal(t, []string{"lodash"}, r.ExpandDependencies([]string{"lodash"}))
	assert.Equal(t, []string{"chart", "color", "yaml"}, r.ExpandDependencies([]string{"chart"}), "cycle chart<->color is cut")
	assert.Equal(t, []string{"lodash", "chart", "color", "yaml"}, r.ExpandDependencies([]string{"lodash", "chart", "lodash"}))
	assert.Equal(t, []string{"table", "markdown"}, r.ExpandDependencies([]string{"table"}), "native dependencies expand too")
}

func TestCatalogue_Names(t *testing.T) {
	assert.Equal(t, []string{"chart", "color", "dual", "lodash"}, testRegistry().Catalogue().Names())
}
