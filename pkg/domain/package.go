package domain

// PackageKind tells which install path serves a package.
type PackageKind string

const (
	KindNative   PackageKind = "native"
	KindExternal PackageKind = "external"
)

// PackageDescriptor declares an externally installable package.
type PackageDescriptor struct {
	Name      string   `yaml:"name" json:"name" mapstructure:"name"`
	Locator   string   `yaml:"locator" json:"locator" mapstructure:"locator"`
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty" mapstructure:"depends_on"`
}
