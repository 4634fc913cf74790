// Package config loads basthon.yaml.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/packages"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the file read when no --config flag is given.
const DefaultPath = "basthon.yaml"

// Config is the kernel and host configuration.
type Config struct {
	RootDir          string              `mapstructure:"root_dir"`
	ModulesRoot      string              `mapstructure:"modules_root"`
	ModuleExtensions []string            `mapstructure:"module_extensions"`
	BootstrapPackage string              `mapstructure:"bootstrap_package"`
	EvalTimeout      time.Duration       `mapstructure:"eval_timeout"`
	LogLevel         string              `mapstructure:"log_level"`
	Port             int                 `mapstructure:"port"`
	Packages         map[string]any      `mapstructure:"packages"`
	ExtraDeps        map[string][]string `mapstructure:"extra_deps"`
	Backup           Backup              `mapstructure:"backup"`
}

// Backup configures the backup store.
type Backup struct {
	Driver        string        `mapstructure:"driver"`
	Dir           string        `mapstructure:"dir"`
	RedisURL      string        `mapstructure:"redis_url"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	EncryptionKey string        `mapstructure:"encryption_key"`
	Redact        []string      `mapstructure:"redact"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		ModulesRoot:      "basthon_user_modules",
		ModuleExtensions: []string{".js"},
		BootstrapPackage: "installer",
		LogLevel:         "info",
		Port:             8080,
		Backup: Backup{
			Driver: "memory",
			Dir:    ".basthon/backups",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// ${VAR} references are expanded from the environment before parsing.
// JSON files are accepted too, since YAML is a superset.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration bytes over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decode(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// Catalogue builds the external package catalogue. An entry is either a bare
// locator string or a record with locator and depends_on.
func (c Config) Catalogue() (packages.Catalogue, error) {
	names := make([]string, 0, len(c.Packages))
	for name := range c.Packages {
		names = append(names, name)
	}
	sort.Strings(names)

	descs := make([]packages.Descriptor, 0, len(names))
	for _, name := range names {
		var d domain.PackageDescriptor
		switch v := c.Packages[name].(type) {
		case string:
			d.Locator = v
		default:
			if err := decode(v, &d); err != nil {
				return nil, fmt.Errorf("package %q: %w", name, err)
			}
		}
		d.Name = name
		if d.Locator == "" {
			return nil, fmt.Errorf("package %q: missing locator", name)
		}
		descs = append(descs, d)
	}
	return packages.NewCatalogue(descs...), nil
}

// Key decodes the base64 backup encryption key. An empty key disables
// encryption.
func (b Backup) Key() ([]byte, error) {
	if b.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(b.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption_key: want 32 bytes, got %d", len(key))
	}
	return key, nil
}
