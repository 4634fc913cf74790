package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// ListPackages prints the native packages and every importable name known
// to the configured catalogue.
func ListPackages(ctx context.Context, opts Options, w io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	k, closeKernel, err := newKernel(ctx, cfg, createLogger(opts.Debug, true, cfg.LogLevel))
	if err != nil {
		return err
	}
	defer closeKernel()

	native := make(map[string]bool)
	fmt.Fprintln(w, "Native packages:")
	for _, name := range k.NativePackages() {
		native[name] = true
		fmt.Fprintln(w, "  "+name)
	}

	var external []string
	for _, name := range k.Importables() {
		if !native[name] {
			external = append(external, name)
		}
	}
	if len(external) == 0 {
		return nil
	}
	fmt.Fprintln(w, "External packages:")
	fmt.Fprintln(w, "  "+strings.Join(external, "\n  "))
	return nil
}
