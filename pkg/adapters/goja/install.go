package goja

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/aretw0/basthon/pkg/domain"
	"golang.org/x/sync/errgroup"
)

// maxPackageSize bounds a fetched external package.
const maxPackageSize = 32 << 20

// LoadNative enables native packages, their native dependencies first.
func (r *Runtime) LoadNative(ctx context.Context, names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if err := r.enable(name, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

// enable is called with mu held. visiting cuts dependency cycles.
func (r *Runtime) enable(name string, visiting map[string]bool) error {
	if r.enabled[name] || visiting[name] {
		return nil
	}
	m, ok := r.natives[name]
	if !ok {
		return fmt.Errorf("native package %q: %w", name, domain.ErrModuleNotFound)
	}
	visiting[name] = true
	for _, dep := range m.Requires() {
		if err := r.enable(dep, visiting); err != nil {
			return fmt.Errorf("%s requires %w", name, err)
		}
	}
	r.enabled[name] = true
	r.logger.Debug("Native package enabled", "packages", name)
	return nil
}

// InstallExternal fetches every package of the batch concurrently, then
// writes each to /site-packages/<name>/index.js. Nothing is installed when
// any fetch fails.
func (r *Runtime) InstallExternal(ctx context.Context, pkgs []domain.PackageDescriptor) error {
	if !r.isEnabled(r.bootstrap) {
		return domain.ErrBootstrapMissing
	}

	sources := make([][]byte, len(pkgs))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pkgs {
		g.Go(func() error {
			src, err := r.fetch(gctx, p.Locator)
			if err != nil {
				return fmt.Errorf("fetching %s from %s: %w", p.Name, p.Locator, err)
			}
			sources[i] = src
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, p := range pkgs {
		if err := r.WriteFile(path.Join(SitePackages, p.Name, "index.js"), sources[i]); err != nil {
			return fmt.Errorf("installing %s: %w", p.Name, err)
		}
		r.mu.Lock()
		r.installed[p.Name] = p.Locator
		r.mu.Unlock()
		r.logger.Debug("External package installed", "packages", p.Name, "path", p.Locator)
	}
	return nil
}

// fetch reads a package source. http(s) locators are downloaded; file://
// URLs and plain paths are read from the host filesystem.
func (r *Runtime) fetch(ctx context.Context, locator string) ([]byte, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// No scheme, or a Windows drive letter.
		return os.ReadFile(locator)
	}
	switch u.Scheme {
	case "file":
		return os.ReadFile(u.Path)
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
		if err != nil {
			return nil, err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxPackageSize))
	default:
		return nil, fmt.Errorf("unsupported locator scheme %q", u.Scheme)
	}
}
