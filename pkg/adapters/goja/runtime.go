package goja

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/basthon/internal/logging"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/ports"
	"github.com/aretw0/basthon/pkg/stream"
)

// SitePackages is the guest directory external packages are installed into.
const SitePackages = "/site-packages"

// DefaultBootstrap is the native package external installs depend on.
const DefaultBootstrap = "installer"

// Runtime is the guest runtime process.
type Runtime struct {
	root      string
	ownsRoot  bool
	bootstrap string
	client    *http.Client
	logger    *slog.Logger
	stdout    *stream.Channel
	stderr    *stream.Channel
	natives   map[string]Module
	scanner   Scanner

	mu         sync.RWMutex
	input      ports.InputProvider
	enabled    map[string]bool
	installed  map[string]string
	searchPath []string
	gens       map[string]uint64
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithRoot roots the guest filesystem in dir. By default a temporary
// directory is created and removed on Close.
func WithRoot(dir string) Option {
	return func(r *Runtime) { r.root = dir }
}

// WithModules adds native packages to the catalogue, replacing same-named ones.
func WithModules(mods ...Module) Option {
	return func(r *Runtime) {
		for _, m := range mods {
			r.natives[m.Name()] = m
		}
	}
}

// WithBootstrap sets the native package external installs depend on.
func WithBootstrap(name string) Option {
	return func(r *Runtime) {
		if name != "" {
			r.bootstrap = name
		}
	}
}

// WithHTTPClient sets the client used to fetch external packages.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runtime) {
		if c != nil {
			r.client = c
		}
	}
}

// WithOutput sets where guest output goes when no evaluation captures it.
func WithOutput(stdout, stderr stream.Writer) Option {
	return func(r *Runtime) {
		if stdout != nil {
			r.stdout.Swap(stdout)
		}
		if stderr != nil {
			r.stderr.Swap(stderr)
		}
	}
}

// WithInput sets who answers the guest input() and prompt() calls.
func WithInput(p ports.InputProvider) Option {
	return func(r *Runtime) { r.input = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a guest runtime with the default native catalogue.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		bootstrap: DefaultBootstrap,
		client:    http.DefaultClient,
		logger:    logging.NewNop(),
		stdout:    stream.NewChannel("stdout", nil),
		stderr:    stream.NewChannel("stderr", nil),
		natives:   make(map[string]Module),
		enabled:   make(map[string]bool),
		installed: make(map[string]string),
		gens:      make(map[string]uint64),
	}
	for _, m := range DefaultModules() {
		r.natives[m.Name()] = m
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.root == "" {
		dir, err := os.MkdirTemp("", "basthon-*")
		if err != nil {
			return nil, fmt.Errorf("creating guest root: %w", err)
		}
		r.root = dir
		r.ownsRoot = true
	}
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return nil, fmt.Errorf("creating guest root: %w", err)
	}
	return r, nil
}

// Close removes the guest root when the runtime created it.
func (r *Runtime) Close() error {
	if r.ownsRoot {
		return os.RemoveAll(r.root)
	}
	return nil
}

// Root returns the host directory backing the guest filesystem.
func (r *Runtime) Root() string { return r.root }

// Stdout is the guest's standard output channel.
func (r *Runtime) Stdout() *stream.Channel { return r.stdout }

// Stderr is the guest's standard error channel.
func (r *Runtime) Stderr() *stream.Channel { return r.stderr }

// NewNamespace creates a fresh interpreter over this runtime.
func (r *Runtime) NewNamespace(ctx context.Context) (ports.Namespace, error) {
	return newNamespace(r)
}

// FindImports lists the packages code requires.
func (r *Runtime) FindImports(code string) ([]string, error) {
	return r.scanner.FindImports(code)
}

// IsNative reports whether name is in the native catalogue.
func (r *Runtime) IsNative(name string) bool {
	_, ok := r.natives[name]
	return ok
}

// NativePackages returns the native catalogue, sorted.
func (r *Runtime) NativePackages() []string {
	names := make([]string, 0, len(r.natives))
	for name := range r.natives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Requires returns the native dependencies of a native package.
func (r *Runtime) Requires(name string) []string {
	if m, ok := r.natives[name]; ok {
		return m.Requires()
	}
	return nil
}

// Package returns the host-side object of an enabled native package.
func (r *Runtime) Package(name string) (any, bool) {
	if !r.isEnabled(name) {
		return nil, false
	}
	m, ok := r.natives[name]
	return m, ok
}

func (r *Runtime) isEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[name]
}

// Installed returns the installed external packages and their locators.
func (r *Runtime) Installed() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.installed))
	for k, v := range r.installed {
		out[k] = v
	}
	return out
}

func (r *Runtime) isInstalled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.installed[name]
	return ok
}

// hostPath maps a guest path into the root. Cleaning against "/" keeps ".."
// from escaping it.
func (r *Runtime) hostPath(guest string) string {
	return filepath.Join(r.root, filepath.FromSlash(cleanGuest(guest)))
}

func cleanGuest(p string) string {
	return path.Clean("/" + p)
}

// WriteFile creates or replaces a guest file, creating parent directories.
func (r *Runtime) WriteFile(p string, data []byte) error {
	host := r.hostPath(p)
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(host, data, 0o644); err != nil {
		return err
	}
	r.mu.Lock()
	r.gens[cleanGuest(p)]++
	r.mu.Unlock()
	return nil
}

// ReadFile reads a guest file.
func (r *Runtime) ReadFile(p string) ([]byte, error) {
	return os.ReadFile(r.hostPath(p))
}

// Exists reports whether a guest path exists.
func (r *Runtime) Exists(p string) bool {
	_, err := os.Stat(r.hostPath(p))
	return err == nil
}

// ReadDir lists a guest directory.
func (r *Runtime) ReadDir(p string) ([]string, error) {
	entries, err := os.ReadDir(r.hostPath(p))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// Mkdir creates a guest directory and its parents.
func (r *Runtime) Mkdir(p string) error {
	return os.MkdirAll(r.hostPath(p), 0o755)
}

func (r *Runtime) generation(p string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gens[cleanGuest(p)]
}

// PrependSearchPath puts dir first in the module search path. A directory
// already present moves to the front.
func (r *Runtime) PrependSearchPath(dir string) {
	dir = cleanGuest(dir)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{dir}
	for _, d := range r.searchPath {
		if d != dir {
			out = append(out, d)
		}
	}
	r.searchPath = out
}

// SearchPath returns the module search path, most recent first.
func (r *Runtime) SearchPath() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.searchPath...)
}

// Importables lists every name require can resolve without a path: native
// packages, installed externals and modules on the search path.
func (r *Runtime) Importables() []string {
	seen := make(map[string]bool)
	for name := range r.natives {
		seen[name] = true
	}
	for name := range r.Installed() {
		seen[name] = true
	}
	for _, dir := range r.SearchPath() {
		entries, err := os.ReadDir(r.hostPath(dir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			switch {
			case e.IsDir() && r.Exists(path.Join(dir, e.Name(), "index.js")):
				seen[e.Name()] = true
			case !e.IsDir() && strings.HasSuffix(e.Name(), ".js"):
				seen[strings.TrimSuffix(e.Name(), ".js")] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolve finds the guest file a bare module name refers to.
func (r *Runtime) resolve(name string) (string, error) {
	for _, dir := range r.SearchPath() {
		for _, candidate := range []string{path.Join(dir, name+".js"), path.Join(dir, name, "index.js")} {
			if r.isFile(candidate) {
				return candidate, nil
			}
		}
	}
	top := name
	if i := strings.Index(name, "/"); i > 0 && !strings.HasPrefix(name, "@") {
		top = name[:i]
	}
	if r.isInstalled(top) {
		candidate := path.Join(SitePackages, name, "index.js")
		if top != name {
			candidate = path.Join(SitePackages, name+".js")
		}
		if r.isFile(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cannot find module %q: %w", name, domain.ErrModuleNotFound)
}

// resolveFile finds the guest file a path specifier refers to.
func (r *Runtime) resolveFile(p string) (string, error) {
	for _, candidate := range []string{p, p + ".js", path.Join(p, "index.js")} {
		if r.isFile(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cannot find module %q: %w", p, domain.ErrModuleNotFound)
}

func (r *Runtime) isFile(p string) bool {
	info, err := os.Stat(r.hostPath(p))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Debug("Stat failed", "path", p, "err", err)
		}
		return false
	}
	return !info.IsDir()
}

// SetInput replaces the input provider and returns the previous one. A nil
// provider makes input() return null.
func (r *Runtime) SetInput(p ports.InputProvider) ports.InputProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.input
	r.input = p
	return prev
}

func (r *Runtime) inputProvider() ports.InputProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.input
}
