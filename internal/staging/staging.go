// Package staging places host-provided files and modules into the guest
// filesystem.
package staging

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/aretw0/basthon/internal/logging"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/ports"
)

// DefaultModulesRoot is the guest directory staged modules live under.
const DefaultModulesRoot = "/basthon_user_modules"

// DefaultModuleExtensions marks which resources are staged as modules.
var DefaultModuleExtensions = []string{".js"}

// DependencyLoader loads the packages a source imports.
type DependencyLoader interface {
	LoadDependencies(ctx context.Context, code string) error
}

// Stager stages files and modules.
type Stager struct {
	fs         ports.FileSystem
	deps       DependencyLoader
	downloader ports.Downloader
	root       string
	extensions []string
	logger     *slog.Logger
}

// Option configures a Stager.
type Option func(*Stager)

// WithModulesRoot sets the guest directory modules are staged under.
func WithModulesRoot(root string) Option {
	return func(s *Stager) {
		if root != "" {
			s.root = path.Clean("/" + root)
		}
	}
}

// WithModuleExtensions sets which resource extensions are staged as modules.
func WithModuleExtensions(exts ...string) Option {
	return func(s *Stager) {
		if len(exts) > 0 {
			s.extensions = exts
		}
	}
}

// WithDownloader sets who receives Download requests.
func WithDownloader(d ports.Downloader) Option {
	return func(s *Stager) { s.downloader = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stager) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Stager over the guest filesystem.
func New(fs ports.FileSystem, deps DependencyLoader, opts ...Option) *Stager {
	s := &Stager{
		fs:         fs,
		deps:       deps,
		root:       DefaultModulesRoot,
		extensions: DefaultModuleExtensions,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutFile writes data at p, creating parent directories and replacing any
// existing file.
func (s *Stager) PutFile(p string, data []byte) error {
	if err := s.fs.WriteFile(p, data); err != nil {
		return &domain.StagingError{Op: "put file", Path: p, Err: err}
	}
	s.logger.Debug("File staged", "path", p)
	return nil
}

// PutModule makes source importable under the basename of filename. The
// packages it imports are loaded first; the module directory then goes to
// the front of the search path, so the latest staging of a name wins.
func (s *Stager) PutModule(ctx context.Context, filename string, source []byte) error {
	base := moduleName(filename)
	dir := path.Join(s.root, base)
	target := path.Join(dir, path.Base(filename))

	if s.deps != nil {
		if err := s.deps.LoadDependencies(ctx, string(source)); err != nil {
			return &domain.StagingError{Op: "put module", Path: target, Err: err}
		}
	}
	if err := s.fs.WriteFile(target, source); err != nil {
		return &domain.StagingError{Op: "put module", Path: target, Err: err}
	}
	s.fs.PrependSearchPath(dir)
	s.logger.Info("Module staged", "path", target)
	return nil
}

// PutResource stages a module when filename has a module extension and a
// plain file otherwise.
func (s *Stager) PutResource(ctx context.Context, filename string, content []byte) error {
	if s.IsModule(filename) {
		return s.PutModule(ctx, path.Base(filename), content)
	}
	return s.PutFile(filename, content)
}

// IsModule reports whether filename would be staged as a module.
func (s *Stager) IsModule(filename string) bool {
	ext := path.Ext(filename)
	for _, e := range s.extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// GetFile reads a guest file.
func (s *Stager) GetFile(p string) ([]byte, error) {
	data, err := s.fs.ReadFile(p)
	if err != nil {
		return nil, &domain.StagingError{Op: "get file", Path: p, Err: err}
	}
	return data, nil
}

// Download hands a guest file to the host downloader.
func (s *Stager) Download(ctx context.Context, p string) error {
	data, err := s.GetFile(p)
	if err != nil {
		return err
	}
	if s.downloader == nil {
		return &domain.StagingError{Op: "download", Path: p, Err: domain.ErrInvalidRequest}
	}
	return s.downloader.Download(ctx, path.Base(p), data)
}

func moduleName(filename string) string {
	base := path.Base(filename)
	return strings.TrimSuffix(base, path.Ext(base))
}
