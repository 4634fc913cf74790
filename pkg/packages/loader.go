package packages

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/basthon/internal/logging"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/ports"
)

// DefaultBootstrap is the native package that must be enabled before any
// external install.
const DefaultBootstrap = "installer"

// BatchFunc is told about every batch of newly loaded packages.
type BatchFunc func(kind domain.PackageKind, names []string)

// install tracks one package from marking to completion.
type install struct {
	done chan struct{}
	err  error
}

func (i *install) finished() bool {
	select {
	case <-i.done:
		return true
	default:
		return false
	}
}

// Loader loads packages into the guest runtime, each at most once.
type Loader struct {
	registry  *Registry
	installer ports.Installer
	bootstrap string
	logger    *slog.Logger

	mu     sync.Mutex
	loaded map[string]*install
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithBootstrap overrides the bootstrap package name.
func WithBootstrap(name string) LoaderOption {
	return func(l *Loader) {
		if name != "" {
			l.bootstrap = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader installing through installer.
func NewLoader(registry *Registry, installer ports.Installer, opts ...LoaderOption) *Loader {
	l := &Loader{
		registry:  registry,
		installer: installer,
		bootstrap: DefaultBootstrap,
		logger:    logging.NewNop(),
		loaded:    make(map[string]*install),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Registry returns the loader's registry.
func (l *Loader) Registry() *Registry { return l.registry }

// Load classifies names and installs the ones not yet loaded: native first,
// then external. onBatch, when non-nil, is invoked once per non-empty batch
// with only the newly loaded names.
func (l *Loader) Load(ctx context.Context, names []string, onBatch BatchFunc) error {
	c := l.registry.Classify(names)
	if err := l.loadBatch(ctx, domain.KindNative, c.Native, onBatch); err != nil {
		return err
	}
	return l.loadBatch(ctx, domain.KindExternal, c.External, onBatch)
}

func (l *Loader) loadBatch(ctx context.Context, kind domain.PackageKind, names []string, onBatch BatchFunc) error {
	if len(names) == 0 {
		return nil
	}
	fresh, pending := l.mark(names)

	if len(fresh) > 0 {
		l.logger.Debug("Loading packages", "kind", kind, "packages", fresh)
		if err := l.installFresh(ctx, kind, fresh); err != nil {
			return &domain.LoaderError{Kind: kind, Packages: fresh, Err: err}
		}
		if onBatch != nil {
			onBatch(kind, fresh)
		}
	}

	for name, inst := range pending {
		select {
		case <-inst.done:
			if inst.err != nil {
				return &domain.LoaderError{Kind: kind, Packages: []string{name}, Err: inst.err}
			}
		case <-ctx.Done():
			return &domain.LoaderError{Kind: kind, Packages: []string{name}, Err: ctx.Err()}
		}
	}
	return nil
}

// mark records every unknown name as loading before any install starts.
// Names another caller is still installing come back in pending.
func (l *Loader) mark(names []string) (fresh []string, pending map[string]*install) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range names {
		if inst, ok := l.loaded[name]; ok {
			if !inst.finished() {
				if pending == nil {
					pending = make(map[string]*install)
				}
				pending[name] = inst
			}
			continue
		}
		l.loaded[name] = &install{done: make(chan struct{})}
		fresh = append(fresh, name)
	}
	return fresh, pending
}

// installFresh installs names and settles them on every exit path, so
// waiters are released even when the installer panics.
func (l *Loader) installFresh(ctx context.Context, kind domain.PackageKind, names []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("installer panic: %v", r)
		}
		l.settle(names, err)
	}()
	return l.installBatch(ctx, kind, names)
}

// settle completes the installs of names. Failed names are unmarked so a
// later request installs them again.
func (l *Loader) settle(names []string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range names {
		inst := l.loaded[name]
		if inst == nil {
			continue
		}
		inst.err = err
		close(inst.done)
		if err != nil {
			delete(l.loaded, name)
		}
	}
}

func (l *Loader) installBatch(ctx context.Context, kind domain.PackageKind, names []string) error {
	if kind == domain.KindNative {
		return l.installer.LoadNative(ctx, names)
	}
	if err := l.loadBatch(ctx, domain.KindNative, []string{l.bootstrap}, nil); err != nil {
		return fmt.Errorf("bootstrap %s: %w", l.bootstrap, err)
	}
	descs := make([]domain.PackageDescriptor, 0, len(names))
	for _, name := range names {
		d, ok := l.registry.Descriptor(name)
		if !ok {
			return fmt.Errorf("%s: %w", name, domain.ErrModuleNotFound)
		}
		descs = append(descs, d)
	}
	return l.installer.InstallExternal(ctx, descs)
}

// IsLoaded reports whether name has been loaded (or is loading).
func (l *Loader) IsLoaded(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[name]
	return ok
}

// Loaded returns the Loaded-Set, sorted.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.loaded))
	for name := range l.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset forgets every loaded package. Only meaningful when the guest runtime
// itself has been replaced; a kernel restart keeps its packages.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = make(map[string]*install)
}
