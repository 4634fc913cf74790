package basthon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/basthon/internal/hooks"
	"github.com/aretw0/basthon/internal/kernel"
	"github.com/aretw0/basthon/internal/logging"
	"github.com/aretw0/basthon/internal/orchestrator"
	"github.com/aretw0/basthon/internal/staging"
	"github.com/aretw0/basthon/pkg/adapters/goja"
	"github.com/aretw0/basthon/pkg/adapters/memory"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/eventbus"
	"github.com/aretw0/basthon/pkg/packages"
	"github.com/aretw0/basthon/pkg/ports"
)

// Kernel is the high-level entry point for the Basthon library.
// It wires the guest runtime, the event bus and the evaluation pipeline
// and exposes them through a small API for hosts.
type Kernel struct {
	runtime *goja.Runtime
	bus     *eventbus.Bus
	state   *kernel.State
	worker  *kernel.Worker
	loader  *packages.Loader
	orch    *orchestrator.Orchestrator
	stager  *staging.Stager
	backups ports.BackupStore
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

type settings struct {
	logger      *slog.Logger
	catalogue   packages.Catalogue
	extraDeps   map[string][]string
	rootDir     string
	modulesRoot string
	extensions  []string
	bootstrap   string
	hooks       domain.LifecycleHooks
	timeout     time.Duration
	queueSize   int
	downloader  ports.Downloader
	httpClient  *http.Client
	adapters    *hooks.Registry
	backups     ports.BackupStore
	modules     []goja.Module
	input       ports.InputProvider
}

// Option defines a functional option for configuring the Kernel.
type Option func(*settings)

// WithLogger sets a custom structured logger for the kernel.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithCatalogue declares the externally installable packages.
func WithCatalogue(c packages.Catalogue) Option {
	return func(s *settings) {
		s.catalogue = c
	}
}

// WithExtraDeps declares packages implied by an import that scanning
// cannot see.
func WithExtraDeps(deps map[string][]string) Option {
	return func(s *settings) {
		s.extraDeps = deps
	}
}

// WithRootDir roots the guest filesystem in a host directory.
func WithRootDir(dir string) Option {
	return func(s *settings) {
		s.rootDir = dir
	}
}

// WithModulesRoot sets the guest directory staged modules live under.
func WithModulesRoot(dir string) Option {
	return func(s *settings) {
		s.modulesRoot = dir
	}
}

// WithModuleExtensions sets which staged resources are treated as modules.
func WithModuleExtensions(exts ...string) Option {
	return func(s *settings) {
		s.extensions = exts
	}
}

// WithBootstrap sets the native package external installs depend on.
func WithBootstrap(name string) Option {
	return func(s *settings) {
		s.bootstrap = name
	}
}

// WithLifecycleHooks registers observability hooks. Repeated calls add
// to the hooks already registered.
func WithLifecycleHooks(h domain.LifecycleHooks) Option {
	return func(s *settings) {
		s.hooks = domain.Combine(s.hooks, h)
	}
}

// WithEvalTimeout interrupts evaluations running longer than d.
func WithEvalTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// WithQueueSize bounds the Listen request queue.
func WithQueueSize(n int) Option {
	return func(s *settings) {
		s.queueSize = n
	}
}

// WithDownloader sets who receives guest download requests. By default
// they are published as file.download events.
func WithDownloader(d ports.Downloader) Option {
	return func(s *settings) {
		s.downloader = d
	}
}

// WithHTTPClient sets the client used to fetch external packages.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		s.httpClient = c
	}
}

// WithAdapters replaces the default package adaptation registry.
func WithAdapters(r *hooks.Registry) Option {
	return func(s *settings) {
		s.adapters = r
	}
}

// WithBackupStore sets the store hosts back guest files up to.
// Defaults to an in-memory store.
func WithBackupStore(store ports.BackupStore) Option {
	return func(s *settings) {
		s.backups = store
	}
}

// WithNativeModules adds Go-implemented guest packages.
func WithNativeModules(mods ...goja.Module) Option {
	return func(s *settings) {
		s.modules = append(s.modules, mods...)
	}
}

// WithInputProvider answers the guest input() and prompt() calls. Without
// one they return null.
func WithInputProvider(p ports.InputProvider) Option {
	return func(s *settings) {
		s.input = p
	}
}

// New creates a kernel and starts its first namespace.
func New(ctx context.Context, opts ...Option) (*Kernel, error) {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.adapters == nil {
		s.adapters = hooks.Default(hooks.WithLogger(s.logger))
	}
	if s.backups == nil {
		s.backups = memory.NewStore()
	}

	rtOpts := []goja.Option{
		goja.WithLogger(s.logger),
		goja.WithModules(s.modules...),
		goja.WithHTTPClient(s.httpClient),
		goja.WithBootstrap(s.bootstrap),
		goja.WithInput(s.input),
	}
	if s.rootDir != "" {
		rtOpts = append(rtOpts, goja.WithRoot(s.rootDir))
	}
	rt, err := goja.New(rtOpts...)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		runtime: rt,
		bus:     eventbus.New(eventbus.WithLogger(s.logger)),
		state:   kernel.New(rt, kernel.WithLogger(s.logger)),
		worker:  kernel.NewWorker(),
		backups: s.backups,
		logger:  s.logger,
	}
	k.loader = packages.NewLoader(
		packages.NewRegistry(rt, s.catalogue),
		rt,
		packages.WithBootstrap(s.bootstrap),
		packages.WithLogger(s.logger),
	)
	k.orch = orchestrator.New(orchestrator.Dependencies{
		State:    k.state,
		Worker:   k.worker,
		Loader:   k.loader,
		Scanner:  rt,
		Runtime:  rt,
		Packages: rt,
		Bus:      k.bus,
	},
		orchestrator.WithAdapters(s.adapters),
		orchestrator.WithExtraDeps(s.extraDeps),
		orchestrator.WithLifecycleHooks(s.hooks),
		orchestrator.WithEvalTimeout(s.timeout),
		orchestrator.WithQueueSize(s.queueSize),
		orchestrator.WithLogger(s.logger),
	)

	downloader := s.downloader
	if downloader == nil {
		downloader = busDownloader{bus: k.bus}
	}
	k.stager = staging.New(rt, k.orch,
		staging.WithModulesRoot(s.modulesRoot),
		staging.WithModuleExtensions(s.extensions...),
		staging.WithDownloader(downloader),
		staging.WithLogger(s.logger),
	)

	display := k.orch.DisplayBinding()
	k.state.Bind("display", display)
	k.state.Bind("basthon", map[string]any{
		"display":        display,
		"download":       k.downloadBinding(),
		"executionCount": ports.Func(func([]ports.Value) (any, error) { return k.state.ExecutionCount(), nil }),
	})

	if err := k.worker.Do(ctx, func() error { return k.state.Start(ctx) }); err != nil {
		k.worker.Stop()
		_ = rt.Close()
		return nil, fmt.Errorf("starting kernel: %w", err)
	}
	k.logger.Debug("Kernel started", "root", rt.Root())
	return k, nil
}

// downloadBinding is the guest-side basthon.download(path).
func (k *Kernel) downloadBinding() ports.Func {
	return func(args []ports.Value) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: download expects a path", domain.ErrInvalidRequest)
		}
		return nil, k.stager.Download(context.Background(), fmt.Sprint(args[0].Export()))
	}
}

type busDownloader struct {
	bus ports.EventBus
}

func (d busDownloader) Download(_ context.Context, filename string, content []byte) error {
	d.bus.Publish(domain.EventFileDownload, domain.DownloadPayload(filename, content))
	return nil
}

// Run evaluates code. aux is echoed in every event the evaluation causes.
func (k *Kernel) Run(ctx context.Context, code string, aux map[string]any) (*domain.Result, error) {
	return k.orch.Run(ctx, domain.EvalRequest{Code: code, Data: aux})
}

// RunEvent evaluates an eval.request payload; every failure is published.
func (k *Kernel) RunEvent(ctx context.Context, payload domain.Payload) {
	k.orch.RunEvent(ctx, payload)
}

// Listen serves eval.request events published on the bus until the returned
// function is called.
func (k *Kernel) Listen(ctx context.Context) (stop func()) {
	return k.orch.Listen(ctx)
}

// Subscribe registers h for the named event. Handlers run synchronously.
// eval.finished and eval.error are delivered after the worker is released,
// so their handlers may call Restart, History or Display. eval.output and
// eval.display are delivered while the evaluation holds the worker; their
// handlers must hand such calls off to another goroutine.
func (k *Kernel) Subscribe(name string, h ports.EventHandler) (unsubscribe func()) {
	return k.bus.Subscribe(name, h)
}

// Publish sends an event on the kernel bus.
func (k *Kernel) Publish(name string, payload domain.Payload) {
	k.bus.Publish(name, payload)
}

// Restart discards the namespace and its history. Installed packages and
// the guest filesystem survive.
func (k *Kernel) Restart(ctx context.Context) error {
	return k.worker.Do(ctx, func() error { return k.state.Restart(ctx) })
}

// SetInputProvider replaces the provider answering input() and returns a
// function restoring the previous one.
func (k *Kernel) SetInputProvider(p ports.InputProvider) (restore func()) {
	prev := k.runtime.SetInput(p)
	return func() { k.runtime.SetInput(prev) }
}

// ExecutionCount returns the number of evaluations since the last start.
func (k *Kernel) ExecutionCount() int {
	return k.state.ExecutionCount()
}

// HistoryEntry is one evaluation of the current namespace.
type HistoryEntry struct {
	ExecutionCount int    `json:"execution_count"`
	Input          string `json:"input"`
	Output         string `json:"output,omitempty"`
	HasOutput      bool   `json:"has_output"`
}

// History returns the evaluations since the last start, oldest first.
func (k *Kernel) History(ctx context.Context) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := k.worker.Do(ctx, func() error {
		in := k.state.In()
		out := k.state.Out()
		entries = make([]HistoryEntry, 0, len(in))
		for i := 1; i < len(in); i++ {
			e := HistoryEntry{ExecutionCount: i, Input: in[i]}
			if v, ok := out[i]; ok {
				e.Output, e.HasOutput = v.String(), true
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Display publishes the rich representation of a host value as an
// eval.display event.
func (k *Kernel) Display(ctx context.Context, v any) error {
	return k.worker.Do(ctx, func() error { return k.orch.Display(v) })
}

// Importables lists every name a snippet can require.
func (k *Kernel) Importables() []string {
	return k.runtime.Importables()
}

// NativePackages lists the Go-implemented guest packages.
func (k *Kernel) NativePackages() []string {
	return k.runtime.NativePackages()
}

// Catalogue returns the externally installable packages.
func (k *Kernel) Catalogue() packages.Catalogue {
	return k.loader.Registry().Catalogue()
}

// Loaded lists the packages loaded so far.
func (k *Kernel) Loaded() []string {
	return k.loader.Loaded()
}

// LoadDependencies loads the packages code imports without evaluating it.
func (k *Kernel) LoadDependencies(ctx context.Context, code string) error {
	return k.orch.LoadDependencies(ctx, code)
}

// PutFile writes a file into the guest filesystem.
func (k *Kernel) PutFile(path string, data []byte) error {
	return k.stager.PutFile(path, data)
}

// PutModule makes source importable under the basename of filename.
func (k *Kernel) PutModule(ctx context.Context, filename string, source []byte) error {
	return k.stager.PutModule(ctx, filename, source)
}

// PutResource stages a module or a plain file depending on its extension.
func (k *Kernel) PutResource(ctx context.Context, filename string, content []byte) error {
	return k.stager.PutResource(ctx, filename, content)
}

// GetFile reads a file from the guest filesystem.
func (k *Kernel) GetFile(path string) ([]byte, error) {
	return k.stager.GetFile(path)
}

// Download hands a guest file to the host.
func (k *Kernel) Download(ctx context.Context, path string) error {
	return k.stager.Download(ctx, path)
}

// Watch stages every file created or changed in a host directory until the
// returned watcher is stopped or ctx ends.
func (k *Kernel) Watch(ctx context.Context, dir string) (*staging.Watcher, error) {
	w, err := staging.NewWatcher(k.stager, dir, staging.WithWatcherLogger(k.logger))
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Backups returns the backup store.
func (k *Kernel) Backups() ports.BackupStore {
	return k.backups
}

// Close tears down the namespace, stops the worker and releases the guest
// runtime. Later calls return the first result.
func (k *Kernel) Close() error {
	k.closeOnce.Do(func() {
		err := k.worker.Do(context.Background(), k.state.Stop)
		k.worker.Stop()
		if cerr := k.runtime.Close(); err == nil {
			err = cerr
		}
		k.closeErr = err
	})
	return k.closeErr
}
