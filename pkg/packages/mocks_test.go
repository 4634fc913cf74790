package packages_test

import (
	"context"
	"sync"

	"github.com/aretw0/basthon/pkg/domain"
	"github.com/stretchr/testify/mock"
)

// MockInstaller records install calls.
type MockInstaller struct {
	mock.Mock
}

func (m *MockInstaller) LoadNative(ctx context.Context, names []string) error {
	args := m.Called(ctx, names)
	return args.Error(0)
}

func (m *MockInstaller) InstallExternal(ctx context.Context, pkgs []domain.PackageDescriptor) error {
	args := m.Called(ctx, pkgs)
	return args.Error(0)
}

// staticIndex is a fixed native catalogue mapping names to their native dependencies.
type staticIndex map[string][]string

func (s staticIndex) IsNative(name string) bool {
	_, ok := s[name]
	return ok
}

func (s staticIndex) NativePackages() []string {
	var out []string
	for name := range s {
		out = append(out, name)
	}
	return out
}

func (s staticIndex) Requires(name string) []string { return s[name] }

// gatedInstaller blocks every install until release is closed and counts calls per name.
// A non-nil crash makes external installs panic with it once released.
type gatedInstaller struct {
	crash   any
	mu      sync.Mutex
	calls   map[string]int
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedInstaller() *gatedInstaller {
	return &gatedInstaller{
		calls:   map[string]int{},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedInstaller) record(names ...string) {
	g.mu.Lock()
	for _, n := range names {
		g.calls[n]++
	}
	g.mu.Unlock()
	g.once.Do(func() { close(g.started) })
	<-g.release
}

func (g *gatedInstaller) LoadNative(_ context.Context, names []string) error {
	g.record(names...)
	return nil
}

func (g *gatedInstaller) InstallExternal(_ context.Context, pkgs []domain.PackageDescriptor) error {
	names := make([]string, len(pkgs))
	for i, p := range pkgs {
		names[i] = p.Name
	}
	g.record(names...)
	if g.crash != nil {
		panic(g.crash)
	}
	return nil
}

func (g *gatedInstaller) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}
