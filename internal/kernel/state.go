// Package kernel holds the evaluation state of a Basthon kernel: the
// namespace, the execution counter and the In/Out history, plus the worker
// goroutine that owns them.
package kernel

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

// Namespace binding names seeded on Start.
const (
	BindName      = "__name__"
	BindEvalData  = "__eval_data__"
	BindIn        = "In"
	BindOut       = "Out"
	BindLast      = "_"
	BindSecond    = "__"
	BindThird     = "___"
	MainName      = "__main__"
	historyBlank  = ""
	initialInCell = ""
)

// State is the kernel's evaluation state.
//
// Evaluate, Start, Stop and Restart touch the namespace and must only be
// called from the kernel worker. The accessors are safe from any goroutine.
type State struct {
	interp   ports.Interpreter
	bindings map[string]any
	logger   *slog.Logger

	ns ports.Namespace

	mu       sync.RWMutex
	count    int
	in       []string
	out      map[int]ports.Value
	last     [3]any
	evalData map[string]any
}

// Option configures a State.
type Option func(*State)

// WithBindings sets host utilities bound into every fresh namespace.
func WithBindings(bindings map[string]any) Option {
	return func(s *State) {
		for k, v := range bindings {
			s.bindings[k] = v
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a State over interp. Start must be called before Evaluate.
func New(interp ports.Interpreter, opts ...Option) *State {
	s := &State{
		interp:   interp,
		bindings: make(map[string]any),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind adds a host utility binding. It takes effect on the next Start.
func (s *State) Bind(name string, value any) {
	s.bindings[name] = value
}

// Start creates a fresh namespace and resets counter and history.
func (s *State) Start(ctx context.Context) error {
	ns, err := s.interp.NewNamespace(ctx)
	if err != nil {
		return fmt.Errorf("creating namespace: %w", err)
	}

	s.mu.Lock()
	s.ns = ns
	s.count = 0
	s.in = []string{initialInCell}
	s.out = make(map[int]ports.Value)
	s.last = [3]any{historyBlank, historyBlank, historyBlank}
	s.evalData = nil
	s.mu.Unlock()

	if err := ns.Set(BindName, MainName); err != nil {
		return err
	}
	for name, v := range s.bindings {
		if err := ns.Set(name, v); err != nil {
			return fmt.Errorf("binding %s: %w", name, err)
		}
	}
	if err := s.publishHistory(); err != nil {
		return err
	}
	s.logger.Debug("Namespace started")
	return nil
}

// Stop tears down the namespace. The guest runtime process is untouched.
func (s *State) Stop() error {
	s.mu.Lock()
	ns := s.ns
	s.ns = nil
	s.mu.Unlock()
	if ns == nil {
		return nil
	}
	return ns.Close()
}

// Restart discards the namespace and starts a fresh one.
func (s *State) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		s.logger.Warn("Namespace teardown failed", "err", err)
	}
	return s.Start(ctx)
}

// Started reports whether a namespace exists.
func (s *State) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ns != nil
}

// Evaluate runs code in the namespace. The counter is incremented exactly once
// per call, whatever the outcome. aux is bound as __eval_data__ and stays
// bound until the next evaluation overwrites it.
func (s *State) Evaluate(ctx context.Context, code string, aux map[string]any) (ports.Value, error) {
	s.mu.Lock()
	ns := s.ns
	if ns == nil {
		s.mu.Unlock()
		return nil, domain.ErrNotStarted
	}
	s.count++
	count := s.count
	s.in = append(s.in, code)
	s.evalData = aux
	s.mu.Unlock()

	if err := s.publishHistory(); err != nil {
		return nil, &domain.EvaluationFault{ExecutionCount: count, Err: err}
	}
	if err := ns.Set(BindEvalData, aux); err != nil {
		return nil, &domain.EvaluationFault{ExecutionCount: count, Err: err}
	}

	v, err := ns.Eval(ctx, code)
	if err != nil {
		return nil, &domain.EvaluationFault{ExecutionCount: count, Err: err}
	}
	s.rollOut(ns, count, v)
	return v, nil
}

// rollOut records a produced value in Out and shifts the _ slots. The
// sentinel and the Out mapping itself are never recorded.
func (s *State) rollOut(ns ports.Namespace, count int, v ports.Value) {
	if v == nil || v.IsUndefined() {
		return
	}
	if out := ns.Get(BindOut); out != nil && v.SameAs(out) {
		return
	}
	s.mu.Lock()
	s.out[count] = v
	s.last[2] = s.last[1]
	s.last[1] = s.last[0]
	s.last[0] = v
	s.mu.Unlock()

	if err := s.publishHistory(); err != nil {
		s.logger.Warn("Publishing history failed", "execution_count", count, "err", err)
	}
}

// publishHistory re-binds In, Out and the _ slots in the namespace.
func (s *State) publishHistory() error {
	s.mu.RLock()
	ns := s.ns
	in := append([]string(nil), s.in...)
	out := make(map[string]any, len(s.out))
	for k, v := range s.out {
		out[fmt.Sprint(k)] = v
	}
	last := s.last
	s.mu.RUnlock()

	if ns == nil {
		return domain.ErrNotStarted
	}
	values := []struct {
		name string
		v    any
	}{
		{BindIn, in},
		{BindOut, out},
		{BindLast, last[0]},
		{BindSecond, last[1]},
		{BindThird, last[2]},
	}
	for _, b := range values {
		if err := ns.Set(b.name, b.v); err != nil {
			return fmt.Errorf("binding %s: %w", b.name, err)
		}
	}
	return nil
}

// ExecutionCount returns the number of evaluations since the last start.
func (s *State) ExecutionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// In returns a copy of the input history. In[0] is the empty placeholder.
func (s *State) In() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.in...)
}

// Out returns a copy of the output history.
func (s *State) Out() map[int]ports.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]ports.Value, len(s.out))
	for k, v := range s.out {
		out[k] = v
	}
	return out
}

// OutKeys returns the execution counts that produced a value, ascending.
func (s *State) OutKeys() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]int, 0, len(s.out))
	for k := range s.out {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// EvalData returns the auxiliary data of the current (or last) evaluation.
func (s *State) EvalData() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.evalData == nil {
		return nil
	}
	out := make(map[string]any, len(s.evalData))
	for k, v := range s.evalData {
		out[k] = v
	}
	return out
}
