// Package eventbus is the named publish/subscribe channel between the kernel
// and its host.
//
// Delivery is synchronous and in registration order. Every subscriber gets its
// own deep copy of the payload, so no subscriber can observe another's
// mutations. Handler failures are logged and never reach the publisher.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/basthon/internal/logging"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/ports"
	"github.com/mohae/deepcopy"
)

// Handler receives a private copy of a published payload.
type Handler = ports.EventHandler

type subscription struct {
	id int
	h  Handler
}

type topic struct {
	// deliver serializes publishes of one name so their order is preserved.
	deliver sync.Mutex
	subs    []subscription
}

// Bus is a synchronous event bus. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*topic
	nextID int
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report failing handlers.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics: make(map[string]*topic),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) topic(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topic{}
		b.topics[name] = t
	}
	return t
}

// Subscribe registers h for name. The returned function removes it.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	t := b.topic(name)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	t.subs = append(t.subs, subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribers returns the number of handlers registered for name.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t, ok := b.topics[name]; ok {
		return len(t.subs)
	}
	return 0
}

// Publish delivers payload to every subscriber of name. It never fails.
// A handler may publish other names; re-publishing the same name from its
// own handler deadlocks.
func (b *Bus) Publish(name string, payload domain.Payload) {
	t := b.topic(name)

	t.deliver.Lock()
	defer t.deliver.Unlock()

	b.mu.RLock()
	subs := make([]subscription, len(t.subs))
	copy(subs, t.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(name, s.h, clone(payload))
	}
}

func (b *Bus) deliver(name string, h Handler, payload domain.Payload) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked", "event", name, "err", fmt.Errorf("panic: %v", r))
		}
	}()
	if err := h(payload); err != nil {
		b.logger.Warn("Event handler failed", "event", name, "err", err)
	}
}

func clone(p domain.Payload) domain.Payload {
	if p == nil {
		return domain.Payload{}
	}
	if c, ok := deepcopy.Copy(p).(domain.Payload); ok {
		return c
	}
	return domain.Payload{}
}
