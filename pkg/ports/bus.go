package ports

import "github.com/aretw0/basthon/pkg/domain"

// EventHandler receives a private copy of a published payload.
type EventHandler = func(domain.Payload) error

// EventBus is the named publish/subscribe channel between kernel and host.
type EventBus interface {
	Publish(name string, payload domain.Payload)
	Subscribe(name string, h EventHandler) (unsubscribe func())
}
