package middleware

import "github.com/aretw0/basthon/pkg/ports"

// Middleware allows wrapping a BackupStore to add behavior.
type Middleware func(ports.BackupStore) ports.BackupStore

// Chain applies middlewares so the first one listed is the outermost.
func Chain(store ports.BackupStore, mws ...Middleware) ports.BackupStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
