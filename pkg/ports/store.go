package ports

import "context"

// BackupStore is a simple key/value store hosts use to back up guest files.
type BackupStore interface {
	// Save persists data under key, replacing any previous value.
	Save(ctx context.Context, key string, data []byte) error

	// Load retrieves the value of key.
	// Returns domain.ErrBackupNotFound if the key does not exist.
	Load(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all stored keys.
	List(ctx context.Context) ([]string, error)
}
