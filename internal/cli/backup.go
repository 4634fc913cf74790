package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/aretw0/basthon/pkg/ports"
)

// withBackupStore opens the configured backup store for the duration of fn.
func withBackupStore(opts Options, fn func(store ports.BackupStore) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	store, closeStore, err := NewBackupStore(cfg.Backup)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(store)
}

// ListBackups writes every backup key to w, one per line, sorted.
func ListBackups(ctx context.Context, opts Options, w io.Writer) error {
	return withBackupStore(opts, func(store ports.BackupStore) error {
		keys, err := store.List(ctx)
		if err != nil {
			return err
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintln(w, k)
		}
		return nil
	})
}

// GetBackup writes the stored value of key to w.
func GetBackup(ctx context.Context, opts Options, key string, w io.Writer) error {
	return withBackupStore(opts, func(store ports.BackupStore) error {
		data, err := store.Load(ctx, key)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
}

// PutBackup stores the content of path under key. A path of "-" reads r.
func PutBackup(ctx context.Context, opts Options, key, path string, r io.Reader) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(r)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading backup content: %w", err)
	}
	return withBackupStore(opts, func(store ports.BackupStore) error {
		return store.Save(ctx, key, data)
	})
}

// DeleteBackup removes key.
func DeleteBackup(ctx context.Context, opts Options, key string) error {
	return withBackupStore(opts, func(store ports.BackupStore) error {
		return store.Delete(ctx, key)
	})
}
