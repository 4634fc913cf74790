package ports

import "context"

// FileSystem is the guest-visible filesystem. Paths are slash-separated guest paths.
type FileSystem interface {
	WriteFile(path string, data []byte) error
	ReadFile(path string) ([]byte, error)
	// PrependSearchPath puts dir first in the module search path.
	PrependSearchPath(dir string)
	SearchPath() []string
}

// Downloader hands file contents over to the host for download.
type Downloader interface {
	Download(ctx context.Context, filename string, content []byte) error
}
