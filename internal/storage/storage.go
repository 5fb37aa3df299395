package storage

import (
	"context"
	"io"
	"time"
)

// Entry is one file observed in a listing
type Entry struct {
	Path    string // slash separated, relative to the storage base
	Size    int64
	ModTime time.Time
}

// Reader provides read access to stored files
type Reader interface {
	// Open returns a reader for the file at the given path
	Open(path string) (io.ReadCloser, error)

	// Stat returns the entry for path; ok is false when it does not exist
	Stat(path string) (entry Entry, ok bool, err error)
}

// Lister enumerates files and directories
type Lister interface {
	// ListFiles recursively lists the files (never directories) under root
	ListFiles(ctx context.Context, root string) ([]Entry, error)

	// ListDirs lists the immediate subdirectories of root
	ListDirs(root string) ([]string, error)
}

// Writer places files so that readers never observe partial content
type Writer interface {
	WriteAtomic(path string, data []byte) error
}

// Remover deletes files and directories
type Remover interface {
	Remove(path string) error
	RemoveAll(path string) error
}
