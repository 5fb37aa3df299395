package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

const tempPrefix = ".imagesync-"

// FilesystemStorage implements the storage interfaces on a billy filesystem
type FilesystemStorage struct {
	fs billy.Filesystem
}

// NewFilesystemStorage creates storage rooted at baseDir on the local disk
func NewFilesystemStorage(baseDir string) (*FilesystemStorage, error) {
	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory %s is not a directory", baseDir)
	}

	return New(osfs.New(baseDir)), nil
}

// New wraps an existing billy filesystem. The sync workflow reads and
// writes from several goroutines at once, so fsys must be safe for
// concurrent use; osfs is, memfs is not.
func New(fsys billy.Filesystem) *FilesystemStorage {
	return &FilesystemStorage{fs: fsys}
}

// Filesystem returns the underlying billy filesystem
func (s *FilesystemStorage) Filesystem() billy.Filesystem {
	return s.fs
}

// Open returns a reader for the file at the given path
func (s *FilesystemStorage) Open(p string) (io.ReadCloser, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", p)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Stat returns the entry for path
func (s *FilesystemStorage) Stat(p string) (Entry, bool, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to stat file: %w", err)
	}
	return Entry{Path: p, Size: info.Size(), ModTime: info.ModTime()}, true, nil
}

// IsDir reports whether p exists and is a directory
func (s *FilesystemStorage) IsDir(p string) (bool, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return info.IsDir(), nil
}

// ListFiles recursively lists the regular files under root. Symlinks and
// other special files are skipped. A missing root is reported as a
// *ListingError wrapping fs.ErrNotExist.
func (s *FilesystemStorage) ListFiles(ctx context.Context, root string) ([]Entry, error) {
	var entries []Entry

	err := util.Walk(s.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		entries = append(entries, Entry{
			Path:    filepath.ToSlash(p),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, &ListingError{Root: root, Err: err}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// ListDirs lists the immediate subdirectories of root. A missing root
// has no subdirectories.
func (s *FilesystemStorage) ListDirs(root string) ([]string, error) {
	infos, err := s.fs.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ListingError{Root: root, Err: err}
	}

	var dirs []string
	for _, info := range infos {
		if info.IsDir() {
			dirs = append(dirs, path.Join(root, info.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// ReadDir returns the entries of directory p
func (s *FilesystemStorage) ReadDir(p string) ([]os.FileInfo, error) {
	infos, err := s.fs.ReadDir(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", p, err)
	}
	return infos, nil
}

// WriteAtomic writes data to a temporary file next to p and renames it
// into place, so p either holds the previous content or all of data
func (s *FilesystemStorage) WriteAtomic(p string, data []byte) error {
	dir := path.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := s.fs.TempFile(dir, tempPrefix+path.Base(p)+"-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", p, err)
	}
	if err := s.fs.Rename(tmpName, p); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", p, err)
	}
	return nil
}

// Remove deletes a single file or empty directory
func (s *FilesystemStorage) Remove(p string) error {
	if err := s.fs.Remove(p); err != nil {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// RemoveAll deletes p and everything below it
func (s *FilesystemStorage) RemoveAll(p string) error {
	if err := util.RemoveAll(s.fs, p); err != nil {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// IsTemp reports whether p names a temporary file left by WriteAtomic
func IsTemp(p string) bool {
	return strings.HasPrefix(path.Base(p), tempPrefix)
}

// IsNotExist reports whether err means the path does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
