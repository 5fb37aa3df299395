// Package prune deletes orphaned derived files and directories.
//
// Deletion is best effort: a failing path is recorded and the batch
// continues.
package prune

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path"

	"github.com/tendant/simple-image-sync/pkg/pipeline"
)

// Store is the storage surface the executor needs
type Store interface {
	Remove(path string) error
	RemoveAll(path string) error
	ReadDir(path string) ([]os.FileInfo, error)
}

// Result reports what a prune call removed
type Result struct {
	Removed []string
	Errors  []pipeline.FileError
}

func (r *Result) fail(p string, err error) {
	r.Errors = append(r.Errors, pipeline.FileError{Op: pipeline.OpDelete, Path: p, Err: err})
}

// Executor removes derived paths
type Executor struct {
	store  Store
	logger *log.Logger
	dryRun bool
}

// NewExecutor creates a prune executor. In dry-run mode nothing is
// deleted but results report what would have been.
func NewExecutor(store Store, logger *log.Logger, dryRun bool) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{store: store, logger: logger, dryRun: dryRun}
}

// PruneFiles deletes each orphaned file
func (e *Executor) PruneFiles(runID string, files []string) *Result {
	res := &Result{}
	for _, f := range files {
		if e.dryRun {
			e.logger.Printf("[%s] Would delete orphaned file %s", runID, f)
			res.Removed = append(res.Removed, f)
			continue
		}
		if err := e.store.Remove(f); err != nil {
			e.logger.Printf("[%s] Failed to delete %s: %v", runID, f, err)
			res.fail(f, err)
			continue
		}
		e.logger.Printf("[%s] Deleted orphaned file %s", runID, f)
		res.Removed = append(res.Removed, f)
	}
	return res
}

// PruneDirectories deletes each orphaned directory with its contents
func (e *Executor) PruneDirectories(runID string, dirs []string) *Result {
	res := &Result{}
	for _, d := range dirs {
		if e.dryRun {
			e.logger.Printf("[%s] Would delete orphaned directory %s", runID, d)
			res.Removed = append(res.Removed, d)
			continue
		}
		if err := e.store.RemoveAll(d); err != nil {
			e.logger.Printf("[%s] Failed to delete directory %s: %v", runID, d, err)
			res.fail(d, err)
			continue
		}
		e.logger.Printf("[%s] Deleted orphaned directory %s", runID, d)
		res.Removed = append(res.Removed, d)
	}
	return res
}

// PruneEmptyDirectories removes every directory below root that holds
// no files, deepest first. root itself is kept. A single post-order
// pass reaches the fixpoint because a parent is examined only after all
// of its children. Entries named in removed count as absent, so a dry
// run reports the directories its planned deletions would empty.
func (e *Executor) PruneEmptyDirectories(runID, root string, removed ...string) *Result {
	res := &Result{}
	gone := make(map[string]struct{}, len(removed))
	for _, p := range removed {
		gone[path.Clean(p)] = struct{}{}
	}
	e.pruneEmpty(runID, root, gone, res)
	return res
}

// pruneEmpty returns true when dir is empty once its empty children
// have been removed
func (e *Executor) pruneEmpty(runID, dir string, gone map[string]struct{}, res *Result) bool {
	infos, err := e.store.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true
		}
		e.logger.Printf("[%s] Failed to read %s: %v", runID, dir, err)
		res.fail(dir, err)
		return false
	}

	empty := true
	for _, info := range infos {
		child := path.Join(dir, info.Name())
		if _, ok := gone[child]; ok {
			continue
		}
		if !info.IsDir() {
			empty = false
			continue
		}
		if !e.pruneEmpty(runID, child, gone, res) {
			empty = false
			continue
		}
		if e.dryRun {
			e.logger.Printf("[%s] Would remove empty directory %s", runID, child)
			res.Removed = append(res.Removed, child)
			continue
		}
		if err := e.store.Remove(child); err != nil {
			e.logger.Printf("[%s] Failed to remove empty directory %s: %v", runID, child, err)
			res.fail(child, err)
			empty = false
			continue
		}
		res.Removed = append(res.Removed, child)
	}
	return empty
}
