// Package diff compares a source snapshot with a derived snapshot and
// reports which derived files and directories no longer belong.
//
// Identity is by path only: a derived file whose simplified path
// matches a source file is kept, whatever its content, unless it lies in
// a size directory whose spec no longer selects that source.
package diff

import (
	"path"
	"sort"

	"github.com/tendant/simple-image-sync/internal/pathmap"
	"github.com/tendant/simple-image-sync/internal/storage"
)

// Engine computes orphaned derived files and directories
type Engine struct {
	mapper *pathmap.Mapper
}

// NewEngine creates a diff engine using mapper to invert derived paths
func NewEngine(mapper *pathmap.Mapper) *Engine {
	return &Engine{mapper: mapper}
}

// SourceSet builds the set of source paths relative to sourceRoot
func SourceSet(sourceRoot string, sources []storage.Entry) map[string]struct{} {
	set := make(map[string]struct{}, len(sources))
	prefix := path.Clean(sourceRoot) + "/"
	for _, e := range sources {
		if len(e.Path) > len(prefix) && e.Path[:len(prefix)] == prefix {
			set[e.Path[len(prefix):]] = struct{}{}
		}
	}
	return set
}

// OrphanedFiles returns the derived files whose simplified path is not a
// source path, sorted. Derived files that cannot be simplified at all
// are orphaned too, as are variants whose spec's source glob no longer
// matches their source.
func (e *Engine) OrphanedFiles(sources map[string]struct{}, derived []storage.Entry) []string {
	var orphans []string
	for _, d := range derived {
		if !e.owned(sources, d.Path) {
			orphans = append(orphans, d.Path)
		}
	}
	sort.Strings(orphans)
	return orphans
}

func (e *Engine) owned(sources map[string]struct{}, derived string) bool {
	rel, spec, ok := e.mapper.Owner(derived)
	if !ok {
		return false
	}
	if _, exists := sources[rel]; !exists {
		return false
	}
	return spec == nil || spec.Selects(rel)
}

// OrphanedDirectories returns the existing size directories that no
// configured spec produces. existing holds directory paths as listed
// from the derived roots.
func (e *Engine) OrphanedDirectories(existing []string) []string {
	expected := e.mapper.ExpectedSizeDirs()

	var orphans []string
	for _, dir := range existing {
		if !pathmap.IsSizeDirName(path.Base(dir)) {
			continue
		}
		if _, ok := expected[dir]; ok {
			continue
		}
		orphans = append(orphans, dir)
	}
	sort.Strings(orphans)
	return orphans
}
