// Package pathmap maps source image paths to their derived paths and back.
//
// All paths are slash separated and relative to the storage base
// directory. Source paths handed to the mapper are relative to the
// source root.
package pathmap

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/tendant/simple-image-sync/pkg/pipeline"
)

var sizeDirPattern = regexp.MustCompile(`^[0-9]+x[0-9]+$`)

// IsSizeDirName reports whether name looks like "{width}x{height}"
func IsSizeDirName(name string) bool {
	return sizeDirPattern.MatchString(name)
}

// SizeDirName returns the derived directory for spec, e.g.
// "image-processed/800x600"
func SizeDirName(spec pipeline.TransformSpec) string {
	return path.Join(spec.DestRoot, spec.SizeDir())
}

// Mapper converts between source and derived paths
type Mapper struct {
	derivedRoot string
	copyDir     string
	specs       []pipeline.TransformSpec
	bySizeDir   map[string]int // SizeDirName -> index into specs
	roots       []string       // longest first
}

// New creates a mapper. derivedRoot receives the optimized copies under
// copyDir (which may be empty); specs supply the resized variants.
func New(derivedRoot, copyDir string, specs []pipeline.TransformSpec) *Mapper {
	m := &Mapper{
		derivedRoot: derivedRoot,
		copyDir:     copyDir,
		specs:       append([]pipeline.TransformSpec(nil), specs...),
		bySizeDir:   make(map[string]int, len(specs)),
	}
	for i, s := range specs {
		m.bySizeDir[SizeDirName(s)] = i
	}

	seen := map[string]bool{derivedRoot: true}
	m.roots = []string{derivedRoot}
	for _, s := range specs {
		if !seen[s.DestRoot] {
			seen[s.DestRoot] = true
			m.roots = append(m.roots, s.DestRoot)
		}
	}
	sort.SliceStable(m.roots, func(i, j int) bool {
		return len(m.roots[i]) > len(m.roots[j])
	})
	return m
}

// Specs returns the transform specs the mapper was built with
func (m *Mapper) Specs() []pipeline.TransformSpec {
	return m.specs
}

// CopyPath returns the optimized copy path for a source-relative path
func (m *Mapper) CopyPath(rel string) string {
	return path.Join(m.derivedRoot, m.copyDir, rel)
}

// SpecPath returns the derived path of rel under spec
func (m *Mapper) SpecPath(rel string, spec pipeline.TransformSpec) string {
	return path.Join(SizeDirName(spec), rel)
}

// DerivedPathsFor returns the copy path followed by one path per spec
func (m *Mapper) DerivedPathsFor(rel string, specs []pipeline.TransformSpec) []string {
	paths := make([]string, 0, len(specs)+1)
	paths = append(paths, m.CopyPath(rel))
	for _, s := range specs {
		paths = append(paths, m.SpecPath(rel, s))
	}
	return paths
}

// Simplify strips the derived root and either a size directory or the
// copy directory, yielding the source-relative path the derived file
// was produced from. ok is false when derived is not a path the mapper
// could have produced.
func (m *Mapper) Simplify(derived string) (rel string, ok bool) {
	rel, _, ok = m.Owner(derived)
	return rel, ok
}

// Owner is Simplify that also returns the spec producing derived when
// it lies in a configured size directory. spec is nil for copies and for
// size directories no spec produces.
func (m *Mapper) Owner(derived string) (rel string, spec *pipeline.TransformSpec, ok bool) {
	derived = path.Clean(derived)
	for _, root := range m.roots {
		if !strings.HasPrefix(derived, root+"/") {
			continue
		}
		rest := derived[len(root)+1:]

		if first, tail, nested := strings.Cut(rest, "/"); nested && IsSizeDirName(first) {
			if i, known := m.bySizeDir[path.Join(root, first)]; known {
				spec = &m.specs[i]
			}
			return tail, spec, true
		}
		if root != m.derivedRoot {
			// spec-only roots hold nothing but size directories
			continue
		}
		if m.copyDir == "" {
			return rest, nil, true
		}
		if strings.HasPrefix(rest, m.copyDir+"/") {
			return rest[len(m.copyDir)+1:], nil, true
		}
	}
	return "", nil, false
}

// Roots returns the distinct derived roots, skipping any root nested
// inside another so that a recursive listing of each visits every
// derived file exactly once
func (m *Mapper) Roots() []string {
	var out []string
	for _, r := range m.roots {
		nested := false
		for _, other := range m.roots {
			if other != r && strings.HasPrefix(r, other+"/") {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// AllRoots returns every distinct derived root, including nested ones
func (m *Mapper) AllRoots() []string {
	out := append([]string(nil), m.roots...)
	sort.Strings(out)
	return out
}

// ExpectedSizeDirs returns the set of size directories implied by the
// configured specs
func (m *Mapper) ExpectedSizeDirs() map[string]struct{} {
	dirs := make(map[string]struct{}, len(m.specs))
	for _, s := range m.specs {
		dirs[SizeDirName(s)] = struct{}{}
	}
	return dirs
}
