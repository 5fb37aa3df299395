// Package config loads and validates the image sync configuration.
package config

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tendant/simple-image-sync/pkg/pipeline"
)

// Defaults
const (
	DefaultBaseDir       = "."
	DefaultSourceRoot    = "image-raw"
	DefaultDerivedRoot   = "image-processed"
	DefaultCopyDir       = "optimized"
	DefaultSourceGlob    = "**/*"
	DefaultWatchDebounce = 500 * time.Millisecond
)

var sizeDirPattern = regexp.MustCompile(`^[0-9]+x[0-9]+$`)

// Config holds the image sync configuration.
// All roots are slash separated and relative to BaseDir.
type Config struct {
	// BaseDir is the directory every other path is resolved against
	// Optional. Defaults to "."
	BaseDir string

	// SourceRoot holds the original images
	// Optional. Defaults to "image-raw"
	SourceRoot string

	// DerivedRoot receives the optimized copies
	// Optional. Defaults to "image-processed"
	DerivedRoot string

	// CopyDir is the subdirectory of DerivedRoot for optimized copies.
	// Copies never sit directly under DerivedRoot, where a source
	// directory named like "1920x1080" would be taken for a size directory.
	// Optional. Defaults to "optimized"
	CopyDir string

	// Concurrency is the number of transform units run in parallel
	// Optional. Defaults to one per transform plus one for the copy step
	Concurrency int

	// WatchDebounce is how long the watch loop waits for more events
	// before starting a run. Optional. Defaults to 500ms
	WatchDebounce time.Duration

	// HTTPAddr enables the trigger and metrics endpoint in watch mode
	HTTPAddr string

	// Transforms is the ordered list of derived variants
	Transforms []pipeline.TransformSpec
}

// WithDefaults fills in default values for optional fields and
// normalizes every path
func (c *Config) WithDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = DefaultBaseDir
	}
	if c.SourceRoot == "" {
		c.SourceRoot = DefaultSourceRoot
	}
	if c.DerivedRoot == "" {
		c.DerivedRoot = DefaultDerivedRoot
	}
	if c.CopyDir == "" {
		c.CopyDir = DefaultCopyDir
	}
	if c.WatchDebounce == 0 {
		c.WatchDebounce = DefaultWatchDebounce
	}
	c.SourceRoot = cleanPath(c.SourceRoot)
	c.DerivedRoot = cleanPath(c.DerivedRoot)
	c.CopyDir = cleanPath(c.CopyDir)

	for i := range c.Transforms {
		t := &c.Transforms[i]
		if t.SourceGlob == "" {
			t.SourceGlob = DefaultSourceGlob
		}
		if t.DestRoot == "" {
			t.DestRoot = c.DerivedRoot
		}
		t.DestRoot = cleanPath(t.DestRoot)
		if t.Gravity == "" {
			t.Gravity = pipeline.GravityCenter
		}
	}

	if c.Concurrency == 0 {
		c.Concurrency = len(c.Transforms) + 1
	}
}

// Validate checks the configuration and returns a *ConfigError for the
// first problem found
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return invalid("base_dir", "must not be empty")
	}
	if err := validateRoot("source_root", c.SourceRoot); err != nil {
		return err
	}
	if err := validateRoot("derived_root", c.DerivedRoot); err != nil {
		return err
	}
	if overlaps(c.SourceRoot, c.DerivedRoot) {
		return invalid("derived_root", "%q overlaps source_root %q", c.DerivedRoot, c.SourceRoot)
	}
	if err := validateRoot("copy_dir", c.CopyDir); err != nil {
		return err
	}
	first := strings.SplitN(c.CopyDir, "/", 2)[0]
	if sizeDirPattern.MatchString(first) {
		return invalid("copy_dir", "%q would be mistaken for a size directory", c.CopyDir)
	}
	if c.Concurrency < 0 {
		return invalid("concurrency", "must not be negative, got %d", c.Concurrency)
	}

	seen := make(map[string]int, len(c.Transforms))
	for i, t := range c.Transforms {
		field := fmt.Sprintf("transforms[%d]", i)
		if err := validateTransform(field, t); err != nil {
			return err
		}
		if overlaps(c.SourceRoot, t.DestRoot) {
			return invalid(field+".dest_root", "%q overlaps source_root %q", t.DestRoot, c.SourceRoot)
		}
		dir := path.Join(t.DestRoot, t.SizeDir())
		if j, dup := seen[dir]; dup {
			return invalid(field, "derived directory %q already produced by transforms[%d]", dir, j)
		}
		seen[dir] = i
	}
	return nil
}

func validateTransform(field string, t pipeline.TransformSpec) error {
	if t.SourceGlob == "" {
		return invalid(field+".source_glob", "must not be empty")
	}
	if !doublestar.ValidatePattern(t.SourceGlob) {
		return invalid(field+".source_glob", "malformed pattern %q", t.SourceGlob)
	}
	if err := validateRoot(field+".dest_root", t.DestRoot); err != nil {
		return err
	}
	if t.Width <= 0 {
		return invalid(field+".width", "must be positive, got %d", t.Width)
	}
	if t.Height < 0 {
		return invalid(field+".height", "must not be negative, got %d", t.Height)
	}
	if t.Quality < 0 || t.Quality > 1 {
		return invalid(field+".quality", "must be within [0,1], got %g", t.Quality)
	}
	if !t.Gravity.Valid() {
		return invalid(field+".gravity", "unknown gravity %q", t.Gravity)
	}
	return nil
}

func validateRoot(field, p string) error {
	switch {
	case p == "":
		return invalid(field, "must not be empty")
	case p == ".":
		return invalid(field, "must name a subdirectory of base_dir")
	case path.IsAbs(p) || filepath.IsAbs(p):
		return invalid(field, "%q must be relative to base_dir", p)
	case p == ".." || strings.HasPrefix(p, "../"):
		return invalid(field, "%q escapes base_dir", p)
	}
	return nil
}

// overlaps reports whether one root contains the other
func overlaps(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func cleanPath(p string) string {
	return path.Clean(filepath.ToSlash(p))
}
