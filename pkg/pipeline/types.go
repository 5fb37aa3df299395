package pipeline

import (
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Gravity is the anchor point used when cropping to exact dimensions
type Gravity string

// Gravity constants (compass directions, matching common image tooling)
const (
	GravityNorthWest Gravity = "NW"
	GravityNorth     Gravity = "N"
	GravityNorthEast Gravity = "NE"
	GravityWest      Gravity = "W"
	GravityCenter    Gravity = "Center"
	GravityEast      Gravity = "E"
	GravitySouthWest Gravity = "SW"
	GravitySouth     Gravity = "S"
	GravitySouthEast Gravity = "SE"
)

// Valid reports whether g is one of the known gravity values
func (g Gravity) Valid() bool {
	switch g {
	case GravityNorthWest, GravityNorth, GravityNorthEast,
		GravityWest, GravityCenter, GravityEast,
		GravitySouthWest, GravitySouth, GravitySouthEast:
		return true
	}
	return false
}

// TransformSpec describes one derived image variant
type TransformSpec struct {
	SourceGlob string  `yaml:"source_glob" json:"source_glob"` // relative to the source root
	DestRoot   string  `yaml:"dest_root" json:"dest_root"`
	Width      int     `yaml:"width" json:"width"`
	Height     int     `yaml:"height" json:"height"` // 0 preserves aspect ratio
	Crop       bool    `yaml:"crop" json:"crop"`
	Gravity    Gravity `yaml:"gravity" json:"gravity"`
	Quality    float64 `yaml:"quality" json:"quality"` // 0..1, lossy formats only
}

// SizeDir returns the size directory name, e.g. "800x600"
func (s TransformSpec) SizeDir() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Selects reports whether the spec processes the source at rel, a path
// relative to the source root. An empty glob selects every source.
func (s TransformSpec) Selects(rel string) bool {
	if s.SourceGlob == "" {
		return true
	}
	ok, _ := doublestar.Match(s.SourceGlob, rel)
	return ok
}

// String returns a short human readable form used in logs
func (s TransformSpec) String() string {
	return fmt.Sprintf("%s/%s", s.DestRoot, s.SizeDir())
}

// FileOp names the per-file operation that failed
type FileOp string

// FileOp constants
const (
	OpCopy      FileOp = "copy"
	OpTransform FileOp = "transform"
	OpDelete    FileOp = "delete"
)

// FileError is a recoverable, per-file failure collected into a Summary
type FileError struct {
	Op   FileOp
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Summary reports what a single sync run did
type Summary struct {
	RunID            string
	DryRun           bool
	Copied           int
	Transformed      int
	Skipped          int
	FilesDeleted     int
	DirsDeleted      int
	EmptyDirsRemoved int
	Duration         time.Duration
	Errors           []FileError
}

// Failed reports whether any per-file operation failed during the run
func (s *Summary) Failed() bool {
	return len(s.Errors) > 0
}

// Writes returns the number of derived files written
func (s *Summary) Writes() int {
	return s.Copied + s.Transformed
}

// Deletes returns the number of derived files and directories removed
func (s *Summary) Deletes() int {
	return s.FilesDeleted + s.DirsDeleted + s.EmptyDirsRemoved
}

// SyncResponse is the HTTP representation of a Summary
type SyncResponse struct {
	RunID            string   `json:"run_id"`
	DryRun           bool     `json:"dry_run,omitempty"`
	Copied           int      `json:"copied"`
	Transformed      int      `json:"transformed"`
	Skipped          int      `json:"skipped"`
	FilesDeleted     int      `json:"files_deleted"`
	DirsDeleted      int      `json:"dirs_deleted"`
	EmptyDirsRemoved int      `json:"empty_dirs_removed"`
	DurationMillis   int64    `json:"duration_ms"`
	Errors           []string `json:"errors,omitempty"`
}

// NewSyncResponse converts a Summary for transport
func NewSyncResponse(s *Summary) SyncResponse {
	resp := SyncResponse{
		RunID:            s.RunID,
		DryRun:           s.DryRun,
		Copied:           s.Copied,
		Transformed:      s.Transformed,
		Skipped:          s.Skipped,
		FilesDeleted:     s.FilesDeleted,
		DirsDeleted:      s.DirsDeleted,
		EmptyDirsRemoved: s.EmptyDirsRemoved,
		DurationMillis:   s.Duration.Milliseconds(),
	}
	for _, e := range s.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	return resp
}

// FormatHints describe the encoded image handed to an optimizer
type FormatHints struct {
	Name string // original file name, extension included
	MIME string // detected content type, e.g. "image/png"
}
