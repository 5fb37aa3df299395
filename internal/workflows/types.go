package workflows

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/tendant/simple-image-sync/internal/storage"
	"github.com/tendant/simple-image-sync/pkg/pipeline"
)

// WorkflowContext contains context for a single sync run
type WorkflowContext struct {
	Ctx    context.Context
	RunID  string
	DryRun bool
	Logger *log.Logger
}

// Logf logs with the run ID prefix
func (w *WorkflowContext) Logf(format string, args ...interface{}) {
	w.Logger.Printf("[%s] "+format, append([]interface{}{w.RunID}, args...)...)
}

// Transformer is the external image-transform collaborator.
// Both calls may be slow and may fail; neither may be assumed to be
// safe to skip.
type Transformer interface {
	// Resize produces the variant described by spec from the encoded
	// image in r. name carries the extension that selects the output format.
	Resize(ctx context.Context, r io.Reader, name string, spec pipeline.TransformSpec) ([]byte, error)

	// Optimize recompresses an encoded image
	Optimize(ctx context.Context, data []byte, hints pipeline.FormatHints) ([]byte, error)
}

// Store is the filesystem surface the workflows need
type Store interface {
	storage.Reader
	storage.Lister
	storage.Writer
	storage.Remover
	ReadDir(path string) ([]os.FileInfo, error)
	IsDir(path string) (bool, error)
}

// Snapshot is the point-in-time view of both trees a run acts on
type Snapshot struct {
	SourceRoot string
	Sources    []storage.Entry
	Derived    map[string]storage.Entry
}

// Rel returns the path of a source entry relative to the source root
func (s *Snapshot) Rel(e storage.Entry) string {
	return e.Path[len(s.SourceRoot)+1:]
}

// Freshness is the state of one derived file relative to its source
type Freshness int

const (
	// Missing means no derived file exists at the mapped path
	Missing Freshness = iota
	// Stale means the derived file is older than its source
	Stale
	// Fresh means the derived file is at least as new as its source
	Fresh
)

func (f Freshness) String() string {
	switch f {
	case Missing:
		return "missing"
	case Stale:
		return "stale"
	default:
		return "fresh"
	}
}

// CheckFreshness classifies the derived file at dst against src
func (s *Snapshot) CheckFreshness(src storage.Entry, dst string) Freshness {
	derived, ok := s.Derived[dst]
	if !ok {
		return Missing
	}
	if derived.ModTime.Before(src.ModTime) {
		return Stale
	}
	return Fresh
}
