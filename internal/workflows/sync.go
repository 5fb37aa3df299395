package workflows

import (
	"context"
	"fmt"
	"log"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-image-sync/internal/diff"
	"github.com/tendant/simple-image-sync/internal/metrics"
	"github.com/tendant/simple-image-sync/internal/pathmap"
	"github.com/tendant/simple-image-sync/internal/prune"
	"github.com/tendant/simple-image-sync/internal/storage"
	"github.com/tendant/simple-image-sync/pkg/pipeline"
)

// Options configures a SyncWorkflow
type Options struct {
	SourceRoot  string
	DerivedRoot string
	CopyDir     string
	Specs       []pipeline.TransformSpec
	Concurrency int
	DryRun      bool
	Logger      *log.Logger
	Metrics     *metrics.Recorder
}

// SyncWorkflow keeps the derived tree in step with the source tree.
//
// A run prunes first and transforms second; transform units never start
// before pruning has finished. Runs are serialized: a Sync call made
// while another is in progress waits for it.
//
// Each run acts on listings taken at its start. Files that change while
// a run is in progress are picked up by the next run, not this one.
type SyncWorkflow struct {
	store      Store
	sourceRoot string
	mapper     *pathmap.Mapper
	diff       *diff.Engine
	prune      *prune.Executor
	runner     *TransformRunner
	logger     *log.Logger
	metrics    *metrics.Recorder
	dryRun     bool

	mu sync.Mutex
}

// NewSyncWorkflow creates the sync workflow
func NewSyncWorkflow(store Store, transformer Transformer, opts Options) *SyncWorkflow {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	mapper := pathmap.New(path.Clean(opts.DerivedRoot), opts.CopyDir, opts.Specs)

	return &SyncWorkflow{
		store:      store,
		sourceRoot: path.Clean(opts.SourceRoot),
		mapper:     mapper,
		diff:       diff.NewEngine(mapper),
		prune:      prune.NewExecutor(store, logger, opts.DryRun),
		runner:     NewTransformRunner(store, transformer, mapper, opts.Concurrency, opts.Metrics),
		logger:     logger,
		metrics:    opts.Metrics,
		dryRun:     opts.DryRun,
	}
}

// Name returns the workflow name
func (w *SyncWorkflow) Name() string {
	return "SyncWorkflow"
}

// Sync runs directory prune, file prune, empty directory cleanup and
// then the copy and transform units concurrently. The returned summary
// is never nil. The error is non-nil when the source root is missing, a
// tree could not be listed or ctx was cancelled; per-file failures are
// reported in the summary.
func (w *SyncWorkflow) Sync(ctx context.Context) (*pipeline.Summary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	wctx := &WorkflowContext{
		Ctx:    ctx,
		RunID:  uuid.New().String(),
		DryRun: w.dryRun,
		Logger: w.logger,
	}
	summary := &pipeline.Summary{RunID: wctx.RunID, DryRun: w.dryRun}
	start := time.Now()

	wctx.Logf("Starting sync: source=%s derived=%v dry_run=%t", w.sourceRoot, w.mapper.Roots(), w.dryRun)
	err := w.execute(wctx, summary)
	summary.Duration = time.Since(start)

	status := metrics.StatusSuccess
	switch {
	case err != nil:
		status = metrics.StatusFailed
		wctx.Logf("Sync failed: %v", err)
	case summary.Failed():
		status = metrics.StatusPartial
	}
	w.metrics.RunFinished(status, summary.Duration)

	wctx.Logf("Sync %s in %s: copied=%d transformed=%d skipped=%d files_deleted=%d dirs_deleted=%d empty_dirs_removed=%d errors=%d",
		status, summary.Duration.Round(time.Millisecond),
		summary.Copied, summary.Transformed, summary.Skipped,
		summary.FilesDeleted, summary.DirsDeleted, summary.EmptyDirsRemoved, len(summary.Errors))

	return summary, err
}

func (w *SyncWorkflow) execute(wctx *WorkflowContext, summary *pipeline.Summary) error {
	// Step 1: the source root must exist before anything is deleted
	ok, err := w.store.IsDir(w.sourceRoot)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListingFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceMissing, w.sourceRoot)
	}

	// Step 2: drop size directories no spec produces
	removedDirs, err := w.pruneDirectories(wctx, summary)
	if err != nil {
		return err
	}

	// Step 3: snapshot both trees
	snap, err := w.snapshot(wctx)
	if err != nil {
		return err
	}

	// Step 4: drop derived files without a source
	sources := diff.SourceSet(w.sourceRoot, snap.Sources)
	derived := make([]storage.Entry, 0, len(snap.Derived))
	for _, e := range snap.Derived {
		derived = append(derived, e)
	}
	orphans := w.diff.OrphanedFiles(sources, derived)
	wctx.Logf("Diff: %d sources, %d derived, %d orphaned", len(sources), len(derived), len(orphans))
	if n := countTemp(orphans); n > 0 {
		wctx.Logf("Found %d temp files from an interrupted run", n)
	}

	res := w.prune.PruneFiles(wctx.RunID, orphans)
	summary.FilesDeleted += len(res.Removed)
	summary.Errors = append(summary.Errors, res.Errors...)
	for range res.Removed {
		w.metrics.FileDone(pipeline.OpDelete)
	}
	for range res.Errors {
		w.metrics.FileFailed(pipeline.OpDelete)
	}
	for _, p := range res.Removed {
		delete(snap.Derived, p)
	}

	// Step 5: empty directories, once every deletion is done
	removed := append(removedDirs, res.Removed...)
	for _, root := range w.mapper.Roots() {
		res := w.prune.PruneEmptyDirectories(wctx.RunID, root, removed...)
		summary.EmptyDirsRemoved += len(res.Removed)
		summary.Errors = append(summary.Errors, res.Errors...)
		w.metrics.DirsDeleted("empty", len(res.Removed))
	}

	if err := wctx.Ctx.Err(); err != nil {
		return err
	}

	// Step 6: copy and transform, all units concurrently
	report := w.runner.Run(wctx, snap)
	summary.Copied = report.Copied
	summary.Transformed = report.Transformed
	summary.Skipped = report.Skipped
	summary.Errors = append(summary.Errors, report.Errors...)

	return wctx.Ctx.Err()
}

func (w *SyncWorkflow) pruneDirectories(wctx *WorkflowContext, summary *pipeline.Summary) ([]string, error) {
	var existing []string
	for _, root := range w.mapper.AllRoots() {
		dirs, err := w.store.ListDirs(root)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrListingFailed, err)
		}
		existing = append(existing, dirs...)
	}

	orphaned := w.diff.OrphanedDirectories(existing)
	if len(orphaned) > 0 {
		wctx.Logf("Orphaned size directories: %v", orphaned)
	}
	res := w.prune.PruneDirectories(wctx.RunID, orphaned)
	summary.DirsDeleted += len(res.Removed)
	summary.Errors = append(summary.Errors, res.Errors...)
	w.metrics.DirsDeleted("orphaned", len(res.Removed))
	for range res.Errors {
		w.metrics.FileFailed(pipeline.OpDelete)
	}
	return res.Removed, nil
}

func (w *SyncWorkflow) snapshot(wctx *WorkflowContext) (*Snapshot, error) {
	sources, err := w.store.ListFiles(wctx.Ctx, w.sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListingFailed, err)
	}

	derived := make(map[string]storage.Entry)
	for _, root := range w.mapper.Roots() {
		entries, err := w.store.ListFiles(wctx.Ctx, root)
		if err != nil {
			if storage.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%w: %w", ErrListingFailed, err)
		}
		for _, e := range entries {
			derived[e.Path] = e
		}
	}

	return &Snapshot{SourceRoot: w.sourceRoot, Sources: sources, Derived: derived}, nil
}

func countTemp(paths []string) int {
	n := 0
	for _, p := range paths {
		if storage.IsTemp(p) {
			n++
		}
	}
	return n
}
