package workflows

import (
	"io"
	"path"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tendant/simple-image-sync/internal/metrics"
	"github.com/tendant/simple-image-sync/internal/pathmap"
	"github.com/tendant/simple-image-sync/pkg/pipeline"
	"golang.org/x/sync/errgroup"
)

// TransformReport aggregates the outcome of every transform unit
type TransformReport struct {
	Copied      int
	Transformed int
	Skipped     int
	Errors      []pipeline.FileError
}

func (r *TransformReport) merge(o *TransformReport) {
	r.Copied += o.Copied
	r.Transformed += o.Transformed
	r.Skipped += o.Skipped
	r.Errors = append(r.Errors, o.Errors...)
}

// TransformRunner regenerates missing and stale derived files.
// The copy step and each spec run as independent units of work.
type TransformRunner struct {
	store       Store
	transformer Transformer
	mapper      *pathmap.Mapper
	concurrency int
	metrics     *metrics.Recorder
}

// NewTransformRunner creates a transform runner. concurrency bounds the
// number of units in flight; zero means one per spec plus one for the
// copy step.
func NewTransformRunner(store Store, transformer Transformer, mapper *pathmap.Mapper, concurrency int, rec *metrics.Recorder) *TransformRunner {
	if concurrency <= 0 {
		concurrency = len(mapper.Specs()) + 1
	}
	return &TransformRunner{
		store:       store,
		transformer: transformer,
		mapper:      mapper,
		concurrency: concurrency,
		metrics:     rec,
	}
}

// Run processes every unit against snap and waits for all of them.
// Per-file failures are collected, never returned.
func (r *TransformRunner) Run(wctx *WorkflowContext, snap *Snapshot) *TransformReport {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		report = &TransformReport{}
	)
	g.SetLimit(r.concurrency)

	collect := func(unit *TransformReport) {
		mu.Lock()
		report.merge(unit)
		mu.Unlock()
	}

	g.Go(func() error {
		collect(r.copyUnit(wctx, snap))
		return nil
	})
	for _, spec := range r.mapper.Specs() {
		spec := spec
		g.Go(func() error {
			collect(r.specUnit(wctx, snap, spec))
			return nil
		})
	}
	g.Wait()

	return report
}

// copyUnit writes an optimized copy of every source file
func (r *TransformRunner) copyUnit(wctx *WorkflowContext, snap *Snapshot) *TransformReport {
	unit := &TransformReport{}
	for _, src := range snap.Sources {
		if wctx.Ctx.Err() != nil {
			break
		}
		rel := snap.Rel(src)
		dst := r.mapper.CopyPath(rel)

		state := snap.CheckFreshness(src, dst)
		if state == Fresh {
			unit.Skipped++
			continue
		}
		if wctx.DryRun {
			wctx.Logf("Would copy %s -> %s (%s)", src.Path, dst, state)
			unit.Copied++
			continue
		}

		if err := r.copyFile(wctx, src.Path, dst); err != nil {
			wctx.Logf("Failed to copy %s: %v", src.Path, err)
			unit.Errors = append(unit.Errors, pipeline.FileError{Op: pipeline.OpCopy, Path: dst, Err: err})
			r.metrics.FileFailed(pipeline.OpCopy)
			continue
		}
		unit.Copied++
		r.metrics.FileDone(pipeline.OpCopy)
	}
	wctx.Logf("Copy step done: copied=%d skipped=%d failed=%d", unit.Copied, unit.Skipped, len(unit.Errors))
	return unit
}

func (r *TransformRunner) copyFile(wctx *WorkflowContext, src, dst string) error {
	data, err := r.readAll(src)
	if err != nil {
		return err
	}
	optimized, err := r.optimize(wctx, src, data)
	if err != nil {
		return err
	}
	return r.store.WriteAtomic(dst, optimized)
}

// specUnit writes the resized and optimized variant of every matching
// source file
func (r *TransformRunner) specUnit(wctx *WorkflowContext, snap *Snapshot, spec pipeline.TransformSpec) *TransformReport {
	unit := &TransformReport{}
	for _, src := range snap.Sources {
		if wctx.Ctx.Err() != nil {
			break
		}
		rel := snap.Rel(src)
		if !spec.Selects(rel) {
			continue
		}
		dst := r.mapper.SpecPath(rel, spec)

		state := snap.CheckFreshness(src, dst)
		if state == Fresh {
			unit.Skipped++
			continue
		}
		if wctx.DryRun {
			wctx.Logf("Would transform %s -> %s (%s)", src.Path, dst, state)
			unit.Transformed++
			continue
		}

		if err := r.transformFile(wctx, src.Path, dst, spec); err != nil {
			wctx.Logf("Failed to transform %s for %s: %v", src.Path, spec, err)
			unit.Errors = append(unit.Errors, pipeline.FileError{Op: pipeline.OpTransform, Path: dst, Err: err})
			r.metrics.FileFailed(pipeline.OpTransform)
			continue
		}
		unit.Transformed++
		r.metrics.FileDone(pipeline.OpTransform)
	}
	wctx.Logf("Transform %s done: transformed=%d skipped=%d failed=%d",
		spec, unit.Transformed, unit.Skipped, len(unit.Errors))
	return unit
}

func (r *TransformRunner) transformFile(wctx *WorkflowContext, src, dst string, spec pipeline.TransformSpec) error {
	f, err := r.store.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	out, err := r.transformer.Resize(wctx.Ctx, f, path.Base(src), spec)
	if err != nil {
		return err
	}
	optimized, err := r.optimize(wctx, src, out)
	if err != nil {
		return err
	}
	return r.store.WriteAtomic(dst, optimized)
}

// optimize hands encoded bytes to the transformer with format hints
// taken from the source name and the bytes themselves
func (r *TransformRunner) optimize(wctx *WorkflowContext, src string, data []byte) ([]byte, error) {
	hints := pipeline.FormatHints{
		Name: path.Base(src),
		MIME: mimetype.Detect(data).String(),
	}
	return r.transformer.Optimize(wctx.Ctx, data, hints)
}

func (r *TransformRunner) readAll(p string) ([]byte, error) {
	f, err := r.store.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
