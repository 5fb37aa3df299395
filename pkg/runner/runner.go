package runner

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-image-sync/internal/config"
	"github.com/tendant/simple-image-sync/internal/dedupe"
	"github.com/tendant/simple-image-sync/internal/executors"
	"github.com/tendant/simple-image-sync/internal/handlers"
	"github.com/tendant/simple-image-sync/internal/metrics"
	"github.com/tendant/simple-image-sync/internal/storage"
	"github.com/tendant/simple-image-sync/internal/watch"
	"github.com/tendant/simple-image-sync/internal/workflows"
	"github.com/tendant/simple-image-sync/pkg/pipeline"
)

// Transformer produces resized variants and optimized copies.
// The default implementation is built on disintegration/imaging.
type Transformer interface {
	Resize(ctx context.Context, r io.Reader, name string, spec pipeline.TransformSpec) ([]byte, error)
	Optimize(ctx context.Context, data []byte, hints pipeline.FormatHints) ([]byte, error)
}

// Config holds the configuration for initializing the image sync runner
type Config struct {
	BaseDir       string                   // Directory the roots are relative to
	SourceRoot    string                   // Original images
	DerivedRoot   string                   // Optimized copies and default home of size directories
	CopyDir       string                   // Optional: subdirectory of DerivedRoot for copies (default: optimized)
	Transforms    []pipeline.TransformSpec // Derived variants
	Concurrency   int                      // Optional: transform units in flight
	WatchDebounce time.Duration            // Optional: quiet period before a watch-triggered run
	DryRun        bool                     // Plan only, write and delete nothing

	Logger      *log.Logger           // Optional: defaults to log.Default()
	Registerer  prometheus.Registerer // Optional: metrics are not collected when nil
	Transformer Transformer           // Optional: defaults to the imaging executor
}

// FromConfig converts a loaded configuration file into a runner Config
func FromConfig(c *config.Config) Config {
	return Config{
		BaseDir:       c.BaseDir,
		SourceRoot:    c.SourceRoot,
		DerivedRoot:   c.DerivedRoot,
		CopyDir:       c.CopyDir,
		Transforms:    c.Transforms,
		Concurrency:   c.Concurrency,
		WatchDebounce: c.WatchDebounce,
	}
}

// Runner provides a high-level API for syncing an image tree
type Runner struct {
	cfg      config.Config
	logger   *log.Logger
	workflow *workflows.SyncWorkflow
}

// New validates cfg and wires storage, transformer, metrics and the sync workflow
func New(cfg Config) (*Runner, error) {
	c := config.Config{
		BaseDir:       cfg.BaseDir,
		SourceRoot:    cfg.SourceRoot,
		DerivedRoot:   cfg.DerivedRoot,
		CopyDir:       cfg.CopyDir,
		Concurrency:   cfg.Concurrency,
		WatchDebounce: cfg.WatchDebounce,
		Transforms:    append([]pipeline.TransformSpec(nil), cfg.Transforms...),
	}
	c.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	store, err := storage.NewFilesystemStorage(c.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open base directory: %w", err)
	}

	var transformer Transformer = executors.NewImageExecutor()
	if cfg.Transformer != nil {
		transformer = cfg.Transformer
	}

	workflow := workflows.NewSyncWorkflow(store, transformer, workflows.Options{
		SourceRoot:  c.SourceRoot,
		DerivedRoot: c.DerivedRoot,
		CopyDir:     c.CopyDir,
		Specs:       c.Transforms,
		Concurrency: c.Concurrency,
		DryRun:      cfg.DryRun,
		Logger:      logger,
		Metrics:     metrics.NewRecorder(cfg.Registerer),
	})

	return &Runner{
		cfg:      c,
		logger:   logger,
		workflow: workflow,
	}, nil
}

// Sync runs one sync pass and returns its summary
func (r *Runner) Sync(ctx context.Context) (*pipeline.Summary, error) {
	return r.workflow.Sync(ctx)
}

// Watch runs an initial sync and then a new one after each burst of
// changes under the source root. Changes seen while a run is in flight
// are folded into a single follow-up run. Watch returns when ctx is done,
// after the run in flight has finished.
func (r *Runner) Watch(ctx context.Context) error {
	root := filepath.Join(r.cfg.BaseDir, filepath.FromSlash(r.cfg.SourceRoot))
	w, err := watch.New(root, r.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	tracker := dedupe.NewTracker(r.runOnce)
	defer tracker.Wait()

	changes := make(chan struct{}, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- w.Run(ctx, func(ev watch.Event) {
			select {
			case changes <- struct{}{}:
			default:
			}
		})
	}()

	r.logger.Printf("✓ Watching %s (debounce %s)", root, r.cfg.WatchDebounce)
	tracker.Record(ctx)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case err := <-errc:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watcher stopped: %w", err)
		case <-changes:
			if timer == nil {
				timer = time.NewTimer(r.cfg.WatchDebounce)
			} else {
				timer.Reset(r.cfg.WatchDebounce)
			}
			fire = timer.C
		case <-fire:
			timer, fire = nil, nil
			if n := tracker.Record(ctx); n > 1 {
				r.logger.Printf("Sync already running, %d triggers queued", n)
			}
		}
	}
}

// Handler returns the HTTP endpoints for triggering runs. metrics may be nil.
func (r *Runner) Handler(metrics http.Handler) http.Handler {
	return handlers.NewMux(handlers.NewSyncHandler(r, r.logger), metrics)
}

func (r *Runner) runOnce(ctx context.Context) {
	if _, err := r.Sync(ctx); err != nil && ctx.Err() == nil {
		r.logger.Printf("Sync failed: %v", err)
	}
}
