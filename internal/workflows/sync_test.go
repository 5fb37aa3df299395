package workflows

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-image-sync/internal/storage"
	"github.com/tendant/simple-image-sync/pkg/pipeline"
)

// fakeTransformer records calls and fails for configured file names
type fakeTransformer struct {
	resizes   atomic.Int64
	optimizes atomic.Int64
	failOn    map[string]bool
}

func (f *fakeTransformer) Resize(ctx context.Context, r io.Reader, name string, spec pipeline.TransformSpec) ([]byte, error) {
	f.resizes.Add(1)
	if f.failOn[name] {
		return nil, errors.New("decode failed")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return []byte(spec.SizeDir() + ":" + string(data)), nil
}

func (f *fakeTransformer) Optimize(ctx context.Context, data []byte, hints pipeline.FormatHints) ([]byte, error) {
	f.optimizes.Add(1)
	if f.failOn["optimize:"+hints.Name] {
		return nil, errors.New("optimize failed")
	}
	return data, nil
}

type fixture struct {
	t      *testing.T
	dir    string
	store  *storage.FilesystemStorage
	fake   *fakeTransformer
	specs  []pipeline.TransformSpec
	dryRun bool
}

var spec800 = pipeline.TransformSpec{
	SourceGlob: "**/*", DestRoot: "image-processed", Width: 800, Height: 600, Crop: true, Gravity: pipeline.GravityCenter, Quality: 1,
}

var spec1500 = pipeline.TransformSpec{
	SourceGlob: "**/*", DestRoot: "image-processed", Width: 1500, Height: 844, Crop: true, Gravity: pipeline.GravityCenter, Quality: 1,
}

func newFixture(t *testing.T, specs ...pipeline.TransformSpec) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "image-raw"), 0o755))
	s, err := storage.NewFilesystemStorage(dir)
	require.NoError(t, err)
	return &fixture{t: t, dir: dir, store: s, fake: &fakeTransformer{failOn: map[string]bool{}}, specs: specs}
}

func (f *fixture) workflow() *SyncWorkflow {
	return NewSyncWorkflow(f.store, f.fake, Options{
		SourceRoot:  "image-raw",
		DerivedRoot: "image-processed",
		CopyDir:     "optimized",
		Specs:       f.specs,
		DryRun:      f.dryRun,
		Logger:      log.New(io.Discard, "", 0),
	})
}

func (f *fixture) sync() *pipeline.Summary {
	f.t.Helper()
	summary, err := f.workflow().Sync(context.Background())
	require.NoError(f.t, err)
	return summary
}

func (f *fixture) write(rel string, mtime time.Time) {
	f.t.Helper()
	p := filepath.Join(f.dir, filepath.FromSlash(rel))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.WriteFile(p, []byte(rel), 0o644))
	require.NoError(f.t, os.Chtimes(p, mtime, mtime))
}

func (f *fixture) remove(rel string) {
	f.t.Helper()
	require.NoError(f.t, os.Remove(filepath.Join(f.dir, filepath.FromSlash(rel))))
}

func (f *fixture) mtime(rel string) time.Time {
	f.t.Helper()
	info, err := os.Stat(filepath.Join(f.dir, filepath.FromSlash(rel)))
	require.NoError(f.t, err)
	return info.ModTime()
}

func (f *fixture) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(f.dir, filepath.FromSlash(rel)))
	return err == nil
}

// derivedTree lists every file under image-processed relative to it
func (f *fixture) derivedTree() []string {
	f.t.Helper()
	root := filepath.Join(f.dir, "image-processed")
	var out []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(root, p)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(f.t, err)
	sort.Strings(out)
	return out
}

var past = time.Now().Add(-time.Hour).Truncate(time.Second)

func TestSync_BuildsDerivedTree(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.jpg", past)
	f.write("image-raw/b.png", past)

	summary := f.sync()

	assert.Equal(t, []string{
		"800x600/a.jpg",
		"800x600/b.png",
		"optimized/a.jpg",
		"optimized/b.png",
	}, f.derivedTree())
	assert.Equal(t, 2, summary.Copied)
	assert.Equal(t, 2, summary.Transformed)
	assert.False(t, summary.Failed())
	assert.NotEmpty(t, summary.RunID)
}

func TestSync_Completeness(t *testing.T) {
	f := newFixture(t, spec800, spec1500)
	f.write("image-raw/a.jpg", past)
	f.write("image-raw/trips/2019/b.jpg", past)

	f.sync()

	for _, rel := range []string{"a.jpg", "trips/2019/b.jpg"} {
		src := f.mtime("image-raw/" + rel)
		for _, dir := range []string{"optimized", "800x600", "1500x844"} {
			derived := "image-processed/" + dir + "/" + rel
			require.True(t, f.exists(derived), derived)
			assert.False(t, f.mtime(derived).Before(src), derived)
		}
	}
}

func TestSync_Idempotent(t *testing.T) {
	f := newFixture(t, spec800, spec1500)
	f.write("image-raw/a.jpg", past)
	f.write("image-raw/nested/b.png", past)

	f.sync()
	before := f.derivedTree()
	resizes, optimizes := f.fake.resizes.Load(), f.fake.optimizes.Load()

	second := f.sync()

	assert.Equal(t, 0, second.Writes())
	assert.Equal(t, 0, second.Deletes())
	assert.Equal(t, 6, second.Skipped)
	assert.Equal(t, before, f.derivedTree())
	assert.Equal(t, resizes, f.fake.resizes.Load())
	assert.Equal(t, optimizes, f.fake.optimizes.Load())
}

func TestSync_RemovedSourcePrunesArtifacts(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.jpg", past)
	f.write("image-raw/b.png", past)
	f.sync()

	keep := []string{"image-processed/optimized/a.jpg", "image-processed/800x600/a.jpg"}
	mtimes := map[string]time.Time{}
	for _, p := range keep {
		mtimes[p] = f.mtime(p)
	}

	f.remove("image-raw/b.png")
	summary := f.sync()

	assert.Equal(t, []string{"800x600/a.jpg", "optimized/a.jpg"}, f.derivedTree())
	assert.Equal(t, 2, summary.FilesDeleted)
	assert.Equal(t, 0, summary.Writes())
	for _, p := range keep {
		assert.Equal(t, mtimes[p], f.mtime(p), p)
	}
}

func TestSync_RemovesEmptyDirectoriesAfterPrune(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.jpg", past)
	f.write("image-raw/trips/b.jpg", past)
	f.sync()
	require.True(t, f.exists("image-processed/800x600/trips"))

	f.remove("image-raw/trips/b.jpg")
	summary := f.sync()

	assert.False(t, f.exists("image-processed/800x600/trips"))
	assert.False(t, f.exists("image-processed/optimized/trips"))
	assert.Equal(t, 2, summary.EmptyDirsRemoved)

	third := f.sync()
	assert.Equal(t, 0, third.Deletes())
}

func TestSync_OrphanedSizeDirectory(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.jpg", past)
	f.write("image-processed/1000x0/a.jpg", past)
	f.write("image-processed/1000x0/deep/x.jpg", past)

	summary := f.sync()

	assert.False(t, f.exists("image-processed/1000x0"))
	assert.Equal(t, 1, summary.DirsDeleted)
	assert.Equal(t, []string{"800x600/a.jpg", "optimized/a.jpg"}, f.derivedTree())
}

func TestSync_DroppedSpecRemovesDirectory(t *testing.T) {
	f := newFixture(t, spec800, spec1500)
	f.write("image-raw/a.jpg", past)
	f.sync()
	require.True(t, f.exists("image-processed/1500x844/a.jpg"))

	f.specs = []pipeline.TransformSpec{spec800}
	summary := f.sync()

	assert.False(t, f.exists("image-processed/1500x844"))
	assert.Equal(t, 1, summary.DirsDeleted)
	assert.Equal(t, 0, summary.Writes())
}

func TestSync_StaleDerivedIsRegenerated(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.jpg", past)
	f.write("image-raw/b.jpg", past)
	f.sync()

	f.write("image-raw/a.jpg", time.Now().Add(time.Hour))
	summary := f.sync()

	assert.Equal(t, 1, summary.Copied)
	assert.Equal(t, 1, summary.Transformed)
	assert.Equal(t, 2, summary.Skipped)
}

func TestSync_FailuresAreIsolated(t *testing.T) {
	f := newFixture(t, spec800, spec1500)
	f.write("image-raw/a.jpg", past)
	f.write("image-raw/b.svg", past)
	f.fake.failOn["b.svg"] = true

	summary, err := f.workflow().Sync(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Failed())
	require.Len(t, summary.Errors, 2)
	for _, e := range summary.Errors {
		assert.Equal(t, pipeline.OpTransform, e.Op)
		assert.True(t, strings.HasSuffix(e.Path, "/b.svg"))
	}
	assert.Equal(t, 2, summary.Copied)
	assert.Equal(t, 2, summary.Transformed)
	assert.Equal(t, []string{
		"1500x844/a.jpg",
		"800x600/a.jpg",
		"optimized/a.jpg",
		"optimized/b.svg",
	}, f.derivedTree())
}

func TestSync_CopyFailureReported(t *testing.T) {
	f := newFixture(t)
	f.write("image-raw/a.png", past)
	f.fake.failOn["optimize:a.png"] = true

	summary := f.sync()

	require.Len(t, summary.Errors, 1)
	assert.Equal(t, pipeline.OpCopy, summary.Errors[0].Op)
	assert.Equal(t, "image-processed/optimized/a.png", summary.Errors[0].Path)
	assert.Empty(t, f.derivedTree())
}

func TestSync_SourceGlobFiltersSpec(t *testing.T) {
	top := spec800
	top.SourceGlob = "*.jpg"
	f := newFixture(t, top)
	f.write("image-raw/a.jpg", past)
	f.write("image-raw/b.png", past)
	f.write("image-raw/sub/c.jpg", past)

	f.sync()

	assert.Equal(t, []string{
		"800x600/a.jpg",
		"optimized/a.jpg",
		"optimized/b.png",
		"optimized/sub/c.jpg",
	}, f.derivedTree())
}

func TestSync_MissingSourceRootDeletesNothing(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-processed/800x600/a.jpg", past)
	f.write("image-processed/1000x0/a.jpg", past)
	require.NoError(t, os.RemoveAll(filepath.Join(f.dir, "image-raw")))

	summary, err := f.workflow().Sync(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceMissing)
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Deletes())
	assert.Equal(t, []string{"1000x0/a.jpg", "800x600/a.jpg"}, f.derivedTree())
}

func TestSync_DryRun(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.jpg", past)
	f.write("image-processed/optimized/gone.jpg", past)
	f.write("image-processed/1000x0/a.jpg", past)
	f.dryRun = true

	summary := f.sync()

	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Copied)
	assert.Equal(t, 1, summary.Transformed)
	assert.Equal(t, 1, summary.FilesDeleted)
	assert.Equal(t, 1, summary.DirsDeleted)
	// optimized/ holds only the planned delete, so it would be emptied
	assert.Equal(t, 1, summary.EmptyDirsRemoved)
	assert.Equal(t, []string{"1000x0/a.jpg", "optimized/gone.jpg"}, f.derivedTree())
	assert.Zero(t, f.fake.resizes.Load())
	assert.Zero(t, f.fake.optimizes.Load())
}

func TestSync_CancelledContext(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.jpg", past)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.workflow().Sync(ctx)
	assert.Error(t, err)
	assert.Empty(t, f.derivedTree())
}

func TestSync_OverlappingCallsAreSerialized(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.jpg", past)
	f.write("image-raw/b.jpg", past)
	w := f.workflow()

	var wg sync.WaitGroup
	summaries := make([]*pipeline.Summary, 2)
	for i := range summaries {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := w.Sync(context.Background())
			assert.NoError(t, err)
			summaries[i] = s
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, summaries[0].Writes()+summaries[1].Writes())
	assert.Equal(t, int64(2), f.fake.resizes.Load())
}

func TestSync_RemovesLeftoverTempFiles(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.jpg", past)
	f.write("image-processed/800x600/.imagesync-a.jpg-123", past)

	summary := f.sync()

	assert.Equal(t, 1, summary.FilesDeleted)
	assert.Equal(t, []string{"800x600/a.jpg", "optimized/a.jpg"}, f.derivedTree())
}

func TestSync_OptimizesCopiesAndVariants(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.png", past)

	summary := f.sync()

	assert.Equal(t, 2, summary.Writes())
	assert.Equal(t, int64(1), f.fake.resizes.Load())
	assert.Equal(t, int64(2), f.fake.optimizes.Load())
}

// unlistableStore fails recursive listings of one root
type unlistableStore struct {
	*storage.FilesystemStorage
	root string
}

func (s *unlistableStore) ListFiles(ctx context.Context, root string) ([]storage.Entry, error) {
	if root == s.root {
		return nil, &storage.ListingError{Root: root, Err: fs.ErrPermission}
	}
	return s.FilesystemStorage.ListFiles(ctx, root)
}

func TestSync_DerivedListingFailureAbortsRun(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.jpg", past)
	f.write("image-processed/optimized/gone.jpg", past)

	store := &unlistableStore{FilesystemStorage: f.store, root: "image-processed"}
	w := NewSyncWorkflow(store, f.fake, Options{
		SourceRoot:  "image-raw",
		DerivedRoot: "image-processed",
		CopyDir:     "optimized",
		Specs:       f.specs,
		Logger:      log.New(io.Discard, "", 0),
	})

	summary, err := w.Sync(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrListingFailed)
	assert.ErrorIs(t, err, fs.ErrPermission)
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Writes())
	assert.Equal(t, 0, summary.Deletes())
	assert.Zero(t, f.fake.resizes.Load())
	assert.Zero(t, f.fake.optimizes.Load())
	assert.Equal(t, []string{"optimized/gone.jpg"}, f.derivedTree())
}

func TestSync_NarrowedSourceGlobPrunesVariants(t *testing.T) {
	f := newFixture(t, spec800)
	f.write("image-raw/a.jpg", past)
	f.write("image-raw/heroes/h.jpg", past)
	f.sync()
	require.True(t, f.exists("image-processed/800x600/a.jpg"))

	narrowed := spec800
	narrowed.SourceGlob = "heroes/**"
	f.specs = []pipeline.TransformSpec{narrowed}
	summary := f.sync()

	assert.Equal(t, 1, summary.FilesDeleted)
	assert.Equal(t, 0, summary.Writes())
	assert.Equal(t, []string{
		"800x600/heroes/h.jpg",
		"optimized/a.jpg",
		"optimized/heroes/h.jpg",
	}, f.derivedTree())

	again := f.sync()
	assert.Equal(t, 0, again.Writes()+again.Deletes())
}
