package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/reindex"
	"github.com/driftwatch/driftwatch/internal/splitter"
	"github.com/driftwatch/driftwatch/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newWatcher(store storage.Store) *Watcher {
	proc := reindex.New(store, splitter.New(splitter.DefaultPolicy), nil)
	return New(store, proc, nil)
}

func trackFile(t *testing.T, store storage.Store, root, name, content string) *storage.TrackedFile {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	file := &storage.TrackedFile{
		Name:       name,
		SourcePath: name,
		Status:     storage.StatusUploaded,
	}
	require.NoError(t, store.CreateFile(context.Background(), file))
	return file
}

func TestRunOnceProcessesChangedFiles(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	w := newWatcher(store)
	require.NoError(t, w.Start(Options{Interval: time.Hour, SourceRoot: root}))
	defer w.Stop()

	trackFile(t, store, root, "a.md", "alpha content")
	trackFile(t, store, root, "b.md", "beta content")

	run, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 2, run.FilesScanned)
	assert.Equal(t, 2, run.FilesChanged)
	assert.Equal(t, 0, run.ErrorCount)

	stored, err := store.GetWatchRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.FinishedAt)
	assert.Equal(t, 2, stored.FilesScanned)
	assert.Equal(t, 2, stored.FilesChanged)
	assert.Equal(t, ModeFilesystem, stored.Mode)
}

func TestRunOnceUnchangedIsNoop(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	w := newWatcher(store)
	require.NoError(t, w.Start(Options{Interval: time.Hour, SourceRoot: root}))
	defer w.Stop()

	file := trackFile(t, store, root, "a.md", "stable content")

	first, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.FilesChanged)

	second, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.FilesScanned)
	assert.Equal(t, 0, second.FilesChanged)

	// Only the first cycle recorded an event
	events, err := store.ListReindexEventsByFile(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRunOnceDetectsDrift(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	w := newWatcher(store)
	require.NoError(t, w.Start(Options{Interval: time.Hour, SourceRoot: root}))
	defer w.Stop()

	file := trackFile(t, store, root, "a.md", "version one")
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("version two"), 0o644))

	run, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.FilesChanged)

	got, err := store.GetFile(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, "version two", got.OriginalText)

	chunks, err := store.ListChunksByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "version two", chunks[0].Content)
	assert.Equal(t, run.ID, chunks[0].RunID)
}

func TestRunOnceErrorIsolation(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	w := newWatcher(store)
	require.NoError(t, w.Start(Options{Interval: time.Hour, SourceRoot: root}))
	defer w.Stop()

	a := trackFile(t, store, root, "a.md", "first")
	missing := &storage.TrackedFile{Name: "gone.md", SourcePath: "gone.md", Status: storage.StatusUploaded}
	require.NoError(t, store.CreateFile(context.Background(), missing))
	c := trackFile(t, store, root, "c.md", "third")

	run, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, run.FilesScanned)
	assert.GreaterOrEqual(t, run.ErrorCount, 1)
	assert.Equal(t, 2, run.FilesChanged)

	for _, f := range []*storage.TrackedFile{a, c} {
		got, err := store.GetFile(context.Background(), f.ID)
		require.NoError(t, err)
		assert.Equal(t, storage.StatusUploaded, got.Status)
		assert.NotEmpty(t, got.OriginalSHA256)
	}
}

type blockingStore struct {
	storage.Store
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) ListFilesWithSource(ctx context.Context) ([]*storage.TrackedFile, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.ListFilesWithSource(ctx)
}

func TestRunOnceSingleFlight(t *testing.T) {
	store := newTestStore(t)
	blocking := &blockingStore{
		Store:   store,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	proc := reindex.New(blocking, splitter.New(splitter.DefaultPolicy), nil)
	w := New(blocking, proc, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := w.RunOnce(context.Background())
		assert.NoError(t, err)
	}()

	// Wait until the first cycle is mid-flight
	<-blocking.entered

	run, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, run)

	close(blocking.release)
	<-done

	runs, err := store.ListWatchRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, int64(1), w.Stats().CyclesSkipped)
	assert.Equal(t, int64(1), w.Stats().CyclesRun)
}

func TestStartRejectsDatabaseMode(t *testing.T) {
	store := newTestStore(t)
	w := newWatcher(store)

	err := w.Start(Options{Mode: ModeDatabase})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not implemented")
}

func TestStartRestartAndStop(t *testing.T) {
	store := newTestStore(t)
	w := newWatcher(store)

	require.NoError(t, w.Start(Options{Interval: time.Hour, SourceRoot: "/tmp/a"}))
	require.NoError(t, w.Start(Options{Interval: time.Hour, SourceRoot: "/tmp/b"}))
	assert.Equal(t, "/tmp/b", w.Options().SourceRoot)

	w.Stop()
	w.Stop() // second stop is a no-op
}
