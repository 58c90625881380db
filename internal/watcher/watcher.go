// Package watcher runs the recurring content-drift scan cycle.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/driftwatch/driftwatch/internal/reindex"
	"github.com/driftwatch/driftwatch/internal/storage"
)

// Watch modes. Only filesystem mode is implemented; database mode (reacting
// to store-side changes instead of re-reading sources) is named but rejected
// at Start.
const (
	ModeFilesystem = "filesystem"
	ModeDatabase   = "database"
)

// DefaultInterval is used when Options.Interval is unset.
const DefaultInterval = 5 * time.Minute

// Options configures the recurring scan.
type Options struct {
	Interval   time.Duration
	SourceRoot string
	Mode       string
}

// Stats is a snapshot of the watcher's aggregate counters since process
// start.
type Stats struct {
	CyclesRun     int64
	CyclesSkipped int64
	FilesScanned  int64
	FilesChanged  int64
	Errors        int64
}

// Watcher periodically visits every tracked file with a source locator,
// re-reads it from disk and hands changed content to the reprocessor. A
// capacity-1 semaphore acquired non-blockingly guarantees at most one cycle
// is in flight; overlapping triggers are dropped, not queued.
type Watcher struct {
	store  storage.Store
	proc   *reindex.Reprocessor
	logger *slog.Logger

	guard *semaphore.Weighted

	mu      sync.Mutex
	opts    Options
	stop    chan struct{}
	started bool

	cyclesRun     atomic.Int64
	cyclesSkipped atomic.Int64
	filesScanned  atomic.Int64
	filesChanged  atomic.Int64
	errorCount    atomic.Int64
}

func New(store storage.Store, proc *reindex.Reprocessor, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:  store,
		proc:   proc,
		logger: logger,
		guard:  semaphore.NewWeighted(1),
	}
}

// Start begins (or restarts with fresh options) the recurring scan loop.
func (w *Watcher) Start(opts Options) error {
	if opts.Mode == "" {
		opts.Mode = ModeFilesystem
	}
	if opts.Mode != ModeFilesystem {
		return fmt.Errorf("watch mode %q is not implemented", opts.Mode)
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		close(w.stop)
	}
	w.opts = opts
	w.stop = make(chan struct{})
	w.started = true

	go w.loop(opts, w.stop)

	w.logger.Info("watcher started",
		"interval", opts.Interval, "source_root", opts.SourceRoot, "mode", opts.Mode)
	return nil
}

func (w *Watcher) loop(opts Options, stop <-chan struct{}) {
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.RunOnce(context.Background()); err != nil {
				w.logger.Error("scan cycle failed", "error", err)
			}
		case <-stop:
			return
		}
	}
}

// TriggerNow forces one cycle outside the timer, reusing the last-started
// options. It returns immediately; the cycle runs in the background and is
// dropped if one is already in flight.
func (w *Watcher) TriggerNow() {
	go func() {
		if _, err := w.RunOnce(context.Background()); err != nil {
			w.logger.Error("triggered cycle failed", "error", err)
		}
	}()
}

// Stop halts the timer. An in-flight cycle is not interrupted.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		close(w.stop)
		w.started = false
		w.logger.Info("watcher stopped")
	}
}

// Options returns the last-started options.
func (w *Watcher) Options() Options {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opts
}

// Stats returns a snapshot of the aggregate counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		CyclesRun:     w.cyclesRun.Load(),
		CyclesSkipped: w.cyclesSkipped.Load(),
		FilesScanned:  w.filesScanned.Load(),
		FilesChanged:  w.filesChanged.Load(),
		Errors:        w.errorCount.Load(),
	}
}

// RunOnce executes one full scan cycle. When a cycle is already in flight it
// logs, bumps the skipped counter and returns (nil, nil) without creating a
// run record.
func (w *Watcher) RunOnce(ctx context.Context) (*storage.WatchRun, error) {
	if !w.guard.TryAcquire(1) {
		w.cyclesSkipped.Add(1)
		w.logger.Info("scan cycle already in flight, skipping")
		return nil, nil
	}
	defer w.guard.Release(1)

	w.mu.Lock()
	opts := w.opts
	w.mu.Unlock()
	if opts.Mode == "" {
		opts.Mode = ModeFilesystem
	}

	run, err := w.store.CreateWatchRun(ctx, opts.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to create watch run: %w", err)
	}

	var scanned, changed, errCount int
	defer func() {
		if err := w.store.FinishWatchRun(ctx, run.ID, scanned, changed, errCount); err != nil {
			w.logger.Warn("failed to finalize watch run", "run_id", run.ID, "error", err)
		}
		w.cyclesRun.Add(1)
		w.filesScanned.Add(int64(scanned))
		w.filesChanged.Add(int64(changed))
		w.errorCount.Add(int64(errCount))
		w.logger.Info("scan cycle finished",
			"run_id", run.ID, "scanned", scanned, "changed", changed, "errors", errCount)
	}()

	files, err := w.store.ListFilesWithSource(ctx)
	if err != nil {
		errCount++
		return run, fmt.Errorf("failed to list tracked files: %w", err)
	}

	for _, file := range files {
		scanned++
		resolved := ResolvePath(opts.SourceRoot, file.SourcePath)
		data, err := os.ReadFile(resolved)
		if err != nil {
			errCount++
			w.logger.Warn("source unreadable, skipping file",
				"file_id", file.ID, "path", resolved, "error", err)
			continue
		}

		res, err := w.proc.Reprocess(ctx, file, string(data), run.ID)
		if err != nil {
			errCount++
			continue
		}
		if res.Changed {
			changed++
		}
	}

	run.FilesScanned = scanned
	run.FilesChanged = changed
	run.ErrorCount = errCount
	return run, nil
}
